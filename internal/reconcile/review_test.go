package reconcile

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Review", func() {
	var review *Review

	BeforeEach(func() {
		review = NewReview([]ReviewItem{
			{Name: "Eggs", Quantity: "1", MatchType: MatchUpdateExisting, MatchedRecordID: int64Ptr(7),
				CandidateRecords: []RecordRef{{ID: 7, Name: "Eggs"}, {ID: 9, Name: "Egg Whites"}}},
			{Name: "Milk", Quantity: "2", MatchType: MatchCreateNew},
			{Name: "Bread", Quantity: "1", MatchType: MatchCreateNew},
		})
	})

	idAt := func(index int) string {
		id, ok := review.Resolve(ItemRef{Index: index})
		Expect(ok).To(BeTrue())
		return id
	}

	Describe("Resolve", func() {
		It("assigns a stable ID to every item", func() {
			for _, item := range review.Items() {
				Expect(item.ID).NotTo(BeEmpty())
			}
		})

		It("rejects out of bounds indices", func() {
			_, ok := review.Resolve(ItemRef{Index: 3})
			Expect(ok).To(BeFalse())
			_, ok = review.Resolve(ItemRef{Index: -1})
			Expect(ok).To(BeFalse())
		})

		It("prefers the ID over the index", func() {
			milk := idAt(1)
			id, ok := review.Resolve(ItemRef{Index: 0, ID: milk})
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(milk))
		})

		It("rejects unknown IDs", func() {
			_, ok := review.Resolve(ItemRef{ID: "gone"})
			Expect(ok).To(BeFalse())
		})
	})

	Describe("field edits", func() {
		It("updates the addressed item only", func() {
			id := idAt(1)
			Expect(review.SetName(id, "Oat Milk")).To(BeTrue())
			Expect(review.SetQuantity(id, "1.50")).To(BeTrue())
			Expect(review.SetUnit(id, "l")).To(BeTrue())
			Expect(review.SetCategory(id, "Dairy")).To(BeTrue())

			item, _ := review.Get(id)
			Expect(item.Name).To(Equal("Oat Milk"))
			Expect(item.Quantity).To(Equal("1.50"))
			Expect(item.Unit).To(Equal("l"))
			Expect(item.Category).To(Equal("Dairy"))
			Expect(review.Items()[0].Name).To(Equal("Eggs"))
		})

		It("clears the estimated flag on a manual expiry", func() {
			id := idAt(1)
			estimated := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
			review.Append(ReviewItem{ID: "x", Expiry: &estimated, ExpiryEstimated: true})

			chosen := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			Expect(review.SetExpiry("x", &chosen)).To(BeTrue())
			item, _ := review.Get("x")
			Expect(*item.Expiry).To(Equal(chosen))
			Expect(item.ExpiryEstimated).To(BeFalse())

			Expect(review.SetExpiry(id, nil)).To(BeTrue())
		})

		It("ignores unknown items", func() {
			Expect(review.SetName("gone", "x")).To(BeFalse())
			Expect(review.SetQuantity("gone", "x")).To(BeFalse())
		})

		It("hands out copies", func() {
			item, _ := review.Get(idAt(0))
			*item.MatchedRecordID = 99
			item.CandidateRecords[0].Name = "changed"
			fresh, _ := review.Get(idAt(0))
			Expect(*fresh.MatchedRecordID).To(Equal(int64(7)))
			Expect(fresh.CandidateRecords[0].Name).To(Equal("Eggs"))
		})
	})

	Describe("SetMatch", func() {
		It("skips and clears the matched record", func() {
			id := idAt(0)
			Expect(review.SetMatch(id, MatchSkip, nil)).To(BeTrue())
			item, _ := review.Get(id)
			Expect(item.MatchType).To(Equal(MatchSkip))
			Expect(item.MatchedRecordID).To(BeNil())
			Expect(review.Active()).To(HaveLen(2))
			Expect(review.Items()).To(HaveLen(3))
		})

		It("swaps to another candidate record", func() {
			id := idAt(0)
			Expect(review.SetMatch(id, MatchUpdateExisting, int64Ptr(9))).To(BeTrue())
			item, _ := review.Get(id)
			Expect(*item.MatchedRecordID).To(Equal(int64(9)))
		})

		It("refuses records outside the candidate list", func() {
			id := idAt(0)
			Expect(review.SetMatch(id, MatchUpdateExisting, int64Ptr(42))).To(BeFalse())
			item, _ := review.Get(id)
			Expect(*item.MatchedRecordID).To(Equal(int64(7)))
		})

		It("picks the best candidate when switching back to update", func() {
			id := idAt(0)
			review.SetMatch(id, MatchSkip, nil)
			Expect(review.SetMatch(id, MatchUpdateExisting, nil)).To(BeTrue())
			item, _ := review.Get(id)
			Expect(*item.MatchedRecordID).To(Equal(int64(7)))
		})

		It("cannot update without any candidate", func() {
			id := idAt(1)
			Expect(review.SetMatch(id, MatchUpdateExisting, nil)).To(BeFalse())
			item, _ := review.Get(id)
			Expect(item.MatchType).To(Equal(MatchCreateNew))
		})

		It("rejects unknown match types", func() {
			Expect(review.SetMatch(idAt(1), MatchType("merge"), nil)).To(BeFalse())
		})
	})

	Describe("ApplyMatch", func() {
		It("reverts an unmatched update to create_new", func() {
			id := idAt(0)
			Expect(review.ApplyMatch(id, Match{})).To(BeTrue())
			item, _ := review.Get(id)
			Expect(item.MatchType).To(Equal(MatchCreateNew))
			Expect(item.MatchedRecordID).To(BeNil())
			Expect(item.CandidateRecords).To(BeEmpty())
		})

		It("keeps a skipped item skipped", func() {
			id := idAt(0)
			review.SetMatch(id, MatchSkip, nil)
			review.ApplyMatch(id, Match{Candidates: []RecordRef{{ID: 1}}})
			item, _ := review.Get(id)
			Expect(item.MatchType).To(Equal(MatchSkip))
			Expect(item.CandidateRecords).To(HaveLen(1))
		})
	})

	Describe("Remove", func() {
		It("shifts later items up", func() {
			milk := idAt(1)
			Expect(review.Remove(idAt(0))).To(BeTrue())
			Expect(review.Len()).To(Equal(2))
			Expect(idAt(0)).To(Equal(milk))
		})

		It("ignores unknown items", func() {
			Expect(review.Remove("gone")).To(BeFalse())
			Expect(review.Len()).To(Equal(3))
		})
	})
})

var _ = Describe("quantities", func() {
	It("formats without trailing zeros", func() {
		Expect(FormatQuantity(1)).To(Equal("1"))
		Expect(FormatQuantity(1.5)).To(Equal("1.5"))
	})

	It("parses positive numbers and defaults everything else to 1", func() {
		Expect(ParseQuantity(" 2.25 ")).To(Equal(2.25))
		Expect(ParseQuantity("0")).To(Equal(1.0))
		Expect(ParseQuantity("-3")).To(Equal(1.0))
		Expect(ParseQuantity("a few")).To(Equal(1.0))
		Expect(ParseQuantity("NaN")).To(Equal(1.0))
	})

	It("parses match types", func() {
		mt, err := ParseMatchType(" SKIP ")
		Expect(err).NotTo(HaveOccurred())
		Expect(mt).To(Equal(MatchSkip))
		_, err = ParseMatchType("merge")
		Expect(err).To(MatchError(`unknown match type: "merge"`))
	})
})
