package inventory

import (
	"errors"
	"math"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// failingFindStore wraps a Store and fails FindByName with a fixed error
type failingFindStore struct {
	Store
	findErr error
}

func (f *failingFindStore) FindByName(name string) (*Record, error) {
	return nil, f.findErr
}

var _ = Describe("Ledger", func() {
	var (
		db     *BoltDB
		ledger *Ledger
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		ledger = NewLedger(db)
	})

	AfterEach(func() {
		db.Close()
	})

	Describe("AddByName", func() {
		When("no record has the name", func() {
			It("inserts a new record", func() {
				expiry := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
				id, created, err := ledger.AddByName(StockEntry{Name: "Milk", Quantity: 2, Unit: "l", Category: "Dairy", Expiry: &expiry}, &Purchase{Quantity: 2, Date: expiry, Note: "Fridge"})
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeTrue())

				purchases, err := db.ListPurchases(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(purchases).To(HaveLen(1))
				Expect(purchases[0].Note).To(Equal("Fridge"))

				record, err := db.GetByID(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(record.Quantity).To(Equal(2.0))
				Expect(record.Unit).To(Equal("l"))
				Expect(record.Category).To(Equal("Dairy"))
				Expect(record.Expiry.Equal(expiry)).To(BeTrue())
			})
		})

		When("a record with the same name exists", func() {
			var existing int64

			BeforeEach(func() {
				var err error
				existing, err = db.Insert(&Record{Name: "Milk", Quantity: 1})
				Expect(err).NotTo(HaveOccurred())
			})

			It("increments the existing record", func() {
				id, created, err := ledger.AddByName(StockEntry{Name: "milk ", Quantity: 3}, &Purchase{Quantity: 3})
				Expect(err).NotTo(HaveOccurred())
				Expect(created).To(BeFalse())
				Expect(id).To(Equal(existing))

				record, err := db.GetByID(existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(record.Quantity).To(Equal(4.0))
				purchases, err := db.ListPurchases(existing)
				Expect(err).NotTo(HaveOccurred())
				Expect(purchases).To(HaveLen(1))
				Expect(purchases[0].Quantity).To(Equal(3.0))
			})
		})

		When("called concurrently for one name", func() {
			It("creates exactly one record", func() {
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						_, _, err := ledger.AddByName(StockEntry{Name: "Bananas", Quantity: 1}, nil)
						Expect(err).NotTo(HaveOccurred())
					}()
				}
				wg.Wait()

				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].Quantity).To(Equal(20.0))
			})
		})

		When("the name is blank", func() {
			It("returns the error", func() {
				_, _, err := ledger.AddByName(StockEntry{Name: " "}, nil)
				Expect(err).To(MatchError("entry name is required"))
			})
		})

		When("the lookup fails", func() {
			It("returns the error without inserting", func() {
				setupErr := errors.New("disk on fire")
				ledger = NewLedger(&failingFindStore{Store: db, findErr: setupErr})
				_, _, err := ledger.AddByName(StockEntry{Name: "Milk", Quantity: 1}, nil)
				Expect(err).To(MatchError(setupErr))

				records, listErr := db.ListRecords()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("Increment", func() {
		It("adds the delta and replaces the expiry", func() {
			id, err := db.Insert(&Record{Name: "Eggs", Quantity: 6})
			Expect(err).NotTo(HaveOccurred())
			expiry := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

			Expect(ledger.Increment(id, 3, &expiry, nil)).To(Succeed())

			record, err := db.GetByID(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Quantity).To(Equal(9.0))
			Expect(record.Expiry.Equal(expiry)).To(BeTrue())
		})

		It("leaves the record untouched when the purchase cannot be saved", func() {
			id, err := db.Insert(&Record{Name: "Eggs", Quantity: 6})
			Expect(err).NotTo(HaveOccurred())

			err = ledger.Increment(id, 3, nil, &Purchase{Quantity: math.NaN()})
			Expect(err).To(MatchError(ContainSubstring("restocking record")))

			record, err := db.GetByID(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Quantity).To(Equal(6.0))
		})

		It("returns ErrNotFound for unknown records", func() {
			Expect(errors.Is(ledger.Increment(42, 1, nil, nil), ErrNotFound)).To(BeTrue())
		})
	})
})
