package reconcile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/pantry-tracker/internal/scanning"
)

// MatchType is the disposition of a review item at commit
type MatchType string

const (
	MatchCreateNew      MatchType = "create_new"
	MatchUpdateExisting MatchType = "update_existing"
	MatchSkip           MatchType = "skip"
)

// ParseMatchType validates a match type name
func ParseMatchType(s string) (MatchType, error) {
	switch mt := MatchType(strings.ToLower(strings.TrimSpace(s))); mt {
	case MatchCreateNew, MatchUpdateExisting, MatchSkip:
		return mt, nil
	default:
		return "", fmt.Errorf("unknown match type: %q", s)
	}
}

// ReviewItem is the editable projection of one candidate
type ReviewItem struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Quantity         string              `json:"quantity"`
	Unit             string              `json:"unit"`
	Category         string              `json:"category"`
	Confidence       scanning.Confidence `json:"confidence"`
	MatchType        MatchType           `json:"match_type"`
	MatchedRecordID  *int64              `json:"matched_record_id,omitempty"`
	CandidateRecords []RecordRef         `json:"candidate_records"`
	Expiry           *time.Time          `json:"expiry,omitempty"`
	ExpiryEstimated  bool                `json:"expiry_estimated"`
	DupWarning       string              `json:"dup_warning,omitempty"`
	Manual           bool                `json:"manual,omitempty"`
}

// Active reports whether the item takes part in a commit
func (i ReviewItem) Active() bool {
	return i.MatchType != MatchSkip
}

func (i ReviewItem) clone() ReviewItem {
	c := i
	if i.MatchedRecordID != nil {
		id := *i.MatchedRecordID
		c.MatchedRecordID = &id
	}
	if i.Expiry != nil {
		e := *i.Expiry
		c.Expiry = &e
	}
	c.CandidateRecords = append([]RecordRef(nil), i.CandidateRecords...)
	return c
}

func (i *ReviewItem) hasCandidate(id int64) bool {
	for _, c := range i.CandidateRecords {
		if c.ID == id {
			return true
		}
	}
	return false
}

// FormatQuantity renders a quantity without trailing zeros
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// ParseQuantity reads a user-typed quantity. Anything that is not a positive
// finite number counts as 1.
func ParseQuantity(s string) float64 {
	q, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return 1
	}
	return q
}

// ItemRef addresses a review item from the UI. A non-empty ID wins; otherwise
// Index is resolved against the list as it is when the command is applied.
type ItemRef struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
}

// Review is the ordered, identity-keyed list of review items. It is owned by
// a single session writer and is not safe for concurrent use.
type Review struct {
	order []string
	items map[string]*ReviewItem
}

// NewReview builds a Review, assigning IDs to items that lack one
func NewReview(items []ReviewItem) *Review {
	r := &Review{items: make(map[string]*ReviewItem, len(items))}
	for _, item := range items {
		r.Append(item)
	}
	return r
}

// Len returns the number of items
func (r *Review) Len() int {
	return len(r.order)
}

// Resolve translates a UI reference into an item ID
func (r *Review) Resolve(ref ItemRef) (string, bool) {
	if ref.ID != "" {
		_, ok := r.items[ref.ID]
		return ref.ID, ok
	}
	if ref.Index < 0 || ref.Index >= len(r.order) {
		return "", false
	}
	return r.order[ref.Index], true
}

// Get returns a copy of the item with id
func (r *Review) Get(id string) (ReviewItem, bool) {
	item, ok := r.items[id]
	if !ok {
		return ReviewItem{}, false
	}
	return item.clone(), true
}

// Items returns copies of all items in display order
func (r *Review) Items() []ReviewItem {
	items := make([]ReviewItem, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, r.items[id].clone())
	}
	return items
}

// Active returns copies of the items that will be committed
func (r *Review) Active() []ReviewItem {
	items := make([]ReviewItem, 0, len(r.order))
	for _, id := range r.order {
		if r.items[id].Active() {
			items = append(items, r.items[id].clone())
		}
	}
	return items
}

// Append adds an item at the end and returns its ID
func (r *Review) Append(item ReviewItem) string {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if _, exists := r.items[item.ID]; !exists {
		r.order = append(r.order, item.ID)
	}
	stored := item.clone()
	r.items[item.ID] = &stored
	return item.ID
}

func (r *Review) update(id string, fn func(*ReviewItem)) bool {
	item, ok := r.items[id]
	if !ok {
		return false
	}
	fn(item)
	return true
}

// SetName changes an item's name. Matching is re-run separately.
func (r *Review) SetName(id, name string) bool {
	return r.update(id, func(i *ReviewItem) { i.Name = name })
}

// SetQuantity stores the quantity exactly as typed
func (r *Review) SetQuantity(id, quantity string) bool {
	return r.update(id, func(i *ReviewItem) { i.Quantity = quantity })
}

// SetUnit changes an item's unit
func (r *Review) SetUnit(id, unit string) bool {
	return r.update(id, func(i *ReviewItem) { i.Unit = unit })
}

// SetCategory changes an item's category
func (r *Review) SetCategory(id, category string) bool {
	return r.update(id, func(i *ReviewItem) { i.Category = category })
}

// SetDupWarning sets the area an item was already committed from
func (r *Review) SetDupWarning(id, area string) bool {
	return r.update(id, func(i *ReviewItem) { i.DupWarning = area })
}

// SetExpiry sets or clears a user-chosen expiry date
func (r *Review) SetExpiry(id string, expiry *time.Time) bool {
	return r.update(id, func(i *ReviewItem) {
		if expiry == nil {
			i.Expiry = nil
		} else {
			e := *expiry
			i.Expiry = &e
		}
		i.ExpiryEstimated = false
	})
}

// SetMatch changes an item's disposition. Updating an existing record needs a
// record from the item's candidate list; without recordID the current match
// or the best candidate is used. Returns false when nothing changed.
func (r *Review) SetMatch(id string, mt MatchType, recordID *int64) bool {
	item, ok := r.items[id]
	if !ok {
		return false
	}

	switch mt {
	case MatchUpdateExisting:
		var target int64
		switch {
		case recordID != nil:
			if !item.hasCandidate(*recordID) {
				return false
			}
			target = *recordID
		case item.MatchedRecordID != nil:
			target = *item.MatchedRecordID
		case len(item.CandidateRecords) > 0:
			target = item.CandidateRecords[0].ID
		default:
			return false
		}
		item.MatchType = MatchUpdateExisting
		item.MatchedRecordID = &target
	case MatchCreateNew, MatchSkip:
		item.MatchType = mt
		item.MatchedRecordID = nil
	default:
		return false
	}
	return true
}

// ApplyMatch refreshes an item from a fresh match of its name. Skipped items
// stay skipped; everything else follows the match, so an item whose record
// no longer matches reverts to create_new.
func (r *Review) ApplyMatch(id string, m Match) bool {
	return r.update(id, func(i *ReviewItem) {
		i.CandidateRecords = append([]RecordRef(nil), m.Candidates...)
		if i.MatchType == MatchSkip {
			return
		}
		i.MatchType = m.MatchType()
		i.MatchedRecordID = m.RecordID()
	})
}

// Remove deletes an item; later items shift up one position
func (r *Review) Remove(id string) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for idx, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:idx], r.order[idx+1:]...)
			break
		}
	}
	return true
}
