package reconcile

import (
	"strings"
	"time"

	"github.com/zombor/pantry-tracker/internal/scanning"
)

// Resolver turns raw candidates into review items
type Resolver struct {
	matcher  *Matcher
	defaults DefaultsLookup
	now      func() time.Time
}

// NewResolver creates a Resolver. A nil now uses time.Now.
func NewResolver(matcher *Matcher, defaults DefaultsLookup, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{matcher: matcher, defaults: defaults, now: now}
}

// Matcher returns the resolver's matcher
func (r *Resolver) Matcher() *Matcher {
	return r.matcher
}

// Resolve matches each candidate, fills its attributes and flags names
// already committed from another area of the tour.
func (r *Resolver) Resolve(candidates []scanning.Candidate, lists Lists, tracker *DedupTracker) []ReviewItem {
	now := r.now()
	items := make([]ReviewItem, 0, len(candidates))
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.Quantity <= 0 {
			c.Quantity = 1
		}
		items = append(items, r.resolveOne(c, lists, tracker, now))
	}
	return items
}

// ResolveManual builds a review item for an item the user typed in
func (r *Resolver) ResolveManual(name, quantity string, lists Lists, tracker *DedupTracker) ReviewItem {
	c := scanning.Candidate{
		Name:       strings.TrimSpace(name),
		Quantity:   ParseQuantity(quantity),
		Confidence: scanning.ConfidenceHigh,
	}
	item := r.resolveOne(c, lists, tracker, r.now())
	if strings.TrimSpace(quantity) != "" {
		item.Quantity = strings.TrimSpace(quantity)
	}
	item.Manual = true
	return item
}

func (r *Resolver) resolveOne(c scanning.Candidate, lists Lists, tracker *DedupTracker, now time.Time) ReviewItem {
	match := r.matcher.Match(c.Name)
	attrs := ResolveAttributes(c, match.Record, r.defaults, lists, now)

	item := ReviewItem{
		Name:             c.Name,
		Quantity:         FormatQuantity(c.Quantity),
		Unit:             attrs.Unit,
		Category:         attrs.Category,
		Confidence:       c.Confidence,
		MatchType:        match.MatchType(),
		MatchedRecordID:  match.RecordID(),
		CandidateRecords: match.Candidates,
		Expiry:           attrs.Expiry,
		ExpiryEstimated:  attrs.ExpiryEstimated,
	}
	if item.Confidence == "" {
		item.Confidence = scanning.ConfidenceLow
	}
	if tracker != nil {
		if area, ok := tracker.Lookup(c.Name); ok {
			item.DupWarning = area
		}
	}
	return item
}
