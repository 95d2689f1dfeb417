package reconcile

import (
	"time"

	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/scanning"
)

// Lists are the live category and unit names attributes are matched against
type Lists struct {
	Categories []string
	Units      []string
}

// Attributes are the unit, category and expiry resolved for a candidate
type Attributes struct {
	Unit            string
	Category        string
	Expiry          *time.Time
	ExpiryEstimated bool
}

// ResolveAttributes fills unit, category and expiry for a candidate. Each
// field takes the first non-empty source: the candidate itself, then the
// matched record (unit and category only), then the defaults table. A
// category is only ever one of lists.Categories. Gaps resolve to empty
// values, never errors.
func ResolveAttributes(c scanning.Candidate, existing *inventory.Record, defaults DefaultsLookup, lists Lists, now time.Time) Attributes {
	var def ItemDefault
	if defaults != nil {
		def, _ = defaults.Lookup(c.Name)
	}

	var attrs Attributes

	attrs.Unit = firstNonEmpty(c.Unit, recordUnit(existing), def.Unit)
	if canonical, ok := inventory.Canonical(attrs.Unit, lists.Units); ok {
		attrs.Unit = canonical
	}

	for _, category := range []string{c.Category, recordCategory(existing), def.Category} {
		if canonical, ok := inventory.Canonical(category, lists.Categories); ok {
			attrs.Category = canonical
			break
		}
	}

	switch {
	case c.EstimatedShelfLifeDays != nil && *c.EstimatedShelfLifeDays >= 0:
		attrs.Expiry = expiryAfter(now, *c.EstimatedShelfLifeDays)
		attrs.ExpiryEstimated = true
	case def.ShelfLifeDays != nil && *def.ShelfLifeDays >= 0:
		attrs.Expiry = expiryAfter(now, *def.ShelfLifeDays)
		attrs.ExpiryEstimated = true
	}

	return attrs
}

func expiryAfter(now time.Time, days int) *time.Time {
	t := now.AddDate(0, 0, days)
	return &t
}

func recordUnit(r *inventory.Record) string {
	if r == nil {
		return ""
	}
	return r.Unit
}

func recordCategory(r *inventory.Record) string {
	if r == nil {
		return ""
	}
	return r.Category
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
