package reconcile

import "github.com/zombor/pantry-tracker/internal/inventory"

type dedupEntry struct {
	key  string
	name string
	area string
}

// DedupTracker remembers which area each committed item name came from
// during a tour. It is owned by a single session and is not safe for
// concurrent use.
type DedupTracker struct {
	entries []dedupEntry
}

// NewDedupTracker creates an empty tracker
func NewDedupTracker() *DedupTracker {
	return &DedupTracker{}
}

// Register records that name was committed from area
func (d *DedupTracker) Register(name, area string) {
	key := inventory.NormalizeName(name)
	if key == "" {
		return
	}
	d.entries = append(d.entries, dedupEntry{key: key, name: name, area: area})
}

// Lookup returns the area of the first registration of name
func (d *DedupTracker) Lookup(name string) (string, bool) {
	key := inventory.NormalizeName(name)
	if key == "" {
		return "", false
	}
	for _, e := range d.entries {
		if e.key == key {
			return e.area, true
		}
	}
	return "", false
}

// Names returns the distinct registered names in registration order
func (d *DedupTracker) Names() []string {
	seen := make(map[string]struct{}, len(d.entries))
	names := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		if _, ok := seen[e.key]; ok {
			continue
		}
		seen[e.key] = struct{}{}
		names = append(names, e.name)
	}
	return names
}

// Len returns the number of registrations
func (d *DedupTracker) Len() int {
	return len(d.entries)
}

// Reset forgets every registration
func (d *DedupTracker) Reset() {
	d.entries = nil
}

// Clone returns an independent copy for use off the owning goroutine
func (d *DedupTracker) Clone() *DedupTracker {
	return &DedupTracker{entries: append([]dedupEntry(nil), d.entries...)}
}
