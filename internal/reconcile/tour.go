package reconcile

import "sort"

// AreaResult is the committed outcome of one area in a tour
type AreaResult struct {
	AreaID string `json:"area_id"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

// Summary is the end-of-tour view
type Summary struct {
	PerArea    []AreaResult   `json:"per_area"`
	TotalItems int            `json:"total_items"`
	Categories map[string]int `json:"categories"`
}

// Tour accumulates per-area counts and category tallies across a tour
type Tour struct {
	areas      []AreaResult
	categories map[string]int
}

// NewTour creates an empty Tour
func NewTour() *Tour {
	return &Tour{categories: make(map[string]int)}
}

// RecordAreaResult adds an area's committed count and category tally.
// Recording the same area twice adds to its count.
func (t *Tour) RecordAreaResult(areaID, label string, count int, tally map[string]int) {
	found := false
	for i := range t.areas {
		if t.areas[i].AreaID == areaID {
			t.areas[i].Count += count
			found = true
			break
		}
	}
	if !found {
		t.areas = append(t.areas, AreaResult{AreaID: areaID, Label: label, Count: count})
	}
	for category, n := range tally {
		t.categories[category] += n
	}
}

// Summarize returns a copy of the accumulated results
func (t *Tour) Summarize() Summary {
	summary := Summary{
		PerArea:    make([]AreaResult, len(t.areas)),
		Categories: make(map[string]int, len(t.categories)),
	}
	copy(summary.PerArea, t.areas)
	for _, a := range t.areas {
		summary.TotalItems += a.Count
	}
	for category, n := range t.categories {
		summary.Categories[category] = n
	}
	return summary
}

// CategoryNames returns the tallied category names, most frequent first
func (s Summary) CategoryNames() []string {
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.Categories[names[i]] != s.Categories[names[j]] {
			return s.Categories[names[i]] > s.Categories[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Completed reports whether areaID has a recorded result
func (t *Tour) Completed(areaID string) bool {
	for _, a := range t.areas {
		if a.AreaID == areaID {
			return true
		}
	}
	return false
}

// Len returns the number of completed areas
func (t *Tour) Len() int {
	return len(t.areas)
}

// Reset clears all results
func (t *Tour) Reset() {
	t.areas = nil
	t.categories = make(map[string]int)
}
