package reconcile

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/inventory"
)

const maxCandidateRecords = 5

// RecordFinder is the read side of the record store used for matching
type RecordFinder interface {
	FindByName(name string) (*inventory.Record, error)
	SearchByName(name string, limit int) ([]*inventory.Record, error)
}

// RecordRef is an existing record offered as a match for a review item
type RecordRef struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit,omitempty"`
}

func refOf(r *inventory.Record) RecordRef {
	return RecordRef{ID: r.ID, Name: r.Name, Quantity: r.Quantity, Unit: r.Unit}
}

// Match is the outcome of resolving a name against the record store
type Match struct {
	// Record is the single best match, nil when nothing matched
	Record *inventory.Record
	// Candidates ranks plausible records, best match first
	Candidates []RecordRef
}

// MatchType is the disposition implied by the match
func (m Match) MatchType() MatchType {
	if m.Record != nil {
		return MatchUpdateExisting
	}
	return MatchCreateNew
}

// RecordID returns the matched record ID, or nil when unmatched
func (m Match) RecordID() *int64 {
	if m.Record == nil {
		return nil
	}
	id := m.Record.ID
	return &id
}

// Matcher resolves candidate names against the record store
type Matcher struct {
	finder RecordFinder
	logger *zap.Logger
}

// NewMatcher creates a Matcher over finder
func NewMatcher(finder RecordFinder, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{finder: finder, logger: logger}
}

// Match looks name up case- and whitespace-insensitively. Store failures are
// logged and treated as no match.
func (m *Matcher) Match(name string) Match {
	name = strings.TrimSpace(name)
	if name == "" {
		return Match{}
	}

	var match Match
	record, err := m.finder.FindByName(name)
	switch {
	case err == nil:
		match.Record = record
		match.Candidates = append(match.Candidates, refOf(record))
	case errors.Is(err, inventory.ErrNotFound):
	default:
		m.logger.Warn("record lookup failed", zap.String("name", name), zap.Error(err))
	}

	similar, err := m.finder.SearchByName(name, maxCandidateRecords)
	if err != nil {
		m.logger.Warn("record search failed", zap.String("name", name), zap.Error(err))
		return match
	}
	for _, r := range similar {
		if len(match.Candidates) >= maxCandidateRecords {
			break
		}
		if match.Record != nil && r.ID == match.Record.ID {
			continue
		}
		match.Candidates = append(match.Candidates, refOf(r))
	}
	return match
}
