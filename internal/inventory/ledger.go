package inventory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StockEntry describes stock being added to the ledger by name
type StockEntry struct {
	Name     string
	Quantity float64
	Unit     string
	Category string
	Expiry   *time.Time
}

// Ledger serializes the find-or-create path over a Store. Every caller that
// may create a record by name goes through the same mutex, so two callers
// can never both conclude that a name is missing and insert it twice.
type Ledger struct {
	mu    sync.Mutex
	store Store
}

// NewLedger creates a Ledger over store
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Store returns the underlying record store
func (l *Ledger) Store() Store {
	return l.store
}

// AddByName increments the record named entry.Name, or inserts a new record
// when none exists. A non-nil purchase is appended in the same write. It
// returns the record ID and whether it was created.
func (l *Ledger) AddByName(entry StockEntry, purchase *Purchase) (int64, bool, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return 0, false, fmt.Errorf("entry name is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.store.FindByName(name)
	switch {
	case err == nil:
		if err := l.increment(existing.ID, entry.Quantity, entry.Expiry, purchase); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	case errors.Is(err, ErrNotFound):
		id, err := l.store.InsertWithPurchase(&Record{
			Name:     name,
			Quantity: entry.Quantity,
			Unit:     entry.Unit,
			Category: entry.Category,
			Expiry:   entry.Expiry,
		}, purchase)
		if err != nil {
			return 0, false, fmt.Errorf("inserting record: %w", err)
		}
		return id, true, nil
	default:
		return 0, false, fmt.Errorf("finding record %q: %w", name, err)
	}
}

// Increment adds delta to an existing record, optionally replacing its expiry
// and appending purchase, as a single write
func (l *Ledger) Increment(id int64, delta float64, expiry *time.Time, purchase *Purchase) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.increment(id, delta, expiry, purchase)
}

func (l *Ledger) increment(id int64, delta float64, expiry *time.Time, purchase *Purchase) error {
	if err := l.store.Restock(id, delta, expiry, purchase); err != nil {
		return fmt.Errorf("restocking record %d: %w", id, err)
	}
	return nil
}
