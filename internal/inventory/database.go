package inventory

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	recordsBucket    = "records"
	namesBucket      = "names"
	purchasesBucket  = "purchases"
	categoriesBucket = "categories"
	unitsBucket      = "units"
)

var (
	// ErrNotFound is returned when a record lookup has no result
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when inserting a record whose normalized name is taken
	ErrDuplicateName = errors.New("duplicate record name")
)

// Store defines the record store operations the reconciliation pipeline consumes
type Store interface {
	// FindByName returns the record whose normalized name equals name
	FindByName(name string) (*Record, error)

	// SearchByName returns records ranked by how closely their name matches
	SearchByName(name string, limit int) ([]*Record, error)

	// GetByID retrieves a record by ID
	GetByID(id int64) (*Record, error)

	// ListRecords returns all records
	ListRecords() ([]*Record, error)

	// InsertWithPurchase saves a new record and, when purchase is set, its
	// first purchase-history entry in the same transaction
	InsertWithPurchase(record *Record, purchase *Purchase) (int64, error)

	// Restock adds delta to a record's quantity, replaces its expiry when
	// expiry is set and appends purchase when set, all in one transaction
	Restock(id int64, delta float64, expiry *time.Time, purchase *Purchase) error

	// ListPurchases returns the purchase history of a record, oldest first
	ListPurchases(id int64) ([]*Purchase, error)

	// ListCategories returns the live category names
	ListCategories() ([]string, error)

	// SaveCategory adds a category name to the live list
	SaveCategory(name string) error

	// ListUnits returns the live unit names
	ListUnits() ([]string, error)

	// SaveUnit adds a unit name to the live list
	SaveUnit(name string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the Store interface using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{recordsBucket, namesBucket, purchasesBucket, categoriesBucket, unitsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func getRecord(tx *bbolt.Tx, id int64) (*Record, error) {
	data := tx.Bucket([]byte(recordsBucket)).Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &record, nil
}

func putRecord(tx *bbolt.Tx, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return tx.Bucket([]byte(recordsBucket)).Put(itob(record.ID), data)
}

// FindByName returns the record whose normalized name equals name
func (b *BoltDB) FindByName(name string) (*Record, error) {
	key := NormalizeName(name)
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(namesBucket)).Get([]byte(key))
		if id == nil {
			return fmt.Errorf("record %q: %w", name, ErrNotFound)
		}
		var err error
		record, err = getRecord(tx, btoi(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SearchByName ranks records by name: exact matches first, then prefix
// matches, then records whose name contains the query or is contained in it.
func (b *BoltDB) SearchByName(name string, limit int) ([]*Record, error) {
	query := NormalizeName(name)
	if query == "" {
		return nil, nil
	}

	type scored struct {
		record *Record
		rank   int
	}
	var hits []scored
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			key := NormalizeName(record.Name)
			rank := -1
			switch {
			case key == query:
				rank = 0
			case strings.HasPrefix(key, query):
				rank = 1
			case strings.Contains(key, query):
				rank = 2
			case strings.Contains(query, key):
				rank = 3
			}
			if rank >= 0 {
				hits = append(hits, scored{record: &record, rank: rank})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].record.ID < hits[j].record.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	records := make([]*Record, 0, len(hits))
	for _, h := range hits {
		records = append(records, h.record)
	}
	return records, nil
}

// GetByID retrieves a record by ID
func (b *BoltDB) GetByID(id int64) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getRecord(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns all records
func (b *BoltDB) ListRecords() ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Insert saves a new record and returns its ID
func (b *BoltDB) Insert(record *Record) (int64, error) {
	return b.InsertWithPurchase(record, nil)
}

// InsertWithPurchase saves a new record and its first purchase atomically
func (b *BoltDB) InsertWithPurchase(record *Record, purchase *Purchase) (int64, error) {
	key := NormalizeName(record.Name)
	if key == "" {
		return 0, fmt.Errorf("record name is required")
	}

	var id int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket([]byte(namesBucket))
		if names.Get([]byte(key)) != nil {
			return fmt.Errorf("inserting %q: %w", record.Name, ErrDuplicateName)
		}

		seq, err := tx.Bucket([]byte(recordsBucket)).NextSequence()
		if err != nil {
			return fmt.Errorf("allocating record id: %w", err)
		}
		now := b.now()
		saved := *record
		saved.ID = int64(seq)
		if saved.CreatedAt.IsZero() {
			saved.CreatedAt = now
		}
		saved.UpdatedAt = now
		if err := putRecord(tx, &saved); err != nil {
			return err
		}
		if err := names.Put([]byte(key), itob(saved.ID)); err != nil {
			return err
		}
		if purchase != nil {
			if err := putPurchase(tx, saved.ID, purchase); err != nil {
				return err
			}
		}
		id = saved.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	record.ID = id
	return id, nil
}

// Restock adds delta to a record's quantity, never dropping below zero,
// optionally replaces its expiry and appends a purchase. Nothing is written
// unless every step succeeds.
func (b *BoltDB) Restock(id int64, delta float64, expiry *time.Time, purchase *Purchase) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		record, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		record.Quantity += delta
		if record.Quantity < 0 {
			record.Quantity = 0
		}
		if expiry != nil {
			d := *expiry
			record.Expiry = &d
		}
		record.UpdatedAt = b.now()
		if err := putRecord(tx, record); err != nil {
			return err
		}
		if purchase != nil {
			return putPurchase(tx, id, purchase)
		}
		return nil
	})
}

func putPurchase(tx *bbolt.Tx, recordID int64, purchase *Purchase) error {
	bucket := tx.Bucket([]byte(purchasesBucket))
	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("allocating purchase id: %w", err)
	}
	saved := *purchase
	saved.ID = int64(seq)
	saved.RecordID = recordID
	data, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("marshaling purchase: %w", err)
	}
	if err := bucket.Put(itob(saved.ID), data); err != nil {
		return fmt.Errorf("saving purchase: %w", err)
	}
	return nil
}

// ListPurchases returns the purchase history of a record, oldest first
func (b *BoltDB) ListPurchases(id int64) ([]*Purchase, error) {
	purchases := make([]*Purchase, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(purchasesBucket)).ForEach(func(k, v []byte) error {
			var purchase Purchase
			if err := json.Unmarshal(v, &purchase); err != nil {
				return fmt.Errorf("unmarshaling purchase: %w", err)
			}
			if purchase.RecordID == id {
				purchases = append(purchases, &purchase)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return purchases, nil
}

func (b *BoltDB) listNames(bucketName string) ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			names = append(names, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (b *BoltDB) saveName(bucketName, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s name is required", strings.TrimSuffix(bucketName, "s"))
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(NormalizeName(name)), []byte(name))
	})
}

// ListCategories returns the live category names, sorted
func (b *BoltDB) ListCategories() ([]string, error) {
	return b.listNames(categoriesBucket)
}

// SaveCategory adds a category name to the live list
func (b *BoltDB) SaveCategory(name string) error {
	return b.saveName(categoriesBucket, name)
}

// ListUnits returns the live unit names, sorted
func (b *BoltDB) ListUnits() ([]string, error) {
	return b.listNames(unitsBucket)
}

// SaveUnit adds a unit name to the live list
func (b *BoltDB) SaveUnit(name string) error {
	return b.saveName(unitsBucket, name)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
