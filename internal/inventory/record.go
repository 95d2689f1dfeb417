package inventory

import "time"

// Record is a single inventory/shopping ledger entry
type Record struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Quantity  float64    `json:"quantity"`
	Unit      string     `json:"unit,omitempty"`
	Category  string     `json:"category,omitempty"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Purchase is a purchase-history entry appended whenever stock is added to a record
type Purchase struct {
	ID       int64     `json:"id"`
	RecordID int64     `json:"record_id"`
	Quantity float64   `json:"quantity"`
	Date     time.Time `json:"date"`
	Note     string    `json:"note,omitempty"`
}
