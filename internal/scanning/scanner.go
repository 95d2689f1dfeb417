package scanning

import (
	"context"
	"errors"
	"strings"
)

// ErrEncoding marks failures to prepare a photo for the vision model
var ErrEncoding = errors.New("encoding image")

// Confidence is the vision model's certainty about a candidate
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free-form model output onto a Confidence, defaulting to low
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Candidate is one item extracted from a photo
type Candidate struct {
	Name                   string     `json:"name"`
	Quantity               float64    `json:"quantity"`
	Unit                   string     `json:"unit,omitempty"`
	Category               string     `json:"category,omitempty"`
	Confidence             Confidence `json:"confidence"`
	EstimatedShelfLifeDays *int       `json:"estimated_shelf_life_days,omitempty"`
}

// Hint gives the vision model context about where the photo was taken
type Hint struct {
	Area       string
	Categories []string
	SeenNames  []string
}

// Scanner defines the interface for photo scanning operations
type Scanner interface {
	// ScanItems analyzes a receipt or storage-area photo and extracts item candidates
	ScanItems(ctx context.Context, imageData []byte, contentType string, hint Hint) ([]Candidate, error)
	// Close closes the scanner and releases resources
	Close() error
}
