package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// flexNumber accepts both JSON numbers and numeric strings, since models
// occasionally quote quantities
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return nil
	}
	text = strings.Trim(text, `"`)
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		// Unreadable numbers become NaN so callers can tell them from zero
		*f = flexNumber(math.NaN())
		return nil
	}
	*f = flexNumber(v)
	return nil
}

type rawCandidate struct {
	Name                   string      `json:"name"`
	Quantity               flexNumber  `json:"quantity"`
	Unit                   *string     `json:"unit"`
	Category               *string     `json:"category"`
	Confidence             string      `json:"confidence"`
	EstimatedShelfLifeDays *flexNumber `json:"estimated_shelf_life_days"`
}

// ParseCandidates parses the model's JSON reply into candidates. It accepts
// either {"items": [...]} or a bare array, with or without markdown fences.
func ParseCandidates(text string) ([]Candidate, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	var raw []rawCandidate
	switch {
	case arrStart != -1 && (objStart == -1 || arrStart < objStart):
		end := strings.LastIndex(text, "]")
		if end < arrStart {
			return nil, fmt.Errorf("invalid JSON array in response")
		}
		if err := json.Unmarshal([]byte(text[arrStart:end+1]), &raw); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
	case objStart != -1:
		end := strings.LastIndex(text, "}")
		if end < objStart {
			return nil, fmt.Errorf("invalid JSON object in response")
		}
		var envelope struct {
			Items []rawCandidate `json:"items"`
		}
		if err := json.Unmarshal([]byte(text[objStart:end+1]), &envelope); err != nil {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		raw = envelope.Items
	default:
		return nil, fmt.Errorf("no JSON object found in response")
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		name := strings.Join(strings.Fields(r.Name), " ")
		if name == "" {
			continue
		}
		c := Candidate{
			Name:       name,
			Quantity:   float64(r.Quantity),
			Confidence: ParseConfidence(r.Confidence),
		}
		if c.Quantity <= 0 || math.IsNaN(c.Quantity) || math.IsInf(c.Quantity, 0) {
			c.Quantity = 1
		}
		if r.Unit != nil {
			c.Unit = strings.TrimSpace(*r.Unit)
		}
		if r.Category != nil {
			c.Category = strings.TrimSpace(*r.Category)
		}
		// Zero days is a real estimate meaning the item expires today
		if r.EstimatedShelfLifeDays != nil && *r.EstimatedShelfLifeDays >= 0 {
			days := int(math.Round(float64(*r.EstimatedShelfLifeDays)))
			c.EstimatedShelfLifeDays = &days
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
