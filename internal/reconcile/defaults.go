package reconcile

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zombor/pantry-tracker/internal/inventory"
)

//go:embed defaults.yaml
var builtinDefaults []byte

// ItemDefault holds fallback attributes for an item name
type ItemDefault struct {
	Unit          string `yaml:"unit"`
	Category      string `yaml:"category"`
	ShelfLifeDays *int   `yaml:"shelf_life_days"`
}

// DefaultsLookup resolves fallback attributes by item name
type DefaultsLookup interface {
	Lookup(name string) (ItemDefault, bool)
}

// Defaults is a read-only table of fallback attributes keyed by normalized name
type Defaults struct {
	entries map[string]ItemDefault
}

// LoadDefaults parses a YAML mapping of item name to ItemDefault
func LoadDefaults(r io.Reader) (*Defaults, error) {
	var raw map[string]ItemDefault
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	entries := make(map[string]ItemDefault, len(raw))
	for name, d := range raw {
		entries[inventory.NormalizeName(name)] = d
	}
	return &Defaults{entries: entries}, nil
}

// BuiltinDefaults returns the defaults table compiled into the binary
func BuiltinDefaults() *Defaults {
	d, err := LoadDefaults(strings.NewReader(string(builtinDefaults)))
	if err != nil {
		panic(err)
	}
	return d
}

// LoadDefaultsFile loads a defaults table from path, or the builtin table when path is empty
func LoadDefaultsFile(path string) (*Defaults, error) {
	if path == "" {
		return BuiltinDefaults(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening defaults file: %w", err)
	}
	defer f.Close()
	return LoadDefaults(f)
}

// Lookup finds the defaults for name, falling back to a naive singular form
// ("Apples" -> "apple", "Tomatoes" -> "tomato").
func (d *Defaults) Lookup(name string) (ItemDefault, bool) {
	if d == nil {
		return ItemDefault{}, false
	}
	key := inventory.NormalizeName(name)
	if key == "" {
		return ItemDefault{}, false
	}
	if def, ok := d.entries[key]; ok {
		return def, true
	}
	for _, suffix := range []string{"es", "s"} {
		if trimmed, ok := strings.CutSuffix(key, suffix); ok && trimmed != "" {
			if def, ok := d.entries[trimmed]; ok {
				return def, true
			}
		}
	}
	return ItemDefault{}, false
}

// Len returns the number of entries in the table
func (d *Defaults) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}
