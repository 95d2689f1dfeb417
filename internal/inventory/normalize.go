package inventory

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a name into the key used for name lookups: NFKC,
// collapsed whitespace, case folded.
func NormalizeName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.Join(strings.Fields(name), " ")
	return cases.Fold().String(name)
}

// SameName reports whether two names refer to the same item under NormalizeName.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// Canonical returns the entry of list equal to value ignoring case only.
// Near misses such as a trailing space do not match. The second result is
// false when nothing matches.
func Canonical(value string, list []string) (string, bool) {
	if value == "" {
		return "", false
	}
	key := fold(value)
	for _, entry := range list {
		if fold(entry) == key {
			return entry, true
		}
	}
	return "", false
}

func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}
