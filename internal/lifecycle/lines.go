package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// catalog is the fixed set of tube line identifiers accepted by the upstream feed.
var catalog = map[string]struct{}{
	"bakerloo":         {},
	"central":          {},
	"circle":           {},
	"district":         {},
	"hammersmith-city": {},
	"jubilee":          {},
	"metropolitan":     {},
	"northern":         {},
	"piccadilly":       {},
	"victoria":         {},
	"waterloo-city":    {},
}

// Catalog returns the valid line identifiers, sorted.
func Catalog() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeLines cleans a comma separated list of line ids.
//
// Tokens are trimmed and lower-cased, empty tokens are dropped, order and
// duplicates are kept. Unknown ids are all reported in one ValidationError.
func NormalizeLines(raw string) (string, error) {
	parts := strings.Split(raw, ",")
	cleaned := make([]string, 0, len(parts))
	var invalid []string
	for _, p := range parts {
		tok := strings.ToLower(strings.TrimSpace(p))
		if tok == "" {
			continue
		}
		if _, ok := catalog[tok]; !ok {
			invalid = append(invalid, tok)
		}
		cleaned = append(cleaned, tok)
	}
	if len(cleaned) == 0 {
		return "", &ValidationError{Field: "lines", Msg: "at least one line id is required"}
	}
	if len(invalid) > 0 {
		return "", &ValidationError{
			Field:   "lines",
			Invalid: invalid,
			Msg: fmt.Sprintf("Invalid line id(s): %s. Valid tube lines: %s",
				strings.Join(invalid, ", "), strings.Join(Catalog(), ", ")),
		}
	}
	return strings.Join(cleaned, ","), nil
}
