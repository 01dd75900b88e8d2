package normalizer

import (
	"html"
	"strings"
)

// NullMatcher reports placeholder cells that mean "no value".
type NullMatcher interface {
	IsNull(v string) bool
}

// NormalizeText cleans an optional text cell. Markup entities are decoded
// and whitespace runs collapse to one space. Blank cells and placeholder
// values come back as nil so callers can tell absent from empty.
func NormalizeText(raw string, nulls NullMatcher) *string {
	s := html.UnescapeString(raw)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil
	}
	if nulls != nil && nulls.IsNull(s) {
		return nil
	}
	return &s
}
