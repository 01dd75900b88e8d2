// Package extractor walks a detected upload and yields raw rows: one
// field-name to raw-value mapping per statement line, plus structural
// warnings for rows that do not line up with the header.
package extractor

import (
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
)

// MessageColumnMismatch is the warning text for rows whose shape differs
// from the header.
const MessageColumnMismatch = "column count mismatch"

// minFuzzyAlias is the shortest alias allowed to match fuzzily.
const minFuzzyAlias = 4

// RawRow is one extracted statement row. It is built per row and handed
// straight to the draft builder.
type RawRow struct {
	// Index is the 1-based data row ordinal.
	Index int
	// Line is the 1-based source line (text) or sheet row (spreadsheet).
	Line    int
	Headers []string
	Values  map[string]string
	// Fields holds the raw value of every logical field the profile maps.
	Fields  map[model.Field]string
	Profile *profile.MappingProfile
}

// Field returns the trimmed raw value of a logical field.
func (r RawRow) Field(f model.Field) string {
	return strings.TrimSpace(r.Fields[f])
}

// Extraction is what an extractor hands to the builder.
type Extraction struct {
	Rows     []RawRow
	Warnings []model.ParseWarning
}

func (e *Extraction) mismatch(index, line int) {
	e.Warnings = append(e.Warnings, model.ParseWarning{
		RowIndex: index,
		Line:     line,
		Message:  MessageColumnMismatch,
	})
}

// ColumnPlan maps logical fields to header columns. Each column is claimed
// by at most one field.
type ColumnPlan struct {
	columns map[model.Field]int
}

type matchTier func(header, alias string) bool

var tiers = []matchTier{
	func(header, alias string) bool { return header == alias },
	func(header, alias string) bool { return strings.Contains(header, alias) },
	func(header, alias string) bool {
		return utf8.RuneCountInString(alias) >= minFuzzyAlias && fuzzy.MatchNormalizedFold(alias, header)
	},
}

// NewColumnPlan resolves the profile's aliases against a header row. Exact
// matches are claimed first, then substring matches, then fuzzy ones; within
// a tier fields claim in priority order and aliases in declared order.
func NewColumnPlan(headers []string, p *profile.MappingProfile) ColumnPlan {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = profile.NormalizeHeader(h)
	}

	plan := ColumnPlan{columns: make(map[model.Field]int)}
	claimed := make([]bool, len(headers))

	for _, matches := range tiers {
		for _, field := range model.Fields {
			if _, done := plan.columns[field]; done {
				continue
			}
		aliases:
			for _, alias := range p.Aliases(field) {
				for col, header := range normalized {
					if claimed[col] || header == "" {
						continue
					}
					if matches(header, alias) {
						plan.columns[field] = col
						claimed[col] = true
						break aliases
					}
				}
			}
		}
	}
	return plan
}

// Column returns the column a field resolved to.
func (c ColumnPlan) Column(f model.Field) (int, bool) {
	col, ok := c.columns[f]
	return col, ok
}

// Len is the number of resolved fields.
func (c ColumnPlan) Len() int {
	return len(c.columns)
}

// Resolve picks the logical field values out of a positional row.
func (c ColumnPlan) Resolve(cells []string) map[model.Field]string {
	fields := make(map[model.Field]string, len(c.columns))
	for field, col := range c.columns {
		if col < len(cells) {
			fields[field] = cells[col]
		}
	}
	return fields
}

func newRawRow(index, line int, headers, cells []string, plan ColumnPlan, p *profile.MappingProfile) RawRow {
	values := make(map[string]string, len(headers))
	for i, h := range headers {
		if h == "" || i >= len(cells) {
			continue
		}
		if _, dup := values[h]; !dup {
			values[h] = cells[i]
		}
	}
	return RawRow{
		Index:   index,
		Line:    line,
		Headers: headers,
		Values:  values,
		Fields:  plan.Resolve(cells),
		Profile: p,
	}
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
