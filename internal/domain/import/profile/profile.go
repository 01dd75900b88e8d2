// Package profile holds the field mapping registry: one MappingProfile per
// statement source, describing its header aliases, date formats and
// defaults. Institutions are added as data, never as code branches.
package profile

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/unicode/norm"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// DirectionValues lists indicator cell values per direction.
type DirectionValues struct {
	Inbound  []string `yaml:"inbound" json:"inbound"`
	Outbound []string `yaml:"outbound" json:"outbound"`
}

// MappingProfile describes how to recognize and read one source format.
// Profiles are immutable once a Registry has been built from them.
type MappingProfile struct {
	SourceID          string                   `yaml:"source_id" json:"source_id"`
	DisplayName       string                   `yaml:"display_name" json:"display_name"`
	Keywords          []string                 `yaml:"keywords" json:"keywords,omitempty"`
	Kind              []string                 `yaml:"kind" json:"kind,omitempty"`
	ColumnMappings    map[model.Field][]string `yaml:"column_mappings" json:"column_mappings,omitempty"`
	DefaultCurrency   string                   `yaml:"default_currency" json:"default_currency"`
	DateFormats       []string                 `yaml:"date_formats" json:"date_formats,omitempty"`
	Delimiter         string                   `yaml:"delimiter" json:"delimiter,omitempty"`
	DecimalSeparator  string                   `yaml:"decimal_separator" json:"decimal_separator,omitempty"`
	LinePattern       string                   `yaml:"line_pattern" json:"line_pattern,omitempty"`
	DirectionValues   DirectionValues          `yaml:"direction_values" json:"direction_values"`
	NullValues        []string                 `yaml:"null_values" json:"null_values,omitempty"`
	Timezone          string                   `yaml:"timezone" json:"timezone,omitempty"`
	CleanCounterparty bool                     `yaml:"clean_counterparty" json:"clean_counterparty,omitempty"`

	kinds    []model.SourceKind
	aliases  map[model.Field][]string
	line     *regexp.Regexp
	location *time.Location
	inbound  map[string]struct{}
	outbound map[string]struct{}
	nulls    map[string]struct{}
}

// NormalizeHeader folds a header cell or alias for comparison: NFKC so that
// full-width punctuation matches ASCII, trimmed and lower-cased.
func NormalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.TrimSpace(s))
}

// compile validates the profile and fills the derived lookup tables.
func (p *MappingProfile) compile() error {
	p.SourceID = strings.TrimSpace(p.SourceID)
	if p.SourceID == "" {
		return fmt.Errorf("profile %q: source_id is required", p.DisplayName)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.SourceID
	}

	p.DefaultCurrency = strings.ToUpper(strings.TrimSpace(p.DefaultCurrency))
	if !money.IsKnownCurrency(p.DefaultCurrency) {
		return fmt.Errorf("profile %s: unknown default_currency %q", p.SourceID, p.DefaultCurrency)
	}

	p.aliases = make(map[model.Field][]string, len(p.ColumnMappings))
	for field, list := range p.ColumnMappings {
		for _, alias := range list {
			if a := NormalizeHeader(alias); a != "" {
				p.aliases[field] = append(p.aliases[field], a)
			}
		}
	}

	if p.LinePattern != "" {
		re, err := regexp.Compile(p.LinePattern)
		if err != nil {
			return fmt.Errorf("profile %s: invalid line_pattern: %w", p.SourceID, err)
		}
		groups := make(map[string]bool)
		for _, name := range re.SubexpNames() {
			if name != "" {
				groups[name] = true
			}
		}
		if !groups[string(model.FieldDate)] || !(groups[string(model.FieldAmount)] || (groups[string(model.FieldDebit)] && groups[string(model.FieldCredit)])) {
			return fmt.Errorf("profile %s: line_pattern must capture date and amount groups", p.SourceID)
		}
		p.line = re
	}

	if len(p.aliases) > 0 {
		_, hasDate := p.aliases[model.FieldDate]
		_, hasAmount := p.aliases[model.FieldAmount]
		_, hasDebit := p.aliases[model.FieldDebit]
		_, hasCredit := p.aliases[model.FieldCredit]
		if !hasDate || !(hasAmount || (hasDebit && hasCredit)) {
			return fmt.Errorf("profile %s: column_mappings must cover date and amount (or debit and credit)", p.SourceID)
		}
	}
	if len(p.aliases) == 0 && p.line == nil {
		return fmt.Errorf("profile %s: needs column_mappings or a line_pattern", p.SourceID)
	}

	p.kinds = nil
	for _, k := range p.Kind {
		kind, err := model.ParseSourceKind(strings.TrimSpace(k))
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.SourceID, err)
		}
		p.kinds = append(p.kinds, kind)
	}
	if len(p.kinds) == 0 {
		if len(p.aliases) > 0 {
			p.kinds = append(p.kinds, model.Tabular, model.Spreadsheet)
		}
		if p.line != nil {
			p.kinds = append(p.kinds, model.PdfText)
		}
	}

	p.location = time.UTC
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return fmt.Errorf("profile %s: invalid timezone: %w", p.SourceID, err)
		}
		p.location = loc
	}

	p.inbound = foldSet(p.DirectionValues.Inbound)
	p.outbound = foldSet(p.DirectionValues.Outbound)
	p.nulls = foldSet(p.NullValues)

	return nil
}

func foldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[NormalizeHeader(v)] = struct{}{}
	}
	return set
}

// AppliesTo reports whether the profile can read the given structural kind.
func (p *MappingProfile) AppliesTo(kind model.SourceKind) bool {
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Kinds returns the structural kinds the profile reads: the declared ones,
// or those implied by its column mappings and line pattern.
func (p *MappingProfile) Kinds() []model.SourceKind {
	return append([]model.SourceKind(nil), p.kinds...)
}

// Aliases returns the normalized header aliases for a field in declared order.
func (p *MappingProfile) Aliases(f model.Field) []string {
	return p.aliases[f]
}

// LineRegexp returns the compiled transaction line pattern, or nil.
func (p *MappingProfile) LineRegexp() *regexp.Regexp {
	return p.line
}

// Location is the zone local times are read in before converting to UTC.
func (p *MappingProfile) Location() *time.Location {
	if p.location == nil {
		return time.UTC
	}
	return p.location
}

// Style returns the configured decimal style, StyleAuto when unset.
func (p *MappingProfile) Style() money.DecimalStyle {
	return money.ParseStyle(p.DecimalSeparator)
}

// DelimiterRune returns the configured delimiter or 0 when it must be detected.
func (p *MappingProfile) DelimiterRune() rune {
	switch p.Delimiter {
	case "":
		return 0
	case "\\t", "tab":
		return '\t'
	default:
		return []rune(p.Delimiter)[0]
	}
}

// IsNull reports whether a cell holds one of the profile's placeholder values.
func (p *MappingProfile) IsNull(v string) bool {
	_, ok := p.nulls[NormalizeHeader(v)]
	return ok
}

// DirectionOf maps an indicator cell to a direction.
func (p *MappingProfile) DirectionOf(indicator string) (model.Direction, bool) {
	v := NormalizeHeader(indicator)
	if _, ok := p.inbound[v]; ok {
		return model.Inbound, true
	}
	if _, ok := p.outbound[v]; ok {
		return model.Outbound, true
	}
	return "", false
}

// HasField reports whether the profile maps a logical field.
func (p *MappingProfile) HasField(f model.Field) bool {
	if len(p.aliases[f]) > 0 {
		return true
	}
	if p.line != nil {
		for _, name := range p.line.SubexpNames() {
			if name == string(f) {
				return true
			}
		}
	}
	return false
}
