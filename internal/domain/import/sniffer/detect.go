package sniffer

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
)

// Detection is the outcome of format detection for one upload.
type Detection struct {
	Profile *profile.MappingProfile
	Kind    model.SourceKind
	// HeaderIndex is the 0-based line (tabular) or row (spreadsheet) of
	// the header. It is -1 for PDF text, which has no header.
	HeaderIndex int
	Headers     []string
	Delimiter   rune
	// Score is the number of logical fields matched in the header, or the
	// number of transaction lines matched for PDF text.
	Score int
}

// Detector selects the mapping profile for an upload. It holds no mutable
// state of its own and is safe for concurrent use.
type Detector struct {
	registry *profile.Registry
}

func NewDetector(registry *profile.Registry) *Detector {
	return &Detector{registry: registry}
}

type candidate struct {
	profileIdx int
	line       int
	score      int
	keywords   int
	cells      []string
	delimiter  rune
}

// better orders candidates by matched fields, then keyword hits in the
// preamble, then registry order, then earliest header line.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if c.keywords != o.keywords {
		return c.keywords > o.keywords
	}
	if c.profileIdx != o.profileIdx {
		return c.profileIdx < o.profileIdx
	}
	return c.line < o.line
}

// DetectText handles text uploads. Delimited header rows are tried first;
// when none qualifies the lines are matched against PDF line patterns.
func (d *Detector) DetectText(text, hint string) (*Detection, error) {
	lines := SplitLines(text)

	if p, ok := d.lookupHint(hint); ok {
		if !p.AppliesTo(model.Tabular) && p.AppliesTo(model.PdfText) {
			return d.detectLinesWith(lines, p)
		}
		return d.headerFor(lines, p)
	}

	det, err := d.detectTabular(lines)
	if err == nil {
		return det, nil
	}
	if det, lineErr := d.detectLines(lines); lineErr == nil {
		return det, nil
	}
	return nil, err
}

// DetectPDFText handles text extracted from a PDF statement.
func (d *Detector) DetectPDFText(text, hint string) (*Detection, error) {
	lines := SplitLines(text)
	if p, ok := d.lookupHint(hint); ok {
		if !p.AppliesTo(model.PdfText) {
			return nil, d.unrecognized(model.PdfText, fmt.Sprintf("profile %s has no line pattern for PDF statements", p.SourceID))
		}
		return d.detectLinesWith(lines, p)
	}
	return d.detectLines(lines)
}

// DetectGrid handles a decoded spreadsheet grid rendered to strings.
func (d *Detector) DetectGrid(rows [][]string, hint string) (*Detection, error) {
	if p, ok := d.lookupHint(hint); ok {
		if !p.AppliesTo(model.Spreadsheet) {
			return nil, d.unrecognized(model.Spreadsheet, fmt.Sprintf("profile %s does not read spreadsheets", p.SourceID))
		}
		for i := 0; i < len(rows) && i < headerScanLimit; i++ {
			sets := d.registry.MatchHeaders(rows[i])
			if sets[d.indexOf(p)].Qualifies() {
				return &Detection{Profile: p, Kind: model.Spreadsheet, HeaderIndex: i, Headers: trimCells(rows[i]), Score: len(sets[d.indexOf(p)])}, nil
			}
		}
		return nil, d.unrecognized(model.Spreadsheet, fmt.Sprintf("no header row matches profile %s", p.SourceID))
	}

	keywords := d.keywordHits(flatten(rows))
	var best *candidate
	for i := 0; i < len(rows) && i < headerScanLimit; i++ {
		if c, ok := d.bestForRow(rows[i], i, model.Spreadsheet, keywords); ok && (best == nil || c.better(*best)) {
			best = &c
		}
	}
	if best == nil {
		return nil, d.unrecognized(model.Spreadsheet, "no header row matches a known source")
	}
	return &Detection{
		Profile:     d.registry.Profiles()[best.profileIdx],
		Kind:        model.Spreadsheet,
		HeaderIndex: best.line,
		Headers:     trimCells(best.cells),
		Score:       best.score,
	}, nil
}

func (d *Detector) detectTabular(lines []string) (*Detection, error) {
	keywords := d.keywordHits(strings.Join(head(lines, headerScanLimit), "\n"))

	var best *candidate
	for i := 0; i < len(lines) && i < headerScanLimit; i++ {
		line := cleanLine(lines[i])
		if line == "" {
			continue
		}
		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}
		cells := splitCells(line, delimiter)
		if c, ok := d.bestForRow(cells, i, model.Tabular, keywords); ok {
			c.delimiter = delimiter
			if best == nil || c.better(*best) {
				best = &c
			}
		}
	}
	if best == nil {
		return nil, d.unrecognized(model.Tabular, "no header row matches a known source")
	}
	return &Detection{
		Profile:     d.registry.Profiles()[best.profileIdx],
		Kind:        model.Tabular,
		HeaderIndex: best.line,
		Headers:     best.cells,
		Delimiter:   best.delimiter,
		Score:       best.score,
	}, nil
}

// headerFor finds the header row for a caller-selected profile.
func (d *Detector) headerFor(lines []string, p *profile.MappingProfile) (*Detection, error) {
	idx := d.indexOf(p)
	for i := 0; i < len(lines) && i < headerScanLimit; i++ {
		line := cleanLine(lines[i])
		if line == "" {
			continue
		}
		delimiter := p.DelimiterRune()
		if delimiter == 0 {
			var count int
			if delimiter, count = detectDelimiter(line); count < 1 {
				continue
			}
		}
		cells := splitCells(line, delimiter)
		sets := d.registry.MatchHeaders(cells)
		if sets[idx].Qualifies() {
			return &Detection{Profile: p, Kind: model.Tabular, HeaderIndex: i, Headers: cells, Delimiter: delimiter, Score: len(sets[idx])}, nil
		}
	}
	return nil, d.unrecognized(model.Tabular, fmt.Sprintf("no header row matches profile %s", p.SourceID))
}

func (d *Detector) bestForRow(cells []string, line int, kind model.SourceKind, keywords []int) (candidate, bool) {
	sets := d.registry.MatchHeaders(cells)
	var best candidate
	found := false
	for pi, p := range d.registry.Profiles() {
		if !p.AppliesTo(kind) || !sets[pi].Qualifies() {
			continue
		}
		c := candidate{profileIdx: pi, line: line, score: len(sets[pi]), keywords: keywords[pi], cells: cells}
		if !found || c.better(best) {
			best = c
			found = true
		}
	}
	return best, found
}

func (d *Detector) detectLines(lines []string) (*Detection, error) {
	var best *candidate
	for pi, p := range d.registry.Profiles() {
		re := p.LineRegexp()
		if re == nil || !p.AppliesTo(model.PdfText) {
			continue
		}
		c := candidate{profileIdx: pi, score: countMatches(lines, p)}
		if c.score > 0 && (best == nil || c.better(*best)) {
			best = &c
		}
	}
	if best == nil {
		return nil, d.unrecognized(model.PdfText, "no line matches a known statement layout")
	}
	return &Detection{
		Profile:     d.registry.Profiles()[best.profileIdx],
		Kind:        model.PdfText,
		HeaderIndex: -1,
		Score:       best.score,
	}, nil
}

func (d *Detector) detectLinesWith(lines []string, p *profile.MappingProfile) (*Detection, error) {
	if p.LineRegexp() == nil {
		return nil, d.unrecognized(model.PdfText, fmt.Sprintf("profile %s has no line pattern", p.SourceID))
	}
	return &Detection{Profile: p, Kind: model.PdfText, HeaderIndex: -1, Score: countMatches(lines, p)}, nil
}

func countMatches(lines []string, p *profile.MappingProfile) int {
	re := p.LineRegexp()
	n := 0
	for _, line := range lines {
		if re.MatchString(strings.TrimSpace(line)) {
			n++
		}
	}
	return n
}

func (d *Detector) keywordHits(preamble string) []int {
	preamble = profile.NormalizeHeader(preamble)
	profiles := d.registry.Profiles()
	hits := make([]int, len(profiles))
	for i, p := range profiles {
		for _, kw := range p.Keywords {
			if kw = profile.NormalizeHeader(kw); kw != "" && strings.Contains(preamble, kw) {
				hits[i]++
			}
		}
	}
	return hits
}

func (d *Detector) lookupHint(hint string) (*profile.MappingProfile, bool) {
	if strings.TrimSpace(hint) == "" {
		return nil, false
	}
	return d.registry.Lookup(hint)
}

func (d *Detector) indexOf(p *profile.MappingProfile) int {
	for i, candidate := range d.registry.Profiles() {
		if candidate == p {
			return i
		}
	}
	return -1
}

func (d *Detector) unrecognized(kind model.SourceKind, reason string) error {
	return &model.UnrecognizedFormatError{Kind: kind, Known: d.registry.SourceIDs(), Reason: reason}
}

func trimCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}

func flatten(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i >= headerScanLimit {
			break
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
