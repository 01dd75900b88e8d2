package extractor

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/sniffer"
)

// CellKind is the type a workbook cell arrives with.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellDate
	CellBool
)

// numberPrecision trims binary float noise from stored workbook numbers.
const numberPrecision = 10

// Cell is one decoded workbook cell.
type Cell struct {
	Kind   CellKind
	Text   string
	Number decimal.Decimal
	Time   time.Time
	Bool   bool
}

func TextCell(s string) Cell {
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

func NumberCell(d decimal.Decimal) Cell {
	return Cell{Kind: CellNumber, Number: d}
}

func DateCell(t time.Time) Cell {
	return Cell{Kind: CellDate, Time: t}
}

func BoolCell(b bool) Cell {
	return Cell{Kind: CellBool, Bool: b}
}

// String renders the cell in the canonical form the normalizers read:
// plain decimal numbers, ISO dates and lower-case booleans.
func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return c.Text
	case CellNumber:
		return c.Number.Round(numberPrecision).String()
	case CellDate:
		t := c.Time
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02T15:04:05")
	case CellBool:
		return strconv.FormatBool(c.Bool)
	default:
		return ""
	}
}

// Grid is the decoded content of one worksheet.
type Grid struct {
	Sheet string
	Rows  [][]Cell
}

// Strings renders every cell in canonical string form.
func (g *Grid) Strings() [][]string {
	out := make([][]string, len(g.Rows))
	for i, row := range g.Rows {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = c.String()
		}
		out[i] = cells
	}
	return out
}

// Spreadsheet extracts rows from a decoded worksheet. Decoders drop trailing
// empty cells, so short rows are padded; only rows carrying values past the
// last header column count as mismatched.
func Spreadsheet(grid *Grid, det *sniffer.Detection) (*Extraction, error) {
	if grid == nil || len(grid.Rows) == 0 {
		return nil, model.ErrEmptyInput
	}
	if det == nil || det.Profile == nil || det.HeaderIndex < 0 {
		return nil, fmt.Errorf("spreadsheet extraction needs a header detection")
	}

	rows := grid.Strings()
	if det.HeaderIndex >= len(rows) {
		return nil, model.ErrNoTransactionsFound
	}

	headers := trimAll(det.Headers)
	plan := NewColumnPlan(headers, det.Profile)

	out := &Extraction{}
	index := 0
	for i := det.HeaderIndex + 1; i < len(rows); i++ {
		cells := trimAll(rows[i])
		if blank(cells) {
			continue
		}
		index++
		line := i + 1

		if len(cells) > len(headers) {
			if !blank(cells[len(headers):]) {
				out.mismatch(index, line)
				continue
			}
			cells = cells[:len(headers)]
		}
		for len(cells) < len(headers) {
			cells = append(cells, "")
		}
		out.Rows = append(out.Rows, newRawRow(index, line, headers, cells, plan, det.Profile))
	}

	if index == 0 {
		return nil, model.ErrNoTransactionsFound
	}
	return out, nil
}
