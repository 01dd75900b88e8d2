package extractor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

var (
	magicZip = []byte("PK\x03\x04")
	magicOLE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// preferredSheets are tried in order before falling back to the first
// sheet that has content.
var preferredSheets = []string{
	"transactions", "movimentos", "extrato",
	"statement", "交易明细", "明细", "data", "sheet1",
}

// DecodeWorkbook decodes an xlsx or legacy xls workbook into the grid of
// its transaction sheet.
func DecodeWorkbook(data []byte) (*Grid, error) {
	switch {
	case bytes.HasPrefix(data, magicZip):
		return decodeXLSX(data)
	case bytes.HasPrefix(data, magicOLE):
		return decodeXLS(data)
	default:
		return nil, fmt.Errorf("%w: not an xlsx or xls workbook", model.ErrUndecodableInput)
	}
}

func decodeXLSX(data []byte) (*Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open xlsx workbook: %w", model.ErrUndecodableInput, err)
	}
	defer f.Close()

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	var fallback *Grid
	for _, sheet := range orderSheets(f.GetSheetList()) {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read sheet %s: %w", model.ErrUndecodableInput, sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		grid := &Grid{Sheet: sheet, Rows: make([][]Cell, len(rows))}
		for r, row := range rows {
			cells := make([]Cell, len(row))
			for c, raw := range row {
				cells[c] = typedCell(f, sheet, c+1, r+1, raw, date1904)
			}
			grid.Rows[r] = cells
		}
		if isPreferred(sheet) {
			return grid, nil
		}
		if fallback == nil {
			fallback = grid
		}
	}

	if fallback == nil {
		return nil, fmt.Errorf("%w: workbook has no sheet with content", model.ErrNoTransactionsFound)
	}
	return fallback, nil
}

// typedCell converts a raw xlsx value using its stored type and number
// format. Numbers carrying a date format become dates.
func typedCell(f *excelize.File, sheet string, col, row int, raw string, date1904 bool) Cell {
	if strings.TrimSpace(raw) == "" {
		return Cell{Kind: CellEmpty}
	}
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return TextCell(raw)
	}
	typ, err := f.GetCellType(sheet, axis)
	if err != nil {
		return TextCell(raw)
	}

	switch typ {
	case excelize.CellTypeBool:
		return BoolCell(raw == "1" || strings.EqualFold(raw, "true"))
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return DateCell(t.UTC())
			}
		}
		return TextCell(raw)
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeFormula:
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return TextCell(raw)
		}
		if hasDateFormat(f, sheet, axis) {
			serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err == nil {
				if t, err := excelize.ExcelDateToTime(serial, date1904); err == nil {
					return DateCell(t.Round(time.Second))
				}
			}
		}
		return NumberCell(d)
	default:
		return TextCell(raw)
	}
}

func hasDateFormat(f *excelize.File, sheet, axis string) bool {
	styleID, err := f.GetCellStyle(sheet, axis)
	if err != nil || styleID == 0 {
		return false
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false
	}
	if isBuiltinDateFormat(style.NumFmt) {
		return true
	}
	return style.CustomNumFmt != nil && isDateFormatCode(*style.CustomNumFmt)
}

func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode looks for date tokens outside quoted literals and
// bracketed sections such as colours or locales.
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(code) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	return strings.ContainsAny(cleaned, "yd") || strings.Contains(cleaned, "年") || strings.Contains(cleaned, "日")
}

// decodeXLS reads legacy BIFF workbooks. The decoder reports formatted cell
// text, so every cell arrives as text.
func decodeXLS(data []byte) (grid *Grid, err error) {
	defer func() {
		if r := recover(); r != nil {
			grid = nil
			err = fmt.Errorf("%w: xls decoder failed: %v", model.ErrUndecodableInput, r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open xls workbook: %w", model.ErrUndecodableInput, err)
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("%w: no sheets found in xls workbook", model.ErrNoTransactionsFound)
	}

	names := make([]string, 0, wb.NumSheets())
	sheets := make(map[string]*xls.WorkSheet, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		names = append(names, sheet.Name)
		sheets[sheet.Name] = sheet
	}

	var fallback *Grid
	for _, name := range orderSheets(names) {
		g := xlsGrid(sheets[name])
		if len(g.Rows) == 0 {
			continue
		}
		if isPreferred(name) {
			return g, nil
		}
		if fallback == nil {
			fallback = g
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("%w: workbook has no sheet with content", model.ErrNoTransactionsFound)
	}
	return fallback, nil
}

func xlsGrid(sheet *xls.WorkSheet) *Grid {
	grid := &Grid{Sheet: sheet.Name}
	maxRow := int(sheet.MaxRow)
	lastFilled := -1
	for i := 0; i <= maxRow; i++ {
		row := sheet.Row(i)
		if row == nil {
			grid.Rows = append(grid.Rows, nil)
			continue
		}
		cells := make([]Cell, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, TextCell(strings.TrimSpace(row.Col(c))))
		}
		grid.Rows = append(grid.Rows, cells)
		if len(cells) > 0 {
			lastFilled = i
		}
	}
	grid.Rows = grid.Rows[:lastFilled+1]
	return grid
}

// orderSheets returns sheet names with preferred transaction sheets first,
// keeping workbook order otherwise.
func orderSheets(sheets []string) []string {
	ordered := make([]string, 0, len(sheets))
	used := make(map[string]bool, len(sheets))
	for _, preferred := range preferredSheets {
		for _, sheet := range sheets {
			if !used[sheet] && strings.EqualFold(strings.TrimSpace(sheet), preferred) {
				ordered = append(ordered, sheet)
				used[sheet] = true
			}
		}
	}
	for _, sheet := range sheets {
		if !used[sheet] {
			ordered = append(ordered, sheet)
		}
	}
	return ordered
}

func isPreferred(sheet string) bool {
	for _, preferred := range preferredSheets {
		if strings.EqualFold(strings.TrimSpace(sheet), preferred) {
			return true
		}
	}
	return false
}
