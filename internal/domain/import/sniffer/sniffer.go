// Package sniffer detects what an upload is: its structural kind, its text
// encoding and delimiter, its header row, and the mapping profile that
// applies to it.
package sniffer

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// headerScanLimit bounds how far into a file the header row is searched.
const headerScanLimit = 20

var (
	magicPDF  = []byte("%PDF-")
	magicZip  = []byte("PK\x03\x04")
	magicOLE  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	bomUTF8   = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16L = []byte{0xFF, 0xFE}
	bomUTF16B = []byte{0xFE, 0xFF}
)

// SniffKind resolves the structural kind of an upload. A declared type
// (kind name, extension or file name) wins; otherwise magic bytes decide,
// and anything that reads as text is treated as tabular.
func SniffKind(data []byte, declared string) (model.SourceKind, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, model.ErrEmptyInput
	}

	if declared = strings.ToLower(strings.TrimSpace(declared)); declared != "" {
		if ext := filepath.Ext(declared); ext != "" && ext != declared {
			declared = ext
		}
		return model.ParseSourceKind(declared)
	}

	switch {
	case bytes.HasPrefix(data, magicPDF):
		return model.PdfText, nil
	case bytes.HasPrefix(data, magicZip), bytes.HasPrefix(data, magicOLE):
		return model.Spreadsheet, nil
	case IsBinary(data):
		return 0, &model.UnrecognizedFormatError{Reason: "content is neither text, a workbook nor a PDF"}
	}
	return model.Tabular, nil
}

// IsBinary reports whether data looks like arbitrary binary rather than
// text in some encoding.
func IsBinary(data []byte) bool {
	if bytes.HasPrefix(data, bomUTF16L) || bytes.HasPrefix(data, bomUTF16B) {
		return false
	}
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	control := 0
	for _, b := range sample {
		switch {
		case b == 0:
			return true
		case b < 0x09, b > 0x0D && b < 0x20 && b != 0x1B:
			control++
		}
	}
	return control*50 > len(sample)
}

// NormalizeText decodes an upload into UTF-8 text with "\n" line endings.
// UTF-16 is honoured when a BOM says so. Input that is not valid UTF-8 is
// read as GB18030 when that yields clean Chinese text, which is how the
// e-wallet exports are encoded, and as Windows-1252 otherwise.
func NormalizeText(data []byte) string {
	var text string
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		text = string(data[len(bomUTF8):])
	case bytes.HasPrefix(data, bomUTF16L), bytes.HasPrefix(data, bomUTF16B):
		decoded, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder().Bytes(data)
		if err == nil {
			text = string(decoded)
		}
	case utf8.Valid(data):
		text = string(data)
	default:
		text = decodeLegacy(data)
	}

	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func decodeLegacy(data []byte) string {
	if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil {
		s := string(decoded)
		if !strings.ContainsRune(s, utf8.RuneError) && strings.IndexFunc(s, isHan) >= 0 {
			return s
		}
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// SplitLines splits normalized text into lines.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}

// CountRecords counts non-blank lines, used for row ceilings before parsing.
func CountRecords(text string) int {
	n := 0
	for _, line := range SplitLines(text) {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func cleanLine(line string) string {
	line = strings.TrimRight(line, "\r")
	line = strings.TrimPrefix(line, "\uFEFF")
	return strings.TrimSpace(line)
}

// detectDelimiter picks the candidate that splits the line most often.
func detectDelimiter(line string) (rune, int) {
	delimiters := []rune{';', '\t', ',', '|'}
	bestDelimiter := rune(0)
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			bestDelimiter = d
		}
	}
	return bestDelimiter, bestCount
}

// splitCells parses one line with the given delimiter, honouring quotes.
func splitCells(line string, delimiter rune) []string {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	cells, err := reader.Read()
	if err != nil {
		return strings.Split(line, string(delimiter))
	}
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// Dialect is the regional formatting inferred from sample values.
type Dialect struct {
	Style      money.DecimalStyle
	DayFirst   bool
	Confidence float64
}

// InferDialect analyzes sample amount and date values to infer the decimal
// separator and whether dates put the day first.
func InferDialect(amounts, dates []string) Dialect {
	dialect := Dialect{Style: money.StyleAuto, Confidence: 0.5}

	europeanHints := 0
	usHints := 0
	for _, val := range amounts {
		switch analyzeAmountFormat(val) {
		case 1:
			europeanHints++
		case -1:
			usHints++
		}
	}

	if europeanHints > usHints {
		dialect.Style = money.StyleComma
	} else if usHints > europeanHints {
		dialect.Style = money.StylePoint
	}

	if total := europeanHints + usHints; total > 0 {
		winning := europeanHints
		if usHints > europeanHints {
			winning = usHints
		}
		dialect.Confidence = float64(winning) / float64(total)
	}

	for _, d := range dates {
		if analyzeDateFormat(d) {
			dialect.DayFirst = true
			break
		}
	}
	if !dialect.DayFirst && dialect.Style == money.StyleComma {
		dialect.DayFirst = true
	}

	return dialect
}

// analyzeAmountFormat returns: >0 for European, <0 for US, 0 for ambiguous
func analyzeAmountFormat(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)

	if cleaned == "" {
		return 0
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			return 1 // 1.234,56
		}
		return -1 // 1,234.56
	case hasComma:
		if len(cleaned)-strings.LastIndex(cleaned, ",")-1 <= 2 {
			return 1
		}
	case hasDot:
		if len(cleaned)-strings.LastIndex(cleaned, ".")-1 <= 2 {
			return -1
		}
	}
	return 0
}

// analyzeDateFormat returns true if the date is definitely DD-first (day > 12)
func analyzeDateFormat(dateVal string) bool {
	parts := strings.FieldsFunc(dateVal, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) < 2 {
		return false
	}

	day := 0
	for _, c := range strings.TrimSpace(parts[0]) {
		if c < '0' || c > '9' {
			break
		}
		day = day*10 + int(c-'0')
	}
	return day > 12 && day <= 31
}
