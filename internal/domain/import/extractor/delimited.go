package extractor

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/sniffer"
)

// Delimited extracts rows from a delimited text export. The detected header
// line names the columns; every later non-blank record becomes a RawRow
// aligned to it by position.
func Delimited(text string, det *sniffer.Detection) (*Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.ErrEmptyInput
	}
	if det == nil || det.Profile == nil || det.HeaderIndex < 0 {
		return nil, fmt.Errorf("delimited extraction needs a header detection")
	}

	lines := sniffer.SplitLines(text)
	if det.HeaderIndex >= len(lines) {
		return nil, model.ErrNoTransactionsFound
	}

	headers := trimAll(det.Headers)
	plan := NewColumnPlan(headers, det.Profile)

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[det.HeaderIndex+1:], "\n")))
	reader.Comma = ','
	if det.Delimiter != 0 {
		reader.Comma = det.Delimiter
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	out := &Extraction{}
	index := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if err != nil && !errors.As(err, &perr) {
			return nil, fmt.Errorf("failed to read delimited rows: %w", err)
		}
		line := det.HeaderIndex + 1 + recordLine(reader, perr)
		if perr != nil {
			index++
			out.Warnings = append(out.Warnings, model.ParseWarning{
				RowIndex: index,
				Line:     line,
				Message:  fmt.Sprintf("malformed row: %v", perr.Err),
			})
			continue
		}
		if blank(record) {
			continue
		}

		index++
		if len(record) != len(headers) {
			out.mismatch(index, line)
			continue
		}
		out.Rows = append(out.Rows, newRawRow(index, line, headers, trimAll(record), plan, det.Profile))
	}

	if index == 0 {
		return nil, model.ErrNoTransactionsFound
	}
	return out, nil
}

// recordLine is the 1-based line, relative to the data block, where the last
// record started.
func recordLine(reader *csv.Reader, perr *csv.ParseError) int {
	if perr != nil {
		return perr.StartLine
	}
	line, _ := reader.FieldPos(0)
	return line
}
