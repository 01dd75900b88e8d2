package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

// DraftRow is the flat CSV shape of one draft.
type DraftRow struct {
	File         string `csv:"file"`
	SourceID     string `csv:"source_id"`
	Row          int    `csv:"row"`
	OccurredAt   string `csv:"occurred_at"`
	Amount       string `csv:"amount"`
	Direction    string `csv:"direction"`
	Currency     string `csv:"currency"`
	Counterparty string `csv:"counterparty"`
	Description  string `csv:"description"`
	Category     string `csv:"category"`
	BalanceAfter string `csv:"balance_after"`
}

// fileResult pairs a parsed file with its outcome.
type fileResult struct {
	File    string               `json:"file"`
	Result  *model.ParseResult   `json:"result,omitempty"`
	Error   string               `json:"error,omitempty"`
	Outcome *model.CommitOutcome `json:"commit,omitempty"`
}

func toDraftRows(file string, res *model.ParseResult) []DraftRow {
	if res == nil {
		return nil
	}
	rows := make([]DraftRow, 0, len(res.Drafts))
	for _, d := range res.Drafts {
		row := DraftRow{
			File:         file,
			SourceID:     d.SourceID,
			Row:          d.RawRowIndex,
			OccurredAt:   d.OccurredAt.UTC().Format(time.RFC3339),
			Amount:       d.Amount.StringFixed(2),
			Direction:    string(d.Direction),
			Currency:     d.Currency,
			Counterparty: deref(d.Counterparty),
			Description:  deref(d.Description),
			Category:     deref(d.Category),
		}
		if d.BalanceAfter != nil {
			row.BalanceAfter = d.BalanceAfter.StringFixed(2)
		}
		rows = append(rows, row)
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// writeResults renders parse results in the requested format. CSV carries
// drafts only; warnings and errors go to the log.
func writeResults(w io.Writer, format string, results []fileResult) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case formatCSV:
		var rows []DraftRow
		for _, r := range results {
			rows = append(rows, toDraftRows(r.File, r.Result)...)
		}
		if rows == nil {
			rows = []DraftRow{}
		}
		if err := gocsv.Marshal(&rows, w); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (one of: %s, %s)", format, formatJSON, formatCSV)
	}
}
