// Package model holds the canonical types shared by every stage of the
// statement import pipeline: structural kinds, drafts, warnings
// and the aggregate results returned to callers.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind is the structural shape of an upload. It is resolved once by
// format detection and selects exactly one extractor.
type SourceKind int

const (
	Tabular SourceKind = iota + 1
	Spreadsheet
	PdfText
)

func (k SourceKind) String() string {
	switch k {
	case Tabular:
		return "tabular"
	case Spreadsheet:
		return "spreadsheet"
	case PdfText:
		return "pdf_text"
	default:
		return "unknown"
	}
}

// ParseSourceKind accepts the canonical names plus common file extensions.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "tabular", "csv", "tsv", "txt", ".csv", ".tsv", ".txt":
		return Tabular, nil
	case "spreadsheet", "xlsx", "xls", ".xlsx", ".xls":
		return Spreadsheet, nil
	case "pdf_text", "pdf", ".pdf":
		return PdfText, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSourceKind, s)
	}
}

func (k SourceKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *SourceKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSourceKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Direction records whether money entered or left the account.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Field names a logical statement column.
type Field string

const (
	FieldDate         Field = "date"
	FieldAmount       Field = "amount"
	FieldBalance      Field = "balance"
	FieldDirection    Field = "transaction_type"
	FieldCounterparty Field = "counterparty"
	FieldDescription  Field = "description"
	FieldCurrency     Field = "currency"
	FieldCategory     Field = "category"
	FieldDebit        Field = "debit"
	FieldCredit       Field = "credit"
)

// Fields lists every logical field in column-claiming priority order.
var Fields = []Field{
	FieldDate,
	FieldAmount,
	FieldDebit,
	FieldCredit,
	FieldBalance,
	FieldDirection,
	FieldCurrency,
	FieldCounterparty,
	FieldDescription,
	FieldCategory,
}

// FieldPtr is a convenience for building warnings.
func FieldPtr(f Field) *Field {
	return &f
}

// UnifiedTransactionDraft is the canonical, not yet persisted transaction.
// Amount is never negative; the sign lives in Direction.
type UnifiedTransactionDraft struct {
	OccurredAt   time.Time        `json:"occurred_at"`
	Amount       decimal.Decimal  `json:"amount"`
	Direction    Direction        `json:"direction"`
	Currency     string           `json:"currency"`
	Counterparty *string          `json:"counterparty,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Category     *string          `json:"category,omitempty"`
	BalanceAfter *decimal.Decimal `json:"balance_after,omitempty"`
	SourceID     string           `json:"source_id"`
	RawRowIndex  int              `json:"raw_row_index"`
}

// SignedAmount reconstructs the signed value the statement carried.
func (d UnifiedTransactionDraft) SignedAmount() decimal.Decimal {
	if d.Direction == Outbound {
		return d.Amount.Neg()
	}
	return d.Amount
}

// ParseWarning describes a row-level problem. Field is nil for structural
// problems that are not tied to a logical field.
type ParseWarning struct {
	RowIndex int    `json:"row_index"`
	Line     int    `json:"line,omitempty"`
	Field    *Field `json:"field"`
	Message  string `json:"message"`
}

func (w ParseWarning) String() string {
	if w.Field == nil {
		return fmt.Sprintf("row %d: %s", w.RowIndex, w.Message)
	}
	return fmt.Sprintf("row %d [%s]: %s", w.RowIndex, *w.Field, w.Message)
}

// ParseResult is the complete output of parsing one upload.
type ParseResult struct {
	SourceID   string                    `json:"source_id"`
	SourceType SourceKind                `json:"source_type"`
	Drafts     []UnifiedTransactionDraft `json:"drafts"`
	Warnings   []ParseWarning            `json:"warnings"`
	RowCount   int                       `json:"row_count"`
}

// CommitOutcome reports what a commit did.
type CommitOutcome struct {
	InsertedCount         int `json:"inserted_count"`
	SkippedDuplicateCount int `json:"skipped_duplicate_count"`
}
