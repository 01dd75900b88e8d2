// Package commit persists previewed drafts exactly once per workspace by
// fingerprinting them and filtering out what the store already holds.
package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
)

var ErrUnknownFingerprintField = errors.New("unknown fingerprint field")

// FingerprintField names a draft attribute that takes part in the
// fingerprint.
type FingerprintField string

const (
	FingerprintOccurredAt   FingerprintField = "occurred_at"
	FingerprintAmount       FingerprintField = "amount"
	FingerprintDirection    FingerprintField = "direction"
	FingerprintCurrency     FingerprintField = "currency"
	FingerprintCounterparty FingerprintField = "counterparty"
	FingerprintDescription  FingerprintField = "description"
	FingerprintBalance      FingerprintField = "balance_after"
	FingerprintSourceID     FingerprintField = "source_id"
)

// DefaultFingerprintFields identify a transaction by when, how much, which
// way, in what currency, with whom and from which source.
var DefaultFingerprintFields = []FingerprintField{
	FingerprintOccurredAt,
	FingerprintAmount,
	FingerprintDirection,
	FingerprintCurrency,
	FingerprintCounterparty,
	FingerprintSourceID,
}

const fieldSeparator = "\x1f"

// ParseFingerprintFields validates a configured field list. An empty list
// yields the defaults.
func ParseFingerprintFields(names []string) ([]FingerprintField, error) {
	var fields []FingerprintField
	seen := make(map[FingerprintField]bool)
	for _, name := range names {
		f := FingerprintField(strings.ToLower(strings.TrimSpace(name)))
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case FingerprintOccurredAt, FingerprintAmount, FingerprintDirection, FingerprintCurrency,
			FingerprintCounterparty, FingerprintDescription, FingerprintBalance, FingerprintSourceID:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFingerprintField, name)
		}
		seen[f] = true
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return DefaultFingerprintFields, nil
	}
	return fields, nil
}

// Fingerprinter derives dedup keys from drafts.
type Fingerprinter struct {
	fields []FingerprintField
}

func NewFingerprinter(fields []FingerprintField) *Fingerprinter {
	if len(fields) == 0 {
		fields = DefaultFingerprintFields
	}
	return &Fingerprinter{fields: fields}
}

func (f *Fingerprinter) Fields() []FingerprintField {
	return f.fields
}

// Fingerprint hashes the configured fields of one draft.
func (f *Fingerprinter) Fingerprint(d model.UnifiedTransactionDraft) string {
	parts := make([]string, len(f.fields))
	for i, field := range f.fields {
		parts[i] = string(field) + "=" + canonical(field, d)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// FingerprintAll fingerprints a batch in order. The n-th repeat of the same
// content gets a "#n" suffix, so identical rows within one statement stay
// distinct while a second commit of the same statement maps onto the first.
func (f *Fingerprinter) FingerprintAll(drafts []model.UnifiedTransactionDraft) []string {
	out := make([]string, len(drafts))
	seen := make(map[string]int, len(drafts))
	for i, d := range drafts {
		fp := f.Fingerprint(d)
		seen[fp]++
		if n := seen[fp]; n > 1 {
			fp += "#" + strconv.Itoa(n)
		}
		out[i] = fp
	}
	return out
}

func canonical(field FingerprintField, d model.UnifiedTransactionDraft) string {
	switch field {
	case FingerprintOccurredAt:
		return d.OccurredAt.UTC().Format(time.RFC3339)
	case FingerprintAmount:
		return d.Amount.Abs().String()
	case FingerprintDirection:
		return string(d.Direction)
	case FingerprintCurrency:
		return strings.ToUpper(d.Currency)
	case FingerprintCounterparty:
		return folded(d.Counterparty)
	case FingerprintDescription:
		return folded(d.Description)
	case FingerprintBalance:
		if d.BalanceAfter == nil {
			return ""
		}
		return d.BalanceAfter.String()
	case FingerprintSourceID:
		return d.SourceID
	default:
		return ""
	}
}

func folded(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*s))
}
