// Package draft assembles normalized rows into transaction drafts and
// collects the warnings raised along the way.
package draft

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import/internal/domain/import/extractor"
	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// Options carries per-upload formatting inferred from the data itself.
type Options struct {
	// Style overrides amount parsing when the profile leaves the decimal
	// separator open.
	Style    money.DecimalStyle
	DayFirst bool
	Cleaner  *normalizer.CounterpartyCleaner
}

// Builder turns raw rows into drafts. It is not safe for concurrent use;
// each upload gets its own.
type Builder struct {
	profile  *profile.MappingProfile
	kind     model.SourceKind
	style    money.DecimalStyle
	dates    *normalizer.DateParser
	cleaner  *normalizer.CounterpartyCleaner
	drafts   []model.UnifiedTransactionDraft
	warnings []model.ParseWarning
	rows     int
}

func NewBuilder(p *profile.MappingProfile, kind model.SourceKind, opts Options) *Builder {
	style := p.Style()
	if style == money.StyleAuto {
		style = opts.Style
	}
	cleaner := opts.Cleaner
	if cleaner == nil && p.CleanCounterparty {
		cleaner = normalizer.NewCounterpartyCleaner()
	}
	return &Builder{
		profile: p,
		kind:    kind,
		style:   style,
		dates:   normalizer.NewDateParser(p, opts.DayFirst),
		cleaner: cleaner,
	}
}

// Add normalizes one row. It yields exactly one draft, or no draft and at
// least one warning when a required field cannot be resolved.
func (b *Builder) Add(row extractor.RawRow) {
	b.rows++

	rowWarnings := make([]model.ParseWarning, 0, 2)
	warn := func(field model.Field, msg string) {
		rowWarnings = append(rowWarnings, model.ParseWarning{
			RowIndex: row.Index,
			Line:     row.Line,
			Field:    model.FieldPtr(field),
			Message:  msg,
		})
	}
	dropped := false

	occurredAt, ambiguous, err := b.dates.Parse(b.value(row, model.FieldDate))
	switch {
	case err != nil:
		warn(model.FieldDate, fmt.Sprintf("row dropped: %v", err))
		dropped = true
	case ambiguous:
		warn(model.FieldDate, fmt.Sprintf("ambiguous date %q, read as %s", row.Field(model.FieldDate), occurredAt.Format("2006-01-02")))
	}

	direction, amount, amountErr := b.amount(row, warn)
	if amountErr != nil {
		warn(model.FieldAmount, fmt.Sprintf("row dropped: %v", amountErr))
		dropped = true
	}

	if dropped {
		b.warnings = append(b.warnings, rowWarnings...)
		return
	}

	currency, w := normalizer.ResolveCurrency(row.Field(model.FieldCurrency), b.profile)
	if w != nil {
		warn(w.Field, w.Message)
	}

	var balance *decimal.Decimal
	if raw := b.value(row, model.FieldBalance); raw != "" {
		d, err := normalizer.NormalizeAmount(raw, b.style)
		if err != nil {
			warn(model.FieldBalance, fmt.Sprintf("balance ignored: %v", err))
		} else {
			balance = &d
		}
	}

	counterparty := normalizer.NormalizeText(row.Field(model.FieldCounterparty), b.profile)
	if counterparty != nil && b.cleaner != nil {
		cleaned := b.cleaner.Clean(*counterparty)
		counterparty = &cleaned
	}

	b.drafts = append(b.drafts, model.UnifiedTransactionDraft{
		OccurredAt:   occurredAt,
		Amount:       amount,
		Direction:    direction,
		Currency:     currency,
		Counterparty: counterparty,
		Description:  normalizer.NormalizeText(row.Field(model.FieldDescription), b.profile),
		Category:     normalizer.NormalizeText(row.Field(model.FieldCategory), b.profile),
		BalanceAfter: balance,
		SourceID:     b.profile.SourceID,
		RawRowIndex:  row.Index,
	})
	b.warnings = append(b.warnings, rowWarnings...)
}

// amount resolves magnitude and direction from a signed amount column, or
// from split debit and credit columns when there is no amount value.
func (b *Builder) amount(row extractor.RawRow, warn func(model.Field, string)) (model.Direction, decimal.Decimal, error) {
	raw := b.value(row, model.FieldAmount)
	if raw == "" {
		debit, credit := b.value(row, model.FieldDebit), b.value(row, model.FieldCredit)
		if debit != "" || credit != "" {
			return normalizer.ResolveDebitCredit(debit, credit, b.style)
		}
		return "", decimal.Zero, errors.New("amount is missing")
	}

	signed, err := normalizer.NormalizeAmount(raw, b.style)
	if err != nil {
		return "", decimal.Zero, err
	}
	direction, magnitude, w := normalizer.ResolveDirection(signed, row.Field(model.FieldDirection), b.profile)
	if w != nil {
		warn(w.Field, w.Message)
	}
	return direction, magnitude, nil
}

// value returns a trimmed raw value with the profile's placeholders blanked.
func (b *Builder) value(row extractor.RawRow, f model.Field) string {
	v := row.Field(f)
	if v != "" && b.profile.IsNull(v) {
		return ""
	}
	return v
}

// AddWarning records a structural warning raised during extraction.
func (b *Builder) AddWarning(w model.ParseWarning) {
	b.warnings = append(b.warnings, w)
}

// Result returns the collected drafts and warnings. Warnings are ordered by
// row; within a row they keep the order they were raised in.
func (b *Builder) Result() *model.ParseResult {
	warnings := make([]model.ParseWarning, len(b.warnings))
	copy(warnings, b.warnings)
	sort.SliceStable(warnings, func(i, j int) bool {
		return warnings[i].RowIndex < warnings[j].RowIndex
	})

	drafts := make([]model.UnifiedTransactionDraft, len(b.drafts))
	copy(drafts, b.drafts)

	return &model.ParseResult{
		SourceID:   b.profile.SourceID,
		SourceType: b.kind,
		Drafts:     drafts,
		Warnings:   warnings,
		RowCount:   b.rows,
	}
}

// Build runs every extracted row through a fresh builder.
func Build(ext *extractor.Extraction, p *profile.MappingProfile, kind model.SourceKind, opts Options) *model.ParseResult {
	b := NewBuilder(p, kind, opts)
	for _, w := range ext.Warnings {
		b.AddWarning(w)
	}
	for _, row := range ext.Rows {
		b.Add(row)
	}
	return b.Result()
}
