package normalizer

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

var ErrMissingAmount = errors.New("no amount in debit or credit column")

// Warning is a non-fatal finding about one field of one row.
type Warning struct {
	Field   model.Field
	Message string
}

// NormalizeAmount parses a signed fixed-point amount.
func NormalizeAmount(raw string, style money.DecimalStyle) (decimal.Decimal, error) {
	return money.ParseDecimal(raw, style)
}

// ResolveDirection splits a signed amount into a direction and a magnitude.
// A recognized indicator cell wins over the sign. An indicator the profile
// does not know produces a warning and the sign decides. Zero is inbound.
func ResolveDirection(signed decimal.Decimal, indicator string, p *profile.MappingProfile) (model.Direction, decimal.Decimal, *Warning) {
	var warning *Warning
	if indicator != "" && p != nil && !p.IsNull(indicator) {
		if dir, ok := p.DirectionOf(indicator); ok {
			return dir, signed.Abs(), nil
		}
		warning = &Warning{
			Field:   model.FieldDirection,
			Message: fmt.Sprintf("unrecognized direction indicator %q, using the amount sign", indicator),
		}
	}
	return directionOf(signed), signed.Abs(), warning
}

// ResolveDebitCredit reads split debit and credit columns. A non-zero debit
// is outbound; otherwise the credit column is inbound.
func ResolveDebitCredit(debit, credit string, style money.DecimalStyle) (model.Direction, decimal.Decimal, error) {
	var d, c decimal.Decimal
	var err error

	if debit != "" {
		if d, err = money.ParseDecimal(debit, style); err != nil {
			return "", decimal.Zero, fmt.Errorf("invalid debit: %w", err)
		}
	}
	if credit != "" {
		if c, err = money.ParseDecimal(credit, style); err != nil {
			return "", decimal.Zero, fmt.Errorf("invalid credit: %w", err)
		}
	}

	switch {
	case debit != "" && !d.IsZero():
		return model.Outbound, d.Abs(), nil
	case credit != "":
		return model.Inbound, c.Abs(), nil
	case debit != "":
		return model.Inbound, decimal.Zero, nil
	default:
		return "", decimal.Zero, ErrMissingAmount
	}
}

func directionOf(signed decimal.Decimal) model.Direction {
	if signed.IsNegative() {
		return model.Outbound
	}
	return model.Inbound
}
