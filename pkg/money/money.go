// Package money provides fixed-point amount parsing and ISO-4217 currency
// helpers for statement imports. Amounts are shopspring decimals end to end;
// go-money supplies the currency table and minor-unit conversion.
package money

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
	GBP = "GBP" // British Pound
	BRL = "BRL" // Brazilian Real
	JPY = "JPY" // Japanese Yen (no decimal places)
	CHF = "CHF" // Swiss Franc
	HKD = "HKD" // Hong Kong Dollar
	CNY = "CNY" // Chinese Yuan
)

// DecimalStyle tells ParseDecimal which separator marks the fraction.
type DecimalStyle int

const (
	// StyleAuto infers the separator from the value itself.
	StyleAuto DecimalStyle = iota
	// StylePoint is 1,234.56
	StylePoint
	// StyleComma is 1.234,56
	StyleComma
)

// ParseStyle maps a profile's decimal_separator setting to a DecimalStyle.
func ParseStyle(sep string) DecimalStyle {
	switch strings.TrimSpace(sep) {
	case ".":
		return StylePoint
	case ",":
		return StyleComma
	default:
		return StyleAuto
	}
}

var (
	ErrEmptyAmount     = errors.New("amount is empty")
	ErrInvalidAmount   = errors.New("amount is not a number")
	ErrUnknownCurrency = errors.New("unknown currency")
)

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

var (
	amountBody     = regexp.MustCompile(`^[0-9]+([.,][0-9]+)*[.,]?[0-9]*$`)
	amountReplacer = strings.NewReplacer(
		" ", "", "\u00a0", "", "\u2009", "", "\u202f", "", "'", "", "\u2019", "",
		"元", "", "RMB", "", "rmb", "",
	)
)

// ParseDecimal parses a raw statement amount into a signed decimal.
// It accepts currency symbols and ISO codes around the number, thousands
// separators, a leading sign, a trailing minus, accounting parentheses and
// CR/DR suffixes. Binary floating point is never involved.
func ParseDecimal(raw string, style DecimalStyle) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		s = strings.TrimSpace(s[:len(s)-2])
	case strings.HasSuffix(upper, "CR"):
		s = strings.TrimSpace(s[:len(s)-2])
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = !negative
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)
	s = amountReplacer.Replace(s)
	s = stripCurrencyCode(s)

	switch {
	case strings.HasPrefix(s, "-"), strings.HasPrefix(s, "−"):
		negative = !negative
		s = strings.TrimLeft(s, "-−")
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}

	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !amountBody.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	if style == StyleAuto {
		style = InferStyle(s)
	}
	switch style {
	case StyleComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// stripCurrencyCode removes an ISO code written before or after the number.
// Letters that are not exactly a known code stay in place so the value is
// rejected as not a number.
func stripCurrencyCode(s string) string {
	if n := letterRun(s, false); n == 3 && IsKnownCurrency(s[:n]) {
		s = s[n:]
	}
	if n := letterRun(s, true); n == 3 && IsKnownCurrency(s[len(s)-n:]) {
		s = s[:len(s)-n]
	}
	return s
}

// letterRun counts the ASCII letters at the start, or the end, of s.
func letterRun(s string, fromEnd bool) int {
	n := 0
	for n < len(s) {
		c := s[n]
		if fromEnd {
			c = s[len(s)-1-n]
		}
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			break
		}
		n++
	}
	return n
}

// InferStyle guesses the decimal separator of a single cleaned value.
// When both separators appear the last one is the decimal mark. A lone
// comma followed by at most two digits is read as a decimal comma.
func InferStyle(val string) DecimalStyle {
	hasComma := strings.Contains(val, ",")
	hasDot := strings.Contains(val, ".")

	switch {
	case hasComma && hasDot:
		if strings.LastIndex(val, ",") > strings.LastIndex(val, ".") {
			return StyleComma
		}
		return StylePoint
	case hasComma:
		idx := strings.LastIndex(val, ",")
		if strings.Count(val, ",") == 1 && len(val)-idx-1 <= 2 {
			return StyleComma
		}
		return StylePoint
	case hasDot:
		if strings.Count(val, ".") > 1 {
			return StyleComma
		}
	}
	return StylePoint
}

// IsKnownCurrency reports whether code is an ISO-4217 code known to go-money.
func IsKnownCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return false
	}
	return money.GetCurrency(code) != nil
}

// MinorUnits converts an unsigned or signed decimal amount into the
// currency's minor units, rounding half away from zero at its fraction.
func MinorUnits(amount decimal.Decimal, currencyCode string) (int64, error) {
	currency := money.GetCurrency(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if currency == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, currencyCode)
	}
	minor := amount.Shift(int32(currency.Fraction)).Round(0)
	if !minor.IsInteger() || minor.Abs().GreaterThan(maxMinorUnits) {
		return 0, fmt.Errorf("%w: %s %s does not fit in minor units", ErrInvalidAmount, amount, currency.Code)
	}
	return minor.IntPart(), nil
}
