package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Amount Parsing Tests
// ============================================================================

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		style DecimalStyle
		want  string
	}{
		{"plain negative", "-120.50", StyleAuto, "-120.5"},
		{"plain positive", "3000.00", StyleAuto, "3000"},
		{"integer", "50", StyleAuto, "50"},
		{"explicit plus", "+12.30", StyleAuto, "12.3"},
		{"us thousands", "1,234.56", StyleAuto, "1234.56"},
		{"european thousands", "1.234,56", StyleAuto, "1234.56"},
		{"european decimal only", "12,5", StyleAuto, "12.5"},
		{"forced comma style", "1.234", StyleComma, "1234"},
		{"forced point style", "1,234", StylePoint, "1234"},
		{"yuan symbol", "¥88.00", StyleAuto, "88"},
		{"euro suffix", "12,00 €", StyleAuto, "12"},
		{"iso prefix", "USD 45.10", StyleAuto, "45.1"},
		{"iso suffix", "45.10CNY", StyleAuto, "45.1"},
		{"yuan character", "66.60元", StyleAuto, "66.6"},
		{"parentheses negative", "(75.25)", StyleAuto, "-75.25"},
		{"trailing minus", "75.25-", StyleAuto, "-75.25"},
		{"debit suffix", "10.00 DR", StyleAuto, "-10"},
		{"credit suffix", "10.00 CR", StyleAuto, "10"},
		{"unicode minus", "−9.99", StyleAuto, "-9.99"},
		{"apostrophe thousands", "1'000.50", StyleAuto, "1000.5"},
		{"non breaking space", "1 000,50", StyleAuto, "1000.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal(tt.raw, tt.style)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseDecimal_Invalid(t *testing.T) {
	_, err := ParseDecimal("", StyleAuto)
	assert.ErrorIs(t, err, ErrEmptyAmount)

	for _, raw := range []string{
		"abc", "not-a-number", "12abc34", "--", "1.2.3x", "CR",
		"12abc", "abc12", "100xyz", "7foo", "USDX 12", "12 US", "eur12x",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseDecimal(raw, StyleAuto)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseDecimal_NoFloatDrift(t *testing.T) {
	a, err := ParseDecimal("0.10", StyleAuto)
	require.NoError(t, err)
	b, err := ParseDecimal("0.20", StyleAuto)
	require.NoError(t, err)
	assert.True(t, a.Add(b).Equal(decimal.RequireFromString("0.3")))
}

func TestInferStyle(t *testing.T) {
	assert.Equal(t, StyleComma, InferStyle("1.234,56"))
	assert.Equal(t, StylePoint, InferStyle("1,234.56"))
	assert.Equal(t, StyleComma, InferStyle("12,34"))
	assert.Equal(t, StylePoint, InferStyle("12,345"))
	assert.Equal(t, StyleComma, InferStyle("1.234.567"))
	assert.Equal(t, StylePoint, InferStyle("1234"))
}

func TestParseStyle(t *testing.T) {
	assert.Equal(t, StylePoint, ParseStyle("."))
	assert.Equal(t, StyleComma, ParseStyle(","))
	assert.Equal(t, StyleAuto, ParseStyle(""))
}

// ============================================================================
// Currency Tests
// ============================================================================

func TestIsKnownCurrency(t *testing.T) {
	assert.True(t, IsKnownCurrency(CNY))
	assert.True(t, IsKnownCurrency("eur"))
	assert.False(t, IsKnownCurrency("XYZ1"))
	assert.False(t, IsKnownCurrency("QQQ"))
	assert.False(t, IsKnownCurrency(""))
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"precise decimal", "123.45", USD, 12345},
		{"rounds half away from zero", "99.995", USD, 10000},
		{"whole number", "500", CNY, 50000},
		{"yen has no fraction", "1500", JPY, 1500},
		{"negative", "-0.01", EUR, -1},
		{"lower case code", "2.5", "gbp", 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MinorUnits(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMinorUnits_Invalid(t *testing.T) {
	_, err := MinorUnits(decimal.NewFromInt(1), "QQQ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	_, err = MinorUnits(decimal.RequireFromString("1e30"), USD)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
