package normalizer

import (
	"fmt"
	"strings"

	"github.com/FACorreiaa/statement-import/internal/domain/import/model"
	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
	"github.com/FACorreiaa/statement-import/pkg/money"
)

// currencyAliases maps symbols and local names seen in statements to ISO
// codes. The yen sign is read as CNY, which is how Chinese exports use it.
var currencyAliases = map[string]string{
	"¥":   money.CNY,
	"￥":   money.CNY,
	"元":   money.CNY,
	"人民币": money.CNY,
	"RMB": money.CNY,
	"$":   money.USD,
	"US$": money.USD,
	"美元":  money.USD,
	"€":   money.EUR,
	"欧元":  money.EUR,
	"£":   money.GBP,
	"英镑":  money.GBP,
	"HK$": money.HKD,
	"港币":  money.HKD,
	"港元":  money.HKD,
	"日元":  money.JPY,
	"R$":  money.BRL,
}

// ResolveCurrency returns the ISO code for an explicit currency cell, or the
// profile default when the cell is empty. Unknown values fall back to the
// default with a warning.
func ResolveCurrency(raw string, p *profile.MappingProfile) (string, *Warning) {
	fallback := money.CNY
	if p != nil {
		fallback = p.DefaultCurrency
	}

	value := strings.TrimSpace(raw)
	if value == "" || (p != nil && p.IsNull(value)) {
		return fallback, nil
	}

	if code, ok := currencyAliases[strings.ToUpper(value)]; ok {
		return code, nil
	}
	if code, ok := currencyAliases[value]; ok {
		return code, nil
	}
	if money.IsKnownCurrency(value) {
		return strings.ToUpper(value), nil
	}
	return fallback, &Warning{
		Field:   model.FieldCurrency,
		Message: fmt.Sprintf("unrecognized currency %q, using %s", value, fallback),
	}
}
