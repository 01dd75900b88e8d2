package normalizer

import (
	"regexp"
	"strings"
	"unicode"
)

// counterpartyPattern maps a noisy statement spelling to a canonical name.
type counterpartyPattern struct {
	pattern *regexp.Regexp
	name    string
}

// CounterpartyCleaner strips card-terminal noise from counterparty names and
// canonicalizes well-known merchants. It is safe for concurrent use once
// built; AddPattern must not race with Clean.
type CounterpartyCleaner struct {
	patterns []counterpartyPattern
}

var (
	trailingReference = regexp.MustCompile(`\s+[#*]?\d{4,}$`)
	trailingShortDate = regexp.MustCompile(`\s+\d{1,2}/\d{1,2}/?$`)
	trailingLocation  = regexp.MustCompile(`\s+[A-Z]{2}\s+[A-Z]{2,3}$`)
	starSeparator     = regexp.MustCompile(`\s*\*\s*`)
)

// terminalPrefixes are card network and payment channel markers that
// banks prepend to the merchant name.
var terminalPrefixes = []string{
	"CARD PAYMENT TO ", "CARD PAYMENT ", "DEBIT CARD ", "PURCHASE ", "PAYMENT ",
	"POS ", "VISA ", "MASTERCARD ", "MAESTRO ", "DD ", "SO ", "FPI ", "BGC ",
	"支付宝-", "支付宝 ", "财付通-", "财付通 ", "银联 ", "消费-",
}

// NewCounterpartyCleaner returns a cleaner with the built-in merchants.
func NewCounterpartyCleaner() *CounterpartyCleaner {
	return &CounterpartyCleaner{patterns: defaultCounterpartyPatterns()}
}

// AddPattern registers a custom canonical name.
func (c *CounterpartyCleaner) AddPattern(pattern, name string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.patterns = append(c.patterns, counterpartyPattern{pattern: re, name: name})
	return nil
}

// Clean returns the tidied name. Unknown ASCII names are title-cased; names
// in other scripts keep their case.
func (c *CounterpartyCleaner) Clean(raw string) string {
	cleaned := stripTerminalNoise(raw)
	if cleaned == "" {
		return strings.TrimSpace(raw)
	}
	for _, p := range c.patterns {
		if p.pattern.MatchString(cleaned) {
			return p.name
		}
	}
	if isASCII(cleaned) {
		return titleCase(cleaned)
	}
	return cleaned
}

func stripTerminalNoise(raw string) string {
	result := strings.Join(strings.Fields(raw), " ")

	upper := strings.ToUpper(result)
	for _, prefix := range terminalPrefixes {
		if strings.HasPrefix(upper, prefix) {
			result = result[len(prefix):]
			break
		}
	}

	result = starSeparator.ReplaceAllString(result, " ")
	result = trailingShortDate.ReplaceAllString(result, "")
	result = trailingReference.ReplaceAllString(result, "")
	result = trailingLocation.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}

func defaultCounterpartyPatterns() []counterpartyPattern {
	return []counterpartyPattern{
		{regexp.MustCompile(`(?i)STARBUCKS|星巴克`), "Starbucks"},
		{regexp.MustCompile(`(?i)MC\s*DONALDS|MCDONALD|麦当劳`), "McDonald's"},
		{regexp.MustCompile(`(?i)KFC|肯德基`), "KFC"},
		{regexp.MustCompile(`(?i)UBER\s*EATS`), "Uber Eats"},
		{regexp.MustCompile(`(?i)\bUBER\b`), "Uber"},
		{regexp.MustCompile(`(?i)DIDI|滴滴`), "DiDi"},
		{regexp.MustCompile(`(?i)MEITUAN|美团`), "Meituan"},
		{regexp.MustCompile(`(?i)TESCO`), "Tesco"},
		{regexp.MustCompile(`(?i)SAINSBURY`), "Sainsbury's"},
		{regexp.MustCompile(`(?i)AMAZON|AMZN`), "Amazon"},
		{regexp.MustCompile(`(?i)NETFLIX`), "Netflix"},
		{regexp.MustCompile(`(?i)SPOTIFY`), "Spotify"},
		{regexp.MustCompile(`(?i)APPLE\.COM|APPLE\s*MUSIC`), "Apple"},
		{regexp.MustCompile(`(?i)PAYPAL`), "PayPal"},
		{regexp.MustCompile(`(?i)JD\.COM|京东`), "JD.com"},
	}
}
