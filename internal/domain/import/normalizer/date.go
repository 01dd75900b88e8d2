// Package normalizer turns raw statement cell values into typed values:
// UTC timestamps, fixed-point amounts with a resolved direction, ISO
// currency codes and cleaned optional text.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-import/internal/domain/import/profile"
)

var ErrUnparseableDate = errors.New("unparseable date")

// fallbackLayouts are tried after the profile's own formats.
var fallbackLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"20060102",
}

// dayFirstLayouts are added to the fallbacks when the file's dialect puts
// the day before the month.
var dayFirstLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04",
	"02.01.2006",
	"02-01-2006",
}

var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006", "%y", "06", "%m", "01", "%d", "02", "%e", "_2",
	"%H", "15", "%I", "03", "%M", "04", "%S", "05", "%p", "PM",
	"%b", "Jan", "%B", "January", "%a", "Mon", "%A", "Monday",
	"%j", "002", "%z", "-0700", "%Z", "MST", "%f", "000000", "%%", "%",
)

var tokenReplacer = strings.NewReplacer(
	"YYYY", "2006", "YY", "06", "MM", "01", "DD", "02",
	"HH", "15", "hh", "03", "mm", "04", "ss", "05",
)

// ToLayout converts a profile date format into a Go layout. strftime
// directives and YYYY-MM-DD style tokens are both accepted; anything else
// is taken to be a Go layout already.
func ToLayout(format string) string {
	switch {
	case strings.Contains(format, "%"):
		return strftimeReplacer.Replace(format)
	case strings.Contains(format, "YY"), strings.Contains(format, "DD"), strings.Contains(format, "HH"):
		return tokenReplacer.Replace(format)
	default:
		return format
	}
}

// DateParser parses dates for one profile. Build it once per upload.
type DateParser struct {
	profileLayouts  []string
	fallbackLayouts []string
	location        *time.Location
}

// NewDateParser prepares the profile's layouts. dayFirst widens the
// fallbacks with day-first numeric layouts.
func NewDateParser(p *profile.MappingProfile, dayFirst bool) *DateParser {
	dp := &DateParser{location: time.UTC, fallbackLayouts: fallbackLayouts}
	if p != nil {
		dp.location = p.Location()
		for _, f := range p.DateFormats {
			if f = strings.TrimSpace(f); f != "" {
				dp.profileLayouts = append(dp.profileLayouts, ToLayout(f))
			}
		}
	}
	if dayFirst {
		dp.fallbackLayouts = append(append([]string{}, fallbackLayouts...), dayFirstLayouts...)
	}
	return dp
}

// Parse returns the instant in UTC. ambiguous is set when a later profile
// format also accepts the value but reads a different instant from it.
func (dp *DateParser) Parse(raw string) (t time.Time, ambiguous bool, err error) {
	value := strings.Join(strings.Fields(raw), " ")
	if value == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty value", ErrUnparseableDate)
	}

	for i, layout := range dp.profileLayouts {
		parsed, err := time.ParseInLocation(layout, value, dp.location)
		if err != nil {
			continue
		}
		for _, later := range dp.profileLayouts[i+1:] {
			if other, err := time.ParseInLocation(later, value, dp.location); err == nil && !other.Equal(parsed) {
				ambiguous = true
				break
			}
		}
		return parsed.UTC(), ambiguous, nil
	}

	for _, layout := range dp.fallbackLayouts {
		if parsed, err := time.ParseInLocation(layout, value, dp.location); err == nil {
			return parsed.UTC(), false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrUnparseableDate, raw)
}

// NormalizeDate parses a single value with the profile's formats.
func NormalizeDate(raw string, p *profile.MappingProfile) (time.Time, bool, error) {
	return NewDateParser(p, false).Parse(raw)
}
