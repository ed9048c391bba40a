package profitloss

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// excelEpochOffset is the number of days between the spreadsheet epoch
// (1899-12-30) and the Unix epoch.
const excelEpochOffset = 25569

// maxExcelSerial corresponds to 9999-12-31.
const maxExcelSerial = 2958465

var (
	numericPattern = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	dmyPattern     = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2}|\d{4})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006/01/02 15:04:05",
}

var genericLayouts = []string{
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
	"Mon Jan 2 2006",
	"Mon Jan 02 2006 15:04:05",
}

// ParseNumber coerces a raw cell into a float. Currency symbols, thousands
// separators and whitespace are ignored. Garbage yields 0.
func ParseNumber(raw any) float64 {
	switch v := raw.(type) {
	case nil, bool, time.Time:
		return 0
	case string:
		return parseNumericText(v)
	case []byte:
		return parseNumericText(string(v))
	case json.Number:
		return parseNumericText(v.String())
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return parseNumericText(cast.ToString(raw))
	}
	return finite(f)
}

func parseNumericText(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	if negative && f > 0 {
		f = -f
	}
	return finite(f)
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseDate recognises native dates, spreadsheet serials, ISO strings and
// day-first D/M/Y text. ok is false when nothing matches.
func ParseDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil, bool:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return parseDateText(v)
	case []byte:
		return parseDateText(string(v))
	case json.Number:
		return parseDateText(v.String())
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return time.Time{}, false
	}
	return serialToTime(f)
}

func parseDateText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if numericPattern.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			if t, ok := serialToTime(f); ok {
				return t, true
			}
		}
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, ok := parseDayFirst(s); ok {
		return t, true
	}
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDayFirst(s string) (time.Time, bool) {
	parts := dmyPattern.FindStringSubmatch(s)
	if parts == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(parts[1])
	month, _ := strconv.Atoi(parts[2])
	year, _ := strconv.Atoi(parts[3])
	if len(parts[3]) == 2 {
		if year > 50 {
			year += 1900
		} else {
			year += 2000
		}
	}
	// Day first; only fall back to month first when the second component
	// cannot be a month.
	if month > 12 && day <= 12 {
		day, month = month, day
	}
	if day < 1 || month < 1 || month > 12 {
		return time.Time{}, false
	}
	hour, minute, second := atoiOrZero(parts[4]), atoiOrZero(parts[5]), atoiOrZero(parts[6])
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func serialToTime(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial <= 0 || serial > maxExcelSerial {
		return time.Time{}, false
	}
	ms := math.Round((serial - excelEpochOffset) * 86400 * 1000)
	return time.UnixMilli(int64(ms)).UTC(), true
}

// plausibleSerial bounds numeric cells that may be read as dates while
// scanning a row for a date (roughly 1954 to 2119).
func plausibleSerial(f float64) bool {
	return f >= 20000 && f <= 80000
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(finite(v)).Round(2).Float64()
	return f
}
