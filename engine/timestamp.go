package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = buildTimestampLayouts()

func buildTimestampLayouts() []string {
	zones := []string{"", "Z0700", "Z07:00", "Z07", " Z0700", " Z07:00"}
	var layouts []string
	for _, sep := range []string{" ", "T"} {
		for _, clock := range []string{"15:04:05", "15:04"} {
			for _, z := range zones {
				layouts = append(layouts, time.DateOnly+sep+clock+z)
			}
		}
	}
	for _, z := range zones {
		layouts = append(layouts, time.DateOnly+z)
	}
	return layouts
}

// ParseTimestamp parses a timestamp in the engine's textual grammar and
// returns milliseconds since the Unix epoch. A string of decimal digits
// (with optional sign) is taken as milliseconds directly. Otherwise the
// grammar is yyyy-mm-dd[( |T)HH:MM[:SS[.fff]]][Z|±HHMM|±HH:MM|±HH]; a
// missing zone means UTC.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if isDecimal(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, ErrTimestampRange
		}
		return ms, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("Unable to parse timestamp from '%s'", s)
}

func isDecimal(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Calendar bounds accepted for date components.
const (
	MinYear = 1400
	MaxYear = 9999
)

// ErrTimestampRange is returned for millisecond counts outside int64.
var ErrTimestampRange = errors.New("timestamp value must fit in signed 64 bits")

var (
	ErrYearRange  = errors.New("Year is out of valid range: 1400..9999")
	ErrMonthRange = errors.New("Month number is out of range 1..12")
	ErrDayRange   = errors.New("Day of month value is out of range 1..31")
	ErrDayInMonth = errors.New("Day of month is not valid for year")
)

// TimestampFromFields returns milliseconds since the epoch for a UTC
// calendar time. Clock fields outside their usual range are normalized.
func TimestampFromFields(year, month, day, hour, min, sec int64) (int64, error) {
	if year < MinYear || year > MaxYear {
		return 0, ErrYearRange
	}
	if month < 1 || month > 12 {
		return 0, ErrMonthRange
	}
	if day < 1 || day > 31 {
		return 0, ErrDayRange
	}
	t := time.Date(int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC)
	if t.Day() != int(day) {
		return 0, ErrDayInMonth
	}
	t = t.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second)
	return t.UnixMilli(), nil
}

// DateOf returns the date-type day number of the UTC day containing t.
func DateOf(t time.Time) uint32 {
	days := t.UTC().Unix() / 86400
	if t.UTC().Unix() < 0 && t.UTC().Unix()%86400 != 0 {
		days--
	}
	return uint32(days + DateEpoch)
}
