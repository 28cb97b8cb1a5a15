// Package cron parses 5-field cron expressions and computes when they next
// match.
//
//	┌──────── minute        0-59
//	│ ┌────── hour          0-23
//	│ │ ┌──── day of month  1-31
//	│ │ │ ┌── month         1-12 or JAN-DEC
//	│ │ │ │ ┌ day of week   0-7 or SUN-SAT (0 and 7 are Sunday)
//	* * * * *
//
// Fields accept values, ranges (1-5), lists (1,3,5) and steps (*/15, 1-30/5).
// The descriptors @yearly, @annually, @monthly, @weekly, @daily, @midnight
// and @hourly are also recognised. When both day fields are restricted a day
// matches if either does, as in Vixie cron.
package cron

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// searchHorizon bounds Next so impossible dates like Feb 30 terminate.
const searchHorizon = 5 // years

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var dayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

type field struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var fields = [5]field{
	{"minute", 0, 59, nil},
	{"hour", 0, 23, nil},
	{"day-of-month", 1, 31, nil},
	{"month", 1, 12, monthNames},
	{"day-of-week", 0, 7, dayNames},
}

type bits uint64

func (b bits) has(v int) bool { return b&(1<<uint(v)) != 0 }

// Schedule is a parsed expression bound to a time zone.
type Schedule struct {
	expr             string
	minute, hour     bits
	dom, month, dow  bits
	domStar, dowStar bool
	loc              *time.Location
}

// Parse parses expr with times interpreted in UTC.
func Parse(expr string) (Schedule, error) {
	return ParseInLocation(expr, time.UTC)
}

// ParseInLocation parses expr with times interpreted in loc.
func ParseInLocation(expr string, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	text := strings.TrimSpace(expr)
	if strings.HasPrefix(text, "@") {
		expanded, ok := descriptors[strings.ToLower(text)]
		if !ok {
			return Schedule{}, errors.Errorf("cron: unknown descriptor %q", text)
		}
		text = expanded
	}

	parts := strings.Fields(text)
	if len(parts) != len(fields) {
		return Schedule{}, errors.Errorf("cron: expected 5 fields, got %d", len(parts))
	}

	var parsed [5]bits
	for i, f := range fields {
		b, err := f.parse(parts[i])
		if err != nil {
			return Schedule{}, errors.Wrapf(err, "cron: %s field", f.name)
		}
		parsed[i] = b
	}
	// Sunday may be written as 7.
	dow := parsed[4]
	if dow.has(7) {
		dow = (dow | 1) &^ (1 << 7)
	}

	return Schedule{
		expr:    expr,
		minute:  parsed[0],
		hour:    parsed[1],
		dom:     parsed[2],
		month:   parsed[3],
		dow:     dow,
		domStar: strings.HasPrefix(parts[2], "*"),
		dowStar: strings.HasPrefix(parts[4], "*"),
		loc:     loc,
	}, nil
}

// MustParse is Parse for expressions known to be valid. It panics otherwise.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the expression as written.
func (s Schedule) String() string { return s.expr }

// Location returns the zone the schedule is evaluated in.
func (s Schedule) Location() *time.Location { return s.loc }

// Next returns the first matching minute strictly after t, in the
// schedule's location.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	t = t.In(s.loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(searchHorizon, 0, 0)

	for t.Before(limit) {
		if !s.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, s.loc)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, s.loc)
			continue
		}
		if !s.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, s.loc)
			continue
		}
		if !s.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, errors.Errorf("cron: %q never matches within %d years", s.expr, searchHorizon)
}

func (s Schedule) dayMatches(t time.Time) bool {
	dom := s.dom.has(t.Day())
	dow := s.dow.has(int(t.Weekday()))
	if !s.domStar && !s.dowStar {
		return dom || dow
	}
	return dom && dow
}

func (f field) parse(text string) (bits, error) {
	var out bits
	for _, term := range strings.Split(text, ",") {
		b, err := f.parseTerm(term)
		if err != nil {
			return 0, err
		}
		out |= b
	}
	return out, nil
}

// parseTerm handles *, */N, V, V-V and V-V/N. A stepped single value V/N
// runs from V to the field maximum.
func (f field) parseTerm(term string) (bits, error) {
	rangePart, stepPart, stepped := strings.Cut(term, "/")
	step := 1
	if stepped {
		n, err := strconv.Atoi(stepPart)
		if err != nil {
			return 0, errors.Errorf("invalid step %q", stepPart)
		}
		if n <= 0 {
			return 0, errors.Errorf("step must be positive, got %d", n)
		}
		step = n
	}

	var lo, hi int
	switch {
	case rangePart == "*":
		lo, hi = f.min, f.max
		if f.name == "day-of-week" {
			hi = 6
		}
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = f.value(a); err != nil {
			return 0, err
		}
		if hi, err = f.value(b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, errors.Errorf("range start %d > end %d", lo, hi)
		}
	default:
		v, err := f.value(rangePart)
		if err != nil {
			return 0, err
		}
		lo, hi = v, v
		if stepped {
			hi = f.max
		}
	}

	var out bits
	for v := lo; v <= hi; v += step {
		out |= 1 << uint(v)
	}
	return out, nil
}

func (f field) value(text string) (int, error) {
	if n, ok := f.names[strings.ToUpper(text)]; ok {
		return n, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, errors.Errorf("invalid value %q", text)
	}
	if v < f.min || v > f.max {
		return 0, errors.Errorf("value %d out of range [%d-%d]", v, f.min, f.max)
	}
	return v, nil
}
