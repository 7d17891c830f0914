package calendar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Canonical calendar names.
const (
	Gregorian = "gregorian"
	NoLeap    = "noleap"
	Day360    = "360_day"
	Julian    = "julian"
	AllLeap   = "all_leap"
)

// Normalize maps CF calendar aliases onto the canonical names. An empty
// calendar attribute is treated as gregorian.
func Normalize(cal string) string {
	switch strings.ToLower(strings.TrimSpace(cal)) {
	case "", "gregorian", "standard", "proleptic_gregorian":
		return Gregorian
	case "noleap", "365_day":
		return NoLeap
	case "360_day":
		return Day360
	case "julian":
		return Julian
	case "all_leap", "366_day":
		return AllLeap
	}
	return cal
}

// HasLeapDays reports whether dates on the calendar include 29 February.
func HasLeapDays(cal string) bool {
	switch Normalize(cal) {
	case Gregorian, Julian, AllLeap:
		return true
	}
	return false
}

// Date is a calendar date free of any particular calendar's arithmetic.
type Date struct {
	Year  int
	Month int
	Day   int
}

// IsLeapDay reports whether d is 29 February.
func (d Date) IsLeapDay() bool { return d.Month == 2 && d.Day == 29 }

func (d Date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

var noLeapCumDays = [13]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365}

// DayOfYear returns the 0-based position of d in a leap-day-free year of
// daysInYear days.
func (d Date) DayOfYear(daysInYear int) int {
	if daysInYear == 360 {
		return (d.Month-1)*30 + d.Day - 1
	}
	return noLeapCumDays[d.Month-1] + d.Day - 1
}

var unitSeconds = map[string]float64{
	"day": 86400, "days": 86400, "d": 86400,
	"hour": 3600, "hours": 3600, "h": 3600,
	"minute": 60, "minutes": 60, "min": 60,
	"second": 1, "seconds": 1, "s": 1,
}

// Decode converts CF time values ("<unit> since <reference>") into dates on
// the given calendar.
func Decode(values []float64, units, cal string) ([]Date, error) {
	unit, ref, ok := strings.Cut(units, " since ")
	if !ok {
		return nil, fmt.Errorf("time units %q: missing reference date", units)
	}
	scale, ok := unitSeconds[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return nil, fmt.Errorf("time units %q: unsupported unit %q", units, unit)
	}
	refDate, refSecs, err := parseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("time units %q: %w", units, err)
	}
	step, err := stepper(cal, refDate)
	if err != nil {
		return nil, err
	}

	dates := make([]Date, len(values))
	for i, v := range values {
		days := math.Floor((v*scale+refSecs)/86400 + 1e-9)
		dates[i] = step(int(days))
	}
	return dates, nil
}

// parseReference parses "YYYY-M-D[ HH:MM:SS[.fff]][Z]" into a date and the
// seconds elapsed since its midnight.
func parseReference(ref string) (Date, float64, error) {
	ref = strings.TrimSuffix(strings.TrimSpace(ref), "Z")
	datePart, clock, _ := strings.Cut(strings.Replace(ref, "T", " ", 1), " ")
	fields := strings.Split(datePart, "-")
	if len(fields) != 3 {
		return Date{}, 0, fmt.Errorf("malformed reference date %q", ref)
	}
	var ymd [3]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return Date{}, 0, fmt.Errorf("malformed reference date %q: %w", ref, err)
		}
		ymd[i] = n
	}
	var secs float64
	if clock = strings.TrimSpace(clock); clock != "" {
		parts := strings.Split(clock, ":")
		mult := 3600.0
		for _, p := range parts {
			n, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return Date{}, 0, fmt.Errorf("malformed reference time %q: %w", clock, err)
			}
			secs += n * mult
			mult /= 60
		}
	}
	return Date{Year: ymd[0], Month: ymd[1], Day: ymd[2]}, secs, nil
}

// stepper returns a function adding a day offset to ref with the calendar's
// arithmetic.
func stepper(cal string, ref Date) (func(int) Date, error) {
	switch Normalize(cal) {
	case Day360:
		base := ref.Year*360 + (ref.Month-1)*30 + ref.Day - 1
		return func(n int) Date {
			d := base + n
			y := floorDiv(d, 360)
			r := d - y*360
			return Date{Year: y, Month: r/30 + 1, Day: r%30 + 1}
		}, nil
	case NoLeap:
		base := ref.Year*365 + noLeapCumDays[ref.Month-1] + ref.Day - 1
		return func(n int) Date {
			d := base + n
			y := floorDiv(d, 365)
			r := d - y*365
			m := 1
			for r >= noLeapCumDays[m] {
				m++
			}
			return Date{Year: y, Month: m, Day: r - noLeapCumDays[m-1] + 1}
		}, nil
	case Gregorian, Julian:
		t0 := time.Date(ref.Year, time.Month(ref.Month), ref.Day, 0, 0, 0, 0, time.UTC)
		return func(n int) Date {
			t := t0.AddDate(0, 0, n)
			return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
		}, nil
	}
	return nil, fmt.Errorf("unsupported calendar %q", cal)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
