package calendar

import (
	"errors"
	"fmt"
)

// Axis is a decoded daily time coordinate.
type Axis struct {
	Calendar string
	Dates    []Date
}

// Span describes the complete-year extent of a record.
type Span struct {
	FirstYear int
	LastYear  int
	// Shorten is the number of days missing from the end of LastYear.
	Shorten int
}

// NYears returns the number of years covered by the span.
func (s Span) NYears() int { return s.LastYear - s.FirstYear + 1 }

// NewAxis decodes CF time values into an Axis.
func NewAxis(values []float64, units, cal string) (*Axis, error) {
	dates, err := Decode(values, units, cal)
	if err != nil {
		return nil, err
	}
	return &Axis{Calendar: Normalize(cal), Dates: dates}, nil
}

// Concat joins axes read from consecutive files.
func Concat(axes ...*Axis) (*Axis, error) {
	if len(axes) == 0 {
		return nil, errors.New("no time axes to join")
	}
	out := &Axis{Calendar: axes[0].Calendar}
	for _, a := range axes {
		if a.Calendar != out.Calendar {
			return nil, fmt.Errorf("mixed calendars %q and %q", out.Calendar, a.Calendar)
		}
		if n := len(out.Dates); n > 0 && len(a.Dates) > 0 && !before(out.Dates[n-1], a.Dates[0]) {
			return nil, fmt.Errorf("time axis not increasing at %s -> %s", out.Dates[n-1], a.Dates[0])
		}
		out.Dates = append(out.Dates, a.Dates...)
	}
	return out, nil
}

func before(a, b Date) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	if a.Month != b.Month {
		return a.Month < b.Month
	}
	return a.Day < b.Day
}

// Len returns the number of time steps.
func (a *Axis) Len() int { return len(a.Dates) }

func (a *Axis) dropped(i int) bool {
	return HasLeapDays(a.Calendar) && a.Dates[i].IsLeapDay()
}

// Years returns the indices of the steps whose year lies in [from, to], with
// 29 February removed on calendars that have it.
func (a *Axis) Years(from, to int) []int {
	var idx []int
	for i, d := range a.Dates {
		if d.Year < from || d.Year > to || a.dropped(i) {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// Span returns the complete-year extent of the axis. A record that does not
// start on 1 January begins with the following year.
func (a *Axis) Span(daysInYear int) Span {
	if len(a.Dates) == 0 {
		return Span{}
	}
	first, last := a.Dates[0], a.Dates[len(a.Dates)-1]
	s := Span{FirstYear: first.Year, LastYear: last.Year}
	if first.Month != 1 || first.Day != 1 {
		s.FirstYear++
	}
	s.Shorten = daysInYear - 1 - last.DayOfYear(daysInYear)
	if last.IsLeapDay() {
		s.Shorten++
	}
	return s
}
