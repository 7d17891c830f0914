// Package calendar holds the calendar-dependent constants of a heatwave run
// and decodes CF time coordinates into leap-day-free daily axes.
package calendar

import (
	"fmt"
	"strings"
)

// Season selects the months aggregated into yearly heatwave metrics. Seasons
// are austral: summer spans Nov-Mar and therefore crosses a year boundary.
type Season int

const (
	Summer Season = iota
	Winter
)

// ParseSeason converts a season name into a Season.
func ParseSeason(name string) (Season, error) {
	switch strings.ToLower(name) {
	case "summer":
		return Summer, nil
	case "winter":
		return Winter, nil
	}
	return 0, fmt.Errorf("unknown season %q: use summer or winter", name)
}

func (s Season) String() string {
	if s == Winter {
		return "winter"
	}
	return "summer"
}

// Definition returns the months covered by the season.
func (s Season) Definition() string {
	if s == Winter {
		return "May-Sep"
	}
	return "Nov-Mar"
}

// Profile is the fixed calendar record of a run. StartDay and EndDay are
// 0-based day offsets from 1 January of the season year; EndDay is exclusive
// and may exceed DaysInYear for seasons that cross into the next year.
type Profile struct {
	DaysInYear int
	SeasonLen  int
	StartDay   int
	EndDay     int
}

// Lookup returns the profile for a CF calendar name and season.
func Lookup(cal string, season Season) (Profile, error) {
	switch Normalize(cal) {
	case Day360:
		if season == Winter {
			return Profile{DaysInYear: 360, SeasonLen: 150, StartDay: 121, EndDay: 271}, nil
		}
		return Profile{DaysInYear: 360, SeasonLen: 150, StartDay: 301, EndDay: 451}, nil
	case Gregorian, NoLeap, Julian:
		if season == Winter {
			return Profile{DaysInYear: 365, SeasonLen: 153, StartDay: 121, EndDay: 274}, nil
		}
		return Profile{DaysInYear: 365, SeasonLen: 151, StartDay: 304, EndDay: 455}, nil
	}
	return Profile{}, fmt.Errorf("unsupported calendar %q", cal)
}
