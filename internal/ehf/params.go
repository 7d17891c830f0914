package ehf

import (
	"errors"
	"fmt"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
)

// Configuration errors. They are returned before any computation starts.
var (
	ErrPercentile = errors.New("percentile must lie strictly between 0 and 100")
	ErrMethod     = errors.New("unknown quantile method")
	ErrBasePeriod = errors.New("base period must span a whole number of years, at least one")
	ErrShape      = errors.New("array shapes do not match")
	ErrNoOutput   = errors.New("neither daily nor yearly output requested")
)

// Params is the scalar configuration of a computation.
type Params struct {
	Percentile float64
	Method     Method
	Profile    calendar.Profile
	Season     calendar.Season

	// Daily requests the full-record event and duration arrays, Yearly the
	// seasonal metrics. At least one must be set.
	Daily  bool
	Yearly bool

	// Workers bounds the goroutines used per stage. Values below 1 run
	// sequentially.
	Workers int

	// OnYear, when set, is called after each season year is aggregated.
	OnYear func(year int)
}

// Validate checks the parameters that do not depend on the input arrays.
func (p Params) Validate() error {
	if !(p.Percentile > 0 && p.Percentile < 100) {
		return fmt.Errorf("%w: got %v", ErrPercentile, p.Percentile)
	}
	if !p.Method.Valid() {
		return fmt.Errorf("%w: %d", ErrMethod, int(p.Method))
	}
	if p.Profile.DaysInYear != 360 && p.Profile.DaysInYear != 365 {
		return fmt.Errorf("unsupported calendar profile: %d days per year", p.Profile.DaysInYear)
	}
	if !p.Daily && !p.Yearly {
		return ErrNoOutput
	}
	return nil
}
