// Package ehf computes the Excess Heat Factor from daily mean temperature and
// derives heatwave events and seasonal heatwave metrics from it.
//
// All arrays are time x cell fields (see Field). Inputs must be leap-day-free
// and start on 1 January; thresholds are indexed by 0-based day of year.
package ehf

import "fmt"

// Result holds the outputs of one computation.
type Result struct {
	// Thresholds is the daysInYear x cell percentile table.
	Thresholds *Field
	// EHF has the same extent as the input series.
	EHF *Field
	// Daily is the full-record event encoding; nil unless Params.Daily.
	Daily *Events
	// Yearly holds the seasonal metrics; nil unless Params.Yearly.
	Yearly *Yearly
}

// Compute runs the whole algorithm: thresholds from base, EHF from series,
// then daily events and yearly metrics as requested. Each intermediate is
// computed once and shared by both outputs.
func Compute(series, base *Field, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if series.NCells != base.NCells {
		return nil, fmt.Errorf("%w: series has %d cells, base period %d", ErrShape, series.NCells, base.NCells)
	}

	thresholds, err := Thresholds(base, p.Profile.DaysInYear, p.Percentile, p.Method, p.Workers)
	if err != nil {
		return nil, err
	}
	return FromThresholds(series, thresholds, p)
}

// FromThresholds runs every stage after threshold estimation. Callers that
// release the base period before loading the full series use it together
// with Thresholds.
func FromThresholds(series, thresholds *Field, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if thresholds.NTime != p.Profile.DaysInYear {
		return nil, fmt.Errorf("%w: %d threshold rows for %d days per year", ErrShape, thresholds.NTime, p.Profile.DaysInYear)
	}
	signal, err := Signal(series, thresholds, p.Workers)
	if err != nil {
		return nil, err
	}

	res := &Result{Thresholds: thresholds, EHF: signal}
	if p.Daily {
		res.Daily = IdentifyField(signal, p.Workers)
	}
	if p.Yearly {
		res.Yearly, err = Aggregate(signal, p.Profile, p.Season, p.Workers, p.OnYear)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
