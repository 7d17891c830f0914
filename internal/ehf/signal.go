package ehf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	recentDays      = 3
	acclimatiseDays = 30

	// HistoryDays is the number of leading days without an EHF value: the
	// acclimatisation window must be complete before the first estimate.
	HistoryDays = recentDays + acclimatiseDays - 1
)

// thresholdRow returns the threshold-table row for day t of a record that
// starts on 1 January. The expression matches the published EHF indexing; a
// negative result wraps to the last row, so the row always equals
// t mod daysInYear.
func thresholdRow(t, daysInYear int) int {
	row := t - daysInYear*((t+1)/daysInYear)
	if row < 0 {
		row += daysInYear
	}
	return row
}

// cellSignal computes the EHF series of one cell from its daily mean
// temperature and its day-of-year thresholds.
func cellSignal(tave, thresholds []float64) []float64 {
	daysInYear := len(thresholds)
	out := make([]float64, len(tave))
	for t := range out {
		if t < HistoryDays {
			out[t] = math.NaN()
			continue
		}
		recent := stat.Mean(tave[t-recentDays+1:t+1], nil)
		accl := recent - stat.Mean(tave[t-HistoryDays:t-recentDays+1], nil)
		sig := recent - thresholds[thresholdRow(t, daysInYear)]
		v := math.Max(accl, 1) * sig
		if v < 0 {
			v = 0
		}
		out[t] = v
	}
	return out
}

// Signal computes the Excess Heat Factor for every day and cell of series.
// The first HistoryDays days are NaN; every defined value is >= 0. NaN
// temperatures or thresholds propagate to NaN.
func Signal(series, thresholds *Field, workers int) (*Field, error) {
	if series.NCells != thresholds.NCells {
		return nil, fmt.Errorf("%w: series has %d cells, thresholds %d", ErrShape, series.NCells, thresholds.NCells)
	}
	if thresholds.NTime == 0 {
		return nil, fmt.Errorf("%w: empty threshold table", ErrShape)
	}
	out := NewField(series.NTime, series.NCells)
	forEachCell(series.NCells, workers, func(g int) {
		out.SetColumn(g, cellSignal(
			series.Column(g, 0, series.NTime),
			thresholds.Column(g, 0, thresholds.NTime),
		))
	})
	return out, nil
}
