package ehf

import "fmt"

// WindowSize is the number of calendar days pooled around each day of year
// when estimating its threshold.
const WindowSize = 15

// WindowMask returns the calendar days pooled for day: the WindowSize days
// centred on it, wrapping across the year end so that day 0 includes the last
// 7 and the first 8 days of the year.
func WindowMask(daysInYear, day int) []bool {
	mask := make([]bool, daysInYear)
	for _, d := range windowDays(daysInYear, day) {
		mask[d] = true
	}
	return mask
}

func windowDays(daysInYear, day int) []int {
	before := WindowSize / 2
	after := WindowSize - before
	days := make([]int, 0, WindowSize)
	for off := -before; off < after; off++ {
		days = append(days, ((day+off)%daysInYear+daysInYear)%daysInYear)
	}
	return days
}

// cellThresholds estimates the day-of-year threshold table of one cell from
// its base-period series.
func cellThresholds(base []float64, daysInYear int, pct float64, m Method) []float64 {
	nYears := len(base) / daysInYear
	out := make([]float64, daysInYear)
	sample := make([]float64, 0, WindowSize*nYears)
	for day := range out {
		sample = sample[:0]
		for _, d := range windowDays(daysInYear, day) {
			for y := 0; y < nYears; y++ {
				sample = append(sample, base[y*daysInYear+d])
			}
		}
		out[day] = m.Quantile(sample, pct)
	}
	return out
}

// Thresholds computes the day-of-year threshold table (daysInYear x cell)
// from a base-period sample that starts on 1 January and covers whole,
// leap-day-free years.
func Thresholds(base *Field, daysInYear int, pct float64, m Method, workers int) (*Field, error) {
	if !(pct > 0 && pct < 100) {
		return nil, fmt.Errorf("%w: got %v", ErrPercentile, pct)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrMethod, int(m))
	}
	if daysInYear <= 0 || base.NTime < daysInYear || base.NTime%daysInYear != 0 {
		return nil, fmt.Errorf("%w: %d days with %d days per year", ErrBasePeriod, base.NTime, daysInYear)
	}

	out := NewField(daysInYear, base.NCells)
	forEachCell(base.NCells, workers, func(g int) {
		out.SetColumn(g, cellThresholds(base.Column(g, 0, base.NTime), daysInYear, pct, m))
	})
	return out, nil
}
