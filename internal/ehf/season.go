package ehf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
)

// Allowance is the number of days past the nominal season end that are kept
// while segmenting, so heatwaves starting inside the season are measured to
// their full length.
const Allowance = 10

// Yearly holds the six seasonal heatwave metrics, each stored year x cell
// row-major. Years that were not aggregated are NaN in every metric.
type Yearly struct {
	NYears int
	NCells int

	HWA []float64 // peak EHF of the season's most intense heatwave
	HWM []float64 // mean of the per-heatwave mean EHF
	HWN []float64 // number of heatwaves
	HWF []float64 // heatwave days
	HWD []float64 // duration of the longest heatwave
	HWT []float64 // first heatwave day, counted from the season start
}

// NewYearly allocates metrics filled with NaN.
func NewYearly(nYears, nCells int) *Yearly {
	nan := func() []float64 { return NaNField(nYears, nCells).Data }
	return &Yearly{
		NYears: nYears,
		NCells: nCells,
		HWA:    nan(),
		HWM:    nan(),
		HWN:    nan(),
		HWF:    nan(),
		HWD:    nan(),
		HWT:    nan(),
	}
}

// SeasonMetrics are the metrics of one cell for one season.
type SeasonMetrics struct {
	HWA, HWM, HWN, HWF, HWD, HWT float64
}

// Metric returns the metrics of year y at cell g.
func (m *Yearly) Metric(y, g int) SeasonMetrics {
	i := y*m.NCells + g
	return SeasonMetrics{HWA: m.HWA[i], HWM: m.HWM[i], HWN: m.HWN[i], HWF: m.HWF[i], HWD: m.HWD[i], HWT: m.HWT[i]}
}

func (m *Yearly) set(y, g int, s SeasonMetrics) {
	i := y*m.NCells + g
	m.HWA[i], m.HWM[i], m.HWN[i] = s.HWA, s.HWM, s.HWN
	m.HWF[i], m.HWD[i], m.HWT[i] = s.HWF, s.HWD, s.HWT
}

// Season reduces one cell's EHF window to the season's metrics. window covers
// the season plus any trailing allowance; only heatwaves starting in the
// first keep days are counted. Without heatwaves HWN and HWF are 0 and the
// other metrics NaN.
func Season(window []float64, keep int) SeasonMetrics {
	event, duration := Identify(window)
	if keep > len(window) {
		keep = len(window)
	}
	s := SeasonMetrics{HWA: math.NaN(), HWM: math.NaN(), HWD: math.NaN(), HWT: math.NaN()}

	var mags []float64
	var starts []int
	for t := 0; t < keep; t++ {
		d := duration[t]
		if d == 0 {
			continue
		}
		s.HWN++
		s.HWF += float64(d)
		if math.IsNaN(s.HWD) || float64(d) > s.HWD {
			s.HWD = float64(d)
		}
		mags = append(mags, nanMean(window[t:t+d]))
		starts = append(starts, t)
	}
	if len(mags) == 0 {
		return s
	}

	s.HWM = stat.Mean(mags, nil)
	hottest := floats.MaxIdx(mags)
	t0 := starts[hottest]
	s.HWA = floats.Max(window[t0 : t0+duration[t0]])
	for t := 0; t < keep; t++ {
		if event[t] {
			s.HWT = float64(t)
			break
		}
	}
	return s
}

func nanMean(x []float64) float64 {
	var sum float64
	n := 0
	for _, v := range x {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Aggregate computes the yearly metrics of a full-record EHF field that
// starts on 1 January. Year y's window runs from profile.StartDay to
// profile.EndDay days after 1 January of year y, plus Allowance days for
// segmentation. The final year is skipped in summer since its season ends in
// a year the record does not cover.
func Aggregate(ehf *Field, profile calendar.Profile, season calendar.Season, workers int, onYear func(int)) (*Yearly, error) {
	d := profile.DaysInYear
	if d <= 0 || profile.EndDay <= profile.StartDay {
		return nil, fmt.Errorf("invalid calendar profile %+v", profile)
	}
	nYears := (ehf.NTime + d - 1) / d
	out := NewYearly(nYears, ehf.NCells)

	for y := 0; y < nYears; y++ {
		from := profile.StartDay + d*y
		if (season == calendar.Summer && y == nYears-1) || from >= ehf.NTime {
			if onYear != nil {
				onYear(y)
			}
			continue
		}
		// The last Allowance days of the window are never a heatwave start,
		// including when the record ends inside the season.
		to := min(profile.EndDay+d*y+Allowance, ehf.NTime)
		keep := max(to-from-Allowance, 0)
		forEachCell(ehf.NCells, workers, func(g int) {
			out.set(y, g, Season(ehf.Column(g, from, to), keep))
		})
		if onYear != nil {
			onYear(y)
		}
	}
	return out, nil
}
