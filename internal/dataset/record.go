package dataset

import (
	"math"
	"time"

	"github.com/rtm0/ehfheatwaves/internal/ehf"
)

// Record is the set of seasonal heatwave metrics computed for a given grid
// point in a given season year.
type Record struct {
	// Dimensions
	Year      int
	Timestamp int64 // 1 January of Year, 00:00 UTC, in milliseconds
	Latitude  float64
	Longitude float64

	// Metrics; NaN when undefined.
	HWA float64
	HWM float64
	HWN float64
	HWF float64
	HWD float64
	HWT float64
}

// Fields returns the metric names and values in output order.
func (r *Record) Fields() ([6]string, [6]float64) {
	return MetricNames, [6]float64{r.HWA, r.HWM, r.HWN, r.HWF, r.HWD, r.HWT}
}

// MetricNames are the seasonal metric names in output order.
var MetricNames = [6]string{"HWA", "HWM", "HWN", "HWF", "HWD", "HWT"}

// RecordScanner flattens yearly metrics into records one season year at a
// time. Years in which no cell has a defined metric are skipped.
type RecordScanner struct {
	yearly    *ehf.Yearly
	grid      *Grid
	firstYear int
	pos       int
	recs      []Record
}

// NewRecordScanner creates a scanner over yearly. Year index 0 is firstYear.
func NewRecordScanner(yearly *ehf.Yearly, grid *Grid, firstYear int) *RecordScanner {
	return &RecordScanner{yearly: yearly, grid: grid, firstYear: firstYear}
}

// Summary returns the summary information about the records suitable for
// logging.
func (s *RecordScanner) Summary() []any {
	return []any{
		"metrics", MetricNames[:],
		"yearCnt", s.yearly.NYears,
		"cellCnt", s.yearly.NCells,
		"firstYear", s.firstYear,
		"totalRecCnt", s.TotalRecCount(),
	}
}

// TotalRecCount returns the maximum number of records the scanner produces.
func (s *RecordScanner) TotalRecCount() int {
	return s.yearly.NYears * s.yearly.NCells
}

// Scan builds the records of the next season year that has data.
func (s *RecordScanner) Scan() bool {
	for s.pos < s.yearly.NYears {
		y := s.pos
		s.pos++
		if recs := s.year(y); len(recs) > 0 {
			s.recs = recs
			return true
		}
	}
	return false
}

func (s *RecordScanner) year(y int) []Record {
	year := s.firstYear + y
	ts := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	var recs []Record
	for g := 0; g < s.yearly.NCells; g++ {
		m := s.yearly.Metric(y, g)
		if math.IsNaN(m.HWN) {
			continue
		}
		lat, lon := s.grid.Point(g)
		recs = append(recs, Record{
			Year:      year,
			Timestamp: ts,
			Latitude:  lat,
			Longitude: lon,
			HWA:       m.HWA,
			HWM:       m.HWM,
			HWN:       m.HWN,
			HWF:       m.HWF,
			HWD:       m.HWD,
			HWT:       m.HWT,
		})
	}
	return recs
}

// Records returns the records that have been read by the last Scan()
// operation. The function transfers ownership of records to the caller and
// the subsequent calls to this function without prior invocation of Scan()
// will return nil.
func (s *RecordScanner) Records() []Record {
	recs := s.recs
	s.recs = nil
	return recs
}
