package dataset

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
)

const testFill = float32(1e20)

var (
	testLat = []float64{-30, -20}
	testLon = []float64{140, 145, 150}
)

func attrs(t *testing.T, kv ...any) api.AttributeMap {
	t.Helper()
	keys := []string{}
	vals := map[string]any{}
	for i := 0; i < len(kv); i += 2 {
		keys = append(keys, kv[i].(string))
		vals[kv[i].(string)] = kv[i+1]
	}
	am, err := util.NewOrderedMap(keys, vals)
	require.NoError(t, err)
	return am
}

// kelvin returns the stored value for day at grid point p.
func kelvin(day, p int) float32 { return float32(290 + day + 10*p) }

// writeTemperature writes a tasmax-like file covering days [from, from+n)
// since 2000-01-01 on the noleap calendar. Grid point 4 is missing on day
// from.
func writeTemperature(t *testing.T, path string, from, n int) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, cw.AddAttributes(attrs(t, "model_id", "ACCESS1-0", "experiment", "historical", "realization", int32(1))))

	times := make([]float64, n)
	data := make([][][]float32, n)
	for i := range times {
		day := from + i
		times[i] = float64(day)
		data[i] = make([][]float32, len(testLat))
		for la := range testLat {
			data[i][la] = make([]float32, len(testLon))
			for lo := range testLon {
				data[i][la][lo] = kelvin(day, la*len(testLon)+lo)
			}
		}
	}
	data[0][1][1] = testFill

	require.NoError(t, cw.AddVar("time", api.Variable{
		Values: times, Dimensions: []string{"time"},
		Attributes: attrs(t, "units", "days since 2000-01-01 00:00:00", "calendar", "noleap"),
	}))
	require.NoError(t, cw.AddVar("lat", api.Variable{Values: testLat, Dimensions: []string{"lat"}, Attributes: attrs(t, "units", "degrees_north")}))
	require.NoError(t, cw.AddVar("lon", api.Variable{Values: testLon, Dimensions: []string{"lon"}, Attributes: attrs(t, "units", "degrees_east")}))
	require.NoError(t, cw.AddVar("tasmax", api.Variable{
		Values: data, Dimensions: []string{"time", "lat", "lon"},
		Attributes: attrs(t, "units", "K", "_FillValue", testFill),
	}))
	require.NoError(t, cw.Close())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasmax.nc")
	writeTemperature(t, path, 0, 4)

	s, err := NewScanner(path, "tasmax")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, testLat, s.Lat())
	assert.Equal(t, testLon, s.Lon())
	assert.Equal(t, calendar.NoLeap, s.Axis().Calendar)
	assert.Equal(t, calendar.Date{Year: 2000, Month: 1, Day: 4}, s.Axis().Dates[3])
	assert.Equal(t, Meta{Model: "ACCESS1-0", Experiment: "historical", Realization: "1", Calendar: calendar.NoLeap}, s.Meta())
	assert.Contains(t, s.Summary(), "tasmax")

	require.True(t, s.Scan())
	first := s.Values()
	require.Len(t, first, 6)
	assert.InDelta(t, 290-kelvinOffset, first[0], 1e-4)
	assert.True(t, math.IsNaN(first[4]))
	assert.Nil(t, s.Values())

	require.True(t, s.Skip())
	require.True(t, s.Scan())
	third := s.Values()
	assert.InDelta(t, float64(kelvin(2, 5))-kelvinOffset, third[5], 1e-4)

	require.True(t, s.Scan())
	assert.False(t, s.Scan())
	assert.NoError(t, s.Err())
}

func TestScanner_MissingVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasmax.nc")
	writeTemperature(t, path, 0, 2)

	_, err := NewScanner(path, "tasmin")
	assert.ErrorContains(t, err, "tasmin")
}

func TestOpenAndLoad(t *testing.T) {
	dir := t.TempDir()
	writeTemperature(t, filepath.Join(dir, "tasmax_b.nc"), 5, 5)
	writeTemperature(t, filepath.Join(dir, "tasmax_a.nc"), 0, 5)

	d, err := Open(discardLogger(), filepath.Join(dir, "tasmax_*.nc"), "tasmax")
	require.NoError(t, err)
	require.Len(t, d.Files, 2)
	assert.Equal(t, "tasmax_a.nc", filepath.Base(d.Files[0]))
	require.Equal(t, 10, d.Axis.Len())
	assert.Equal(t, "ACCESS1-0", d.Meta.Model)

	grid, err := NewGrid(testLat, testLon, []float64{0, 1, 0, 0, 1, 1})
	require.NoError(t, err)

	f, err := d.Load([]int{1, 4, 5, 9}, grid)
	require.NoError(t, err)
	require.Equal(t, 4, f.NTime)
	require.Equal(t, 3, f.NCells)

	for row, day := range []int{1, 4, 5, 9} {
		for k, p := range grid.Cells {
			want := float64(kelvin(day, p)) - kelvinOffset
			if day == 5 && p == 4 {
				assert.True(t, math.IsNaN(f.At(row, k)))
				continue
			}
			assert.InDelta(t, want, f.At(row, k), 1e-4, "day %d point %d", day, p)
		}
	}

	_, err = d.Load([]int{3, 12}, grid)
	assert.Error(t, err)
	_, err = d.Load([]int{4, 1}, grid)
	assert.Error(t, err)
}

func TestOpen_NoFiles(t *testing.T) {
	_, err := Open(discardLogger(), filepath.Join(t.TempDir(), "*.nc"), "tasmax")
	assert.ErrorContains(t, err, "no files match")
}

func TestAverage(t *testing.T) {
	a := &ehf.Field{NTime: 1, NCells: 2, Data: []float64{10, 20}}
	b := &ehf.Field{NTime: 1, NCells: 2, Data: []float64{20, math.NaN()}}
	require.NoError(t, Average(a, b))
	assert.Equal(t, 15.0, a.Data[0])
	assert.True(t, math.IsNaN(a.Data[1]))

	assert.ErrorIs(t, Average(a, ehf.NewField(2, 2)), ehf.ErrShape)
}

func TestGrid(t *testing.T) {
	g, err := NewGrid(testLat, testLon, []float64{1, 0, math.NaN(), 0, 0.5, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 5}, g.Cells)

	lat, lon := g.Point(1)
	assert.Equal(t, -20.0, lat)
	assert.Equal(t, 145.0, lon)

	cells := make([]float64, g.Len())
	g.Gather(cells, []float64{10, 11, 12, 13, 14, 15})
	assert.Equal(t, []float64{10, 14, 15}, cells)

	assert.Equal(t, [][]float64{{7, -1, -1}, {-1, -1, 9}}, g.Scatter([]float64{7, math.NaN(), 9}, -1))

	_, err = NewGrid(testLat, testLon, []float64{1})
	assert.Error(t, err)

	full := FullGrid(testLat, testLon)
	assert.Equal(t, 6, full.Len())
}

func TestLoadMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sftlf.nc")
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, cw.AddVar("sftlf", api.Variable{
		Values:     [][][]float32{{{100, 0, 0}, {35.5, 0, 100}}},
		Dimensions: []string{"time", "lat", "lon"},
		Attributes: attrs(t, "units", "%"),
	}))
	require.NoError(t, cw.Close())

	g, err := LoadMask(path, "sftlf", testLat, testLon)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 5}, g.Cells)

	_, err = LoadMask(path, "sftlf", testLat, testLon[:2])
	assert.Error(t, err)
}

func TestRecordScanner(t *testing.T) {
	grid, err := NewGrid(testLat, testLon, []float64{0, 1, 0, 0, 0, 1})
	require.NoError(t, err)

	y := ehf.NewYearly(3, 2)
	for g := 0; g < 2; g++ {
		y.HWN[g], y.HWF[g] = 0, 0
		i := 2*2 + g
		y.HWA[i], y.HWM[i], y.HWN[i], y.HWF[i], y.HWD[i], y.HWT[i] = 8, 5, 1, 4, 4, 12
	}

	s := NewRecordScanner(y, grid, 1990)
	assert.Equal(t, 6, s.TotalRecCount())

	require.True(t, s.Scan())
	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 1990, recs[0].Year)
	assert.Equal(t, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), recs[0].Timestamp)
	assert.Equal(t, -30.0, recs[0].Latitude)
	assert.Equal(t, 145.0, recs[0].Longitude)
	assert.True(t, math.IsNaN(recs[0].HWA))
	assert.Nil(t, s.Records())

	// 1991 was never aggregated.
	require.True(t, s.Scan())
	recs = s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 1992, recs[1].Year)
	assert.Equal(t, 150.0, recs[1].Longitude)
	names, values := recs[1].Fields()
	assert.Equal(t, MetricNames, names)
	assert.Equal(t, [6]float64{8, 5, 1, 4, 4, 12}, values)

	assert.False(t, s.Scan())
}

func testRun() Run {
	return Run{
		Meta:       Meta{Model: "ACCESS1-0", Experiment: "historical", Realization: "1", Calendar: calendar.Gregorian},
		Season:     calendar.Summer,
		Percentile: 90,
		BaseStart:  1961,
		BaseEnd:    1990,
		Span:       calendar.Span{FirstYear: 1961, LastYear: 1962, Shorten: 1},
		DaysInYear: 365,
		TmaxFile:   "tasmax_*.nc",
		TminFile:   "tasmin_*.nc",
	}
}

func getAttr(t *testing.T, am api.AttributeMap, key string) any {
	t.Helper()
	v, ok := am.Get(key)
	require.True(t, ok, "attribute %s", key)
	return v
}

func TestWriteYearly(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))
	w := NewWriter(clock, dir, testRun())
	grid, err := NewGrid(testLat, testLon, []float64{1, 1, 1, 1, 1, 0})
	require.NoError(t, err)

	thresholds := ehf.NewField(365, grid.Len())
	y := ehf.NewYearly(2, grid.Len())
	y.HWN[0], y.HWF[0], y.HWA[0] = 2, 9, 31.5

	path, err := w.WriteYearly(grid, thresholds, y)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "EHF_heatwaves_ACCESS1-0_historical_r1_yearly_summer.nc"), path)

	nc, err := netcdf.Open(path)
	require.NoError(t, err)
	defer nc.Close()

	ga := nc.Attributes()
	assert.Equal(t, "2024-03-05", getAttr(t, ga, "date"))
	assert.Equal(t, "Nov-Mar", getAttr(t, ga, "definition"))
	assert.Equal(t, "1961-1962", getAttr(t, ga, "period"))
	assert.Equal(t, "90th", getAttr(t, ga, "percentile"))
	assert.Equal(t, "ACCESS1-0", getAttr(t, ga, "model_id"))
	_, hasMask := ga.Get("mask_file")
	assert.False(t, hasMask)

	for _, name := range []string{"time", "lat", "lon", "t90pct", "HWA_EHF", "HWM_EHF", "HWN_EHF", "HWF_EHF", "HWD_EHF", "HWT_EHF"} {
		assert.Contains(t, nc.ListVariables(), name)
	}

	vg, err := nc.GetVarGetter("HWN_EHF")
	require.NoError(t, err)
	raw, err := vg.Values()
	require.NoError(t, err)
	hwn, err := toFloat64(raw)
	require.NoError(t, err)
	require.Len(t, hwn, 2*6)
	assert.Equal(t, 2.0, hwn[0])
	assert.Equal(t, FillValue, hwn[1])
	assert.Equal(t, FillValue, hwn[5])

	years, _, err := coordValues(nc, "time")
	require.NoError(t, err)
	assert.Equal(t, []float64{1961, 1962}, years)
}

func TestWriteDaily(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(clockwork.NewFakeClock(), dir, testRun())
	grid := FullGrid(testLat, testLon[:1])

	signal := &ehf.Field{NTime: 3, NCells: 2, Data: []float64{math.NaN(), 0, 1, 2, 3, 0}}
	events := &ehf.Events{
		NTime: 3, NCells: 2,
		Event:    []bool{false, false, true, false, true, false},
		Duration: []int{0, 0, 2, 0, 0, 0},
	}
	path, err := w.WriteDaily(grid, signal, events)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "EHF_heatwaves_ACCESS1-0_historical_r1_daily.nc"), path)

	nc, err := netcdf.Open(path)
	require.NoError(t, err)
	defer nc.Close()

	tv, err := nc.GetVarGetter("time")
	require.NoError(t, err)
	assert.Equal(t, "days since 1961-01-01", getAttr(t, tv.Attributes(), "units"))
	assert.Equal(t, "365_day", getAttr(t, tv.Attributes(), "calendar"))

	days, _, err := coordValues(nc, "time")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, days)

	for name, want := range map[string][]float64{
		"ehf":   {FillValue, 0, 1, 2, 3, 0},
		"event": {0, 0, 1, 0, 1, 0},
		"ends":  {0, 0, 2, 0, 0, 0},
	} {
		got, _, err := coordValues(nc, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestPercentileName(t *testing.T) {
	assert.Equal(t, "t90pct", PercentileName(90))
	assert.Equal(t, "t97.5pct", PercentileName(97.5))
}
