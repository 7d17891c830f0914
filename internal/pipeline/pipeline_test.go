package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/ehfheatwaves/internal/config"
	"github.com/rtm0/ehfheatwaves/internal/dataset"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
	"github.com/rtm0/ehfheatwaves/internal/observability"
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

// writeInput writes a 2x2 daily temperature file of n days starting at the
// reference date of units.
func writeInput(t *testing.T, path, variable, units, cal string, n int, offsetK float32) {
	t.Helper()
	cw, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, cw.AddAttributes(attrs(t, "model_id", "TEST", "experiment", "historical", "realization", "1")))

	times := make([]float64, n)
	data := make([][][]float32, n)
	for day := range times {
		times[day] = float64(day)
		data[day] = make([][]float32, 2)
		for la := 0; la < 2; la++ {
			data[day][la] = make([]float32, 2)
			for lo := 0; lo < 2; lo++ {
				p := float64(la*2 + lo)
				v := 295 + 8*math.Sin(2*math.Pi*float64(day)/365) + 3*math.Sin(float64(day)*(p+2)/7)
				data[day][la][lo] = float32(v) + offsetK
			}
		}
	}
	require.NoError(t, cw.AddVar("time", api.Variable{Values: times, Dimensions: []string{"time"},
		Attributes: attrs(t, "units", units, "calendar", cal)}))
	require.NoError(t, cw.AddVar("lat", api.Variable{Values: []float64{-35, -30}, Dimensions: []string{"lat"}, Attributes: attrs(t, "units", "degrees_north")}))
	require.NoError(t, cw.AddVar("lon", api.Variable{Values: []float64{145, 150}, Dimensions: []string{"lon"}, Attributes: attrs(t, "units", "degrees_east")}))
	require.NoError(t, cw.AddVar(variable, api.Variable{Values: data, Dimensions: []string{"time", "lat", "lon"},
		Attributes: attrs(t, "units", "K")}))
	require.NoError(t, cw.Close())
}

type fakePublisher struct {
	name string
	err  error
	// okBatches is the number of batches accepted before err is returned.
	okBatches int

	mu      sync.Mutex
	calls   int
	recs    []dataset.Record
	batches int
	closed  bool
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, recs []dataset.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && f.calls > f.okBatches {
		return f.err
	}
	f.recs = append(f.recs, recs...)
	f.batches++
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

type countingProgress struct {
	mu       sync.Mutex
	added    map[string]int
	finished map[string]bool
}

func newCountingProgress() *countingProgress {
	return &countingProgress{added: map[string]int{}, finished: map[string]bool{}}
}

func (c *countingProgress) factory(_ int64, desc string) Progress {
	return &progressHandle{parent: c, desc: desc}
}

type progressHandle struct {
	parent *countingProgress
	desc   string
}

func (h *progressHandle) Add(n int) error {
	h.parent.mu.Lock()
	defer h.parent.mu.Unlock()
	h.parent.added[h.desc] += n
	return nil
}

func (h *progressHandle) Finish() error {
	h.parent.mu.Lock()
	defer h.parent.mu.Unlock()
	h.parent.finished[h.desc] = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noleapConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeInput(t, filepath.Join(dir, "tasmax.nc"), "tasmax", "days since 1990-01-01", "noleap", 3*365, 0)
	writeInput(t, filepath.Join(dir, "tasmin.nc"), "tasmin", "days since 1990-01-01", "noleap", 3*365, -10)

	cfg := config.Defaults()
	cfg.TmaxFile = filepath.Join(dir, "tasmax.nc")
	cfg.TminFile = filepath.Join(dir, "tasmin.nc")
	cfg.BasePeriod = "1990-1992"
	cfg.Daily = true
	cfg.Concurrency = 2
	cfg.RecsPerInsert = 3
	cfg.OutDir = t.TempDir()
	cfg.MySQLDSN = ""
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestRun(t *testing.T) {
	cfg := noleapConfig(t)
	pub := &fakePublisher{name: "fake"}
	progress := newCountingProgress()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clock, []Publisher{pub}, progress.factory)

	assert.Error(t, p.CheckReadiness(context.Background()))

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, p.CheckReadiness(context.Background()))

	assert.Equal(t, 1990, sum.FirstYear)
	assert.Equal(t, 1992, sum.LastYear)
	assert.Equal(t, 4, sum.Cells)
	assert.Equal(t, filepath.Join(cfg.OutDir, "EHF_heatwaves_TEST_historical_r1_yearly_summer.nc"), sum.YearlyPath)
	assert.Equal(t, filepath.Join(cfg.OutDir, "EHF_heatwaves_TEST_historical_r1_daily.nc"), sum.DailyPath)
	assert.FileExists(t, sum.YearlyPath)
	assert.FileExists(t, sum.DailyPath)

	// The final summer is never aggregated: 2 seasons x 4 cells.
	assert.Equal(t, 8, sum.Published)
	require.Len(t, pub.recs, 8)
	years := map[int]int{}
	for _, r := range pub.recs {
		years[r.Year]++
		assert.False(t, math.IsNaN(r.HWN))
	}
	assert.Equal(t, map[int]int{1990: 4, 1991: 4}, years)
	// 4 records per season in batches of at most 3.
	assert.Equal(t, 4, pub.batches)

	assert.Equal(t, 3, progress.added["seasons"])
	assert.Equal(t, 8, progress.added["publish"])
	assert.True(t, progress.finished["seasons"])
	assert.True(t, progress.finished["publish"])

	nc, err := netcdf.Open(sum.DailyPath)
	require.NoError(t, err)
	defer nc.Close()
	vg, err := nc.GetVarGetter("ehf")
	require.NoError(t, err)
	assert.Equal(t, []int64{3 * 365, 2, 2}, vg.Shape())
	date, ok := nc.Attributes().Get("date")
	require.True(t, ok)
	assert.Equal(t, "2025-01-31", date)
}

func TestRun_DailyOnlySkipsPublishing(t *testing.T) {
	cfg := noleapConfig(t)
	cfg.DailyOnly = true
	pub := &fakePublisher{name: "fake"}
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), []Publisher{pub}, nil)

	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sum.YearlyPath)
	assert.NotEmpty(t, sum.DailyPath)
	assert.Empty(t, pub.recs)
	_, err = os.Stat(filepath.Join(cfg.OutDir, "EHF_heatwaves_TEST_historical_r1_yearly_summer.nc"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_LeapDaysAndIncompleteFirstYear(t *testing.T) {
	dir := t.TempDir()
	// 1991-07-01 through 1993-12-31 on the gregorian calendar.
	n := 184 + 366 + 365
	writeInput(t, filepath.Join(dir, "tx.nc"), "tasmax", "days since 1991-07-01 00:00:00", "gregorian", n, 0)
	writeInput(t, filepath.Join(dir, "tn.nc"), "tasmin", "days since 1991-07-01 00:00:00", "gregorian", n, -8)

	cfg := config.Defaults()
	cfg.TmaxFile = filepath.Join(dir, "tx.nc")
	cfg.TminFile = filepath.Join(dir, "tn.nc")
	cfg.BasePeriod = "1992-1993"
	cfg.Season = "winter"
	cfg.DailyOnly = true
	cfg.OutDir = t.TempDir()

	p := New(&cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), nil, nil)
	sum, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1992, sum.FirstYear)

	nc, err := netcdf.Open(sum.DailyPath)
	require.NoError(t, err)
	defer nc.Close()
	vg, err := nc.GetVarGetter("time")
	require.NoError(t, err)
	assert.Equal(t, []int64{2 * 365}, vg.Shape())
}

func TestRun_PublishError(t *testing.T) {
	cfg := noleapConfig(t)
	pub := &fakePublisher{name: "broken", err: errors.New("sink unavailable")}
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), []Publisher{pub}, nil)

	sum, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "broken: sink unavailable")
	require.NotNil(t, sum)
	assert.FileExists(t, sum.YearlyPath)
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 0, sum.Published)
}

func TestRun_PublishedCountsAcceptedBatchesOnly(t *testing.T) {
	cfg := noleapConfig(t)
	cfg.Concurrency = 1
	first := &fakePublisher{name: "first"}
	second := &fakePublisher{name: "second", err: errors.New("disk full"), okBatches: 1}
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), []Publisher{first, second}, nil)

	sum, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "second: disk full")
	require.NotNil(t, sum)
	// The first batch of 3 reached both sinks; the second reached only the
	// first sink and is not counted.
	assert.Equal(t, 3, sum.Published)
	assert.Len(t, second.recs, 3)
	assert.Len(t, first.recs, 4)
}

func TestRun_BasePeriodOutsideRecord(t *testing.T) {
	cfg := noleapConfig(t)
	cfg.BasePeriod = "1961-1990"
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), nil, nil)

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ehf.ErrBasePeriod)
}

func TestRun_Cancelled(t *testing.T) {
	cfg := noleapConfig(t)
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestRun_MissingInput(t *testing.T) {
	cfg := noleapConfig(t)
	cfg.TminFile = filepath.Join(t.TempDir(), "nothing-*.nc")
	p := New(cfg, discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock(), nil, nil)

	_, err := p.Run(context.Background())
	assert.ErrorContains(t, err, "no files match")
}
