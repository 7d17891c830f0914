package dataset

import (
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/jonboulle/clockwork"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
)

// FillValue marks missing values in output files.
const FillValue = -999.99

const (
	sourceURL  = "https://github.com/tammasloughran/ehfheatwaves"
	scriptName = "ehfheatwaves"
	seasonNote = "The year of a season is the year it starts in"
)

// Run describes the computation whose results are written.
type Run struct {
	Meta       Meta
	Season     calendar.Season
	Percentile float64
	BaseStart  int
	BaseEnd    int
	Span       calendar.Span
	DaysInYear int
	TmaxFile   string
	TminFile   string
	MaskFile   string
}

// Writer writes the yearly and daily output files of a run into a directory.
type Writer struct {
	clock clockwork.Clock
	dir   string
	run   Run
}

// NewWriter creates a writer. clock supplies the date attribute.
func NewWriter(clock clockwork.Clock, dir string, run Run) *Writer {
	return &Writer{clock: clock, dir: dir, run: run}
}

func (w *Writer) prefix() string {
	m := w.run.Meta
	return fmt.Sprintf("EHF_heatwaves_%s_%s_r%s", m.Model, m.Experiment, m.Realization)
}

// YearlyPath returns the path of the yearly output file.
func (w *Writer) YearlyPath() string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_yearly_%s.nc", w.prefix(), w.run.Season))
}

// DailyPath returns the path of the daily output file.
func (w *Writer) DailyPath() string {
	return filepath.Join(w.dir, w.prefix()+"_daily.nc")
}

// PercentileName returns the name of the threshold variable, e.g. t90pct.
func PercentileName(pct float64) string {
	return "t" + strconv.FormatFloat(pct, 'f', -1, 64) + "pct"
}

func (w *Writer) globalAttrs(extra ...any) (api.AttributeMap, error) {
	r := w.run
	kv := []any{
		"source", sourceURL,
		"date", w.clock.Now().Format("2006-01-02"),
		"script", scriptName,
	}
	if r.Meta.Model != "" {
		kv = append(kv, "model_id", r.Meta.Model, "experiment", r.Meta.Experiment, "realization", r.Meta.Realization)
	}
	kv = append(kv,
		"period", fmt.Sprintf("%d-%d", r.Span.FirstYear, r.Span.LastYear),
		"base_period", fmt.Sprintf("%d-%d", r.BaseStart, r.BaseEnd),
		"percentile", ordinal(r.Percentile),
	)
	kv = append(kv, extra...)
	kv = append(kv, "git_commit", gitCommit(), "tmax_file", r.TmaxFile, "tmin_file", r.TminFile)
	if r.MaskFile != "" {
		kv = append(kv, "mask_file", r.MaskFile)
	}
	return orderedMap(kv...)
}

// WriteYearly writes the thresholds and the seasonal metrics. It returns the
// file path.
func (w *Writer) WriteYearly(grid *Grid, thresholds *ehf.Field, yearly *ehf.Yearly) (string, error) {
	r := w.run
	attrs, err := w.globalAttrs(
		"frequency", "yearly",
		"season", r.Season.String(),
		"definition", r.Season.Definition(),
		"season_note", seasonNote,
	)
	if err != nil {
		return "", err
	}

	years := make([]float64, yearly.NYears)
	for i := range years {
		years[i] = float64(r.Span.FirstYear + i)
	}
	pctDesc := fmt.Sprintf("%s percentile of %d-%d", ordinal(r.Percentile), r.BaseStart, r.BaseEnd)
	vars := []outVar{
		{"time", years, []string{"time"}, []any{"units", "year"}},
		latVar(grid), lonVar(grid),
		{PercentileName(r.Percentile), cube(grid, thresholds.NTime, thresholds.Data), []string{"day", "lat", "lon"},
			[]any{"long_name", ordinal(r.Percentile) + " percentile", "units", "degC", "description", pctDesc}},
		metricVar(grid, yearly, "HWA_EHF", yearly.HWA, "Heatwave Amplitude", "degC2", "Peak of the hottest heatwave per year"),
		metricVar(grid, yearly, "HWM_EHF", yearly.HWM, "Heatwave Magnitude", "degC2", "Average magnitude of the yearly heatwave"),
		metricVar(grid, yearly, "HWN_EHF", yearly.HWN, "Heatwave Number", "", "Number of heatwaves per year"),
		metricVar(grid, yearly, "HWF_EHF", yearly.HWF, "Heatwave Frequency", "days", "Proportion of heatwave days per season"),
		metricVar(grid, yearly, "HWD_EHF", yearly.HWD, "Heatwave Duration", "days", "Duration of the longest heatwave per year"),
		metricVar(grid, yearly, "HWT_EHF", yearly.HWT, "Heatwave Timing", "days from start of season", "First heat wave day of the season"),
	}
	path := w.YearlyPath()
	return path, writeFile(path, attrs, vars)
}

// WriteDaily writes the EHF series and the event encoding. It returns the
// file path.
func (w *Writer) WriteDaily(grid *Grid, signal *ehf.Field, events *ehf.Events) (string, error) {
	r := w.run
	attrs, err := w.globalAttrs()
	if err != nil {
		return "", err
	}

	n := signal.NTime
	days := make([]float64, n)
	for i := range days {
		days[i] = float64(i + 1)
	}
	cal := r.Meta.Calendar
	if cal == calendar.Gregorian {
		cal = "365_day"
	}
	event := make([]float64, len(events.Event))
	ends := make([]float64, len(events.Duration))
	for i := range event {
		if events.Event[i] {
			event[i] = 1
		}
		ends[i] = float64(events.Duration[i])
	}
	vars := []outVar{
		{"time", days, []string{"time"}, []any{
			"units", fmt.Sprintf("days since %d-01-01", r.Span.FirstYear),
			"calendar", cal,
		}},
		latVar(grid), lonVar(grid),
		{"ehf", cube(grid, n, signal.Data), dims3, []any{
			"standard_name", "EHF", "long_name", "Excess Heat Factor", "units", "degC2"}},
		{"event", cube(grid, n, event), dims3, []any{
			"long_name", "Event indicator", "description", "Indicates whether a heatwave is happening on that day"}},
		{"ends", cube(grid, n, ends), dims3, []any{
			"long_name", "Duration at start of heatwave", "units", "days"}},
	}
	path := w.DailyPath()
	return path, writeFile(path, attrs, vars)
}

var dims3 = []string{"time", "lat", "lon"}

type outVar struct {
	name   string
	values any
	dims   []string
	attrs  []any
}

func latVar(g *Grid) outVar {
	return outVar{"lat", g.Lat, []string{"lat"}, []any{
		"standard_name", "latitude", "long_name", "Latitude", "units", "degrees_north", "axis", "Y"}}
}

func lonVar(g *Grid) outVar {
	return outVar{"lon", g.Lon, []string{"lon"}, []any{
		"standard_name", "longitude", "long_name", "Longitude", "units", "degrees_east", "axis", "X"}}
}

func metricVar(g *Grid, y *ehf.Yearly, name string, data []float64, long, units, desc string) outVar {
	return outVar{name, cube(g, y.NYears, data), dims3, []any{
		"long_name", long, "units", units, "description", desc}}
}

// cube scatters a time x cell array onto the full grid.
func cube(g *Grid, nTime int, data []float64) [][][]float64 {
	out := make([][][]float64, nTime)
	n := g.Len()
	for t := range out {
		out[t] = g.Scatter(data[t*n:(t+1)*n], FillValue)
	}
	return out
}

func writeFile(path string, attrs api.AttributeMap, vars []outVar) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := cw.AddAttributes(attrs); err != nil {
		cw.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, v := range vars {
		kv := v.attrs
		if len(v.dims) == 3 || v.name == "time" {
			kv = append([]any{"_FillValue", FillValue}, kv...)
		}
		am, err := orderedMap(kv...)
		if err != nil {
			cw.Close()
			return err
		}
		err = cw.AddVar(v.name, api.Variable{Values: v.values, Dimensions: v.dims, Attributes: am})
		if err != nil {
			cw.Close()
			return fmt.Errorf("%s: cannot add %s: %w", path, v.name, err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

func orderedMap(kv ...any) (api.AttributeMap, error) {
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k := kv[i].(string)
		if kv[i+1] == "" {
			continue
		}
		keys = append(keys, k)
		vals[k] = kv[i+1]
	}
	return util.NewOrderedMap(keys, vals)
}

func ordinal(pct float64) string {
	return strconv.FormatFloat(pct, 'f', -1, 64) + "th"
}

func gitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown"
}
