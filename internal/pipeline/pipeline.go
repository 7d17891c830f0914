// Package pipeline runs a complete heatwave computation: it loads the input
// datasets, computes thresholds, EHF and heatwave metrics, writes the NetCDF
// outputs and publishes the seasonal records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/config"
	"github.com/rtm0/ehfheatwaves/internal/dataset"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
	"github.com/rtm0/ehfheatwaves/internal/observability"
)

// Publisher delivers seasonal records to an external sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, recs []dataset.Record) error
	Close() error
}

// Progress tracks a countable unit of work.
type Progress interface {
	Add(n int) error
	Finish() error
}

// ProgressFunc creates a Progress for max units of work.
type ProgressFunc func(max int64, description string) Progress

// Summary describes the outputs of a finished run.
type Summary struct {
	YearlyPath string
	DailyPath  string
	FirstYear  int
	LastYear   int
	Cells      int
	Heatwaves  int
	Published  int
}

// Pipeline executes one configured run.
type Pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock
	publishers []Publisher
	progress   ProgressFunc
	ready      atomic.Bool
	stage      atomic.Value
}

// New creates a Pipeline. progress may be nil.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, publishers []Publisher, progress ProgressFunc) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
		publishers: publishers,
		progress:   progress,
	}
	p.stage.Store("not started")
	return p
}

// CheckReadiness returns nil once the output files have been written.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return fmt.Errorf("outputs not written yet; current stage: %s", p.stage.Load())
	}
	return nil
}

func (p *Pipeline) newProgress(max int, description string) Progress {
	if p.progress == nil || max <= 0 {
		return nopProgress{}
	}
	return p.progress(int64(max), description)
}

type nopProgress struct{}

func (nopProgress) Add(int) error { return nil }
func (nopProgress) Finish() error { return nil }

// runStage executes fn as a named stage, recording its duration. The context
// is checked before the stage starts.
func (p *Pipeline) runStage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.stage.Store(name)
	p.logger.Info("Stage started", "stage", name)
	start := p.clock.Now()
	err := fn()
	d := p.clock.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		p.logger.Error("Stage failed", "stage", name, "err", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	p.logger.Info("Stage finished", "stage", name, "in", d.Round(time.Millisecond))
	return nil
}

// inputs are the opened datasets of a run.
type inputs struct {
	tmax   *dataset.Dataset
	tmin   *dataset.Dataset
	grid   *dataset.Grid
	params ehf.Params
}

// Run executes every stage in order and returns a summary of the outputs.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	p.metrics.RunActive.Set(1)
	defer p.metrics.RunActive.Set(0)

	var in inputs
	if err := p.runStage(ctx, "open", func() error {
		var err error
		in, err = p.open()
		return err
	}); err != nil {
		return nil, err
	}

	var thresholds *ehf.Field
	if err := p.runStage(ctx, "thresholds", func() error {
		var err error
		thresholds, err = p.thresholds(in)
		return err
	}); err != nil {
		return nil, err
	}

	span := in.tmax.Axis.Span(in.params.Profile.DaysInYear)
	var series *ehf.Field
	if err := p.runStage(ctx, "load", func() error {
		var err error
		series, err = p.load(in, span.FirstYear, span.LastYear)
		return err
	}); err != nil {
		return nil, err
	}
	p.logger.Info("Record span", "firstYear", span.FirstYear, "lastYear", span.LastYear,
		"shorten", span.Shorten, "days", series.NTime, "cells", series.NCells)

	var res *ehf.Result
	if err := p.runStage(ctx, "compute", func() error {
		var err error
		res, err = p.compute(in.params, span, series, thresholds)
		return err
	}); err != nil {
		return nil, err
	}

	sum := &Summary{FirstYear: span.FirstYear, LastYear: span.LastYear, Cells: in.grid.Len(), Heatwaves: countHeatwaves(res)}
	p.metrics.CellsProcessed.Add(float64(sum.Cells))
	p.metrics.HeatwavesDetected.Add(float64(sum.Heatwaves))

	if err := p.runStage(ctx, "write", func() error {
		return p.write(in, span, res, sum)
	}); err != nil {
		return nil, err
	}
	p.ready.Store(true)

	if res.Yearly != nil && len(p.publishers) > 0 {
		if err := p.runStage(ctx, "publish", func() error {
			n, err := p.publish(ctx, dataset.NewRecordScanner(res.Yearly, in.grid, span.FirstYear))
			sum.Published = n
			return err
		}); err != nil {
			return sum, err
		}
	}
	p.stage.Store("done")
	return sum, nil
}

func (p *Pipeline) open() (inputs, error) {
	var in inputs
	var err error
	in.tmax, err = dataset.Open(p.logger, p.cfg.TmaxFile, p.cfg.TmaxVar)
	if err != nil {
		return in, err
	}
	in.tmin, err = dataset.Open(p.logger, p.cfg.TminFile, p.cfg.TminVar)
	if err != nil {
		return in, err
	}
	if in.tmax.Axis.Calendar != in.tmin.Axis.Calendar {
		return in, fmt.Errorf("tmax calendar %q differs from tmin calendar %q", in.tmax.Axis.Calendar, in.tmin.Axis.Calendar)
	}

	in.params, err = p.cfg.Params(in.tmax.Axis.Calendar)
	if err != nil {
		return in, err
	}

	if p.cfg.MaskFile != "" {
		in.grid, err = dataset.LoadMask(p.cfg.MaskFile, p.cfg.MaskVar, in.tmax.Lat, in.tmax.Lon)
		if err != nil {
			return in, err
		}
	} else {
		in.grid = dataset.FullGrid(in.tmax.Lat, in.tmax.Lon)
	}
	if in.grid.Len() == 0 {
		return in, errors.New("the mask excludes every grid cell")
	}
	p.logger.Info("Grid", "lat", in.grid.NLat(), "lon", in.grid.NLon(), "cells", in.grid.Len(),
		"calendar", in.tmax.Axis.Calendar, "daysInYear", in.params.Profile.DaysInYear)
	return in, nil
}

// load reads the daily mean temperature of years [from, to] without leap
// days.
func (p *Pipeline) load(in inputs, from, to int) (*ehf.Field, error) {
	idxMax := in.tmax.Axis.Years(from, to)
	idxMin := in.tmin.Axis.Years(from, to)
	if len(idxMax) != len(idxMin) {
		return nil, fmt.Errorf("%w: tmax has %d days in %d-%d, tmin %d", ehf.ErrShape, len(idxMax), from, to, len(idxMin))
	}
	tave, err := in.tmax.Load(idxMax, in.grid)
	if err != nil {
		return nil, err
	}
	tmin, err := in.tmin.Load(idxMin, in.grid)
	if err != nil {
		return nil, err
	}
	if err := dataset.Average(tave, tmin); err != nil {
		return nil, err
	}
	return tave, nil
}

func (p *Pipeline) thresholds(in inputs) (*ehf.Field, error) {
	start, end, err := p.cfg.BaseYears()
	if err != nil {
		return nil, err
	}
	d := in.params.Profile.DaysInYear
	base, err := p.load(in, start, end)
	if err != nil {
		return nil, err
	}
	if want := (end - start + 1) * d; base.NTime != want {
		return nil, fmt.Errorf("%w: %d-%d has %d days in the record, want %d", ehf.ErrBasePeriod, start, end, base.NTime, want)
	}
	return ehf.Thresholds(base, d, in.params.Percentile, in.params.Method, in.params.Workers)
}

func (p *Pipeline) compute(params ehf.Params, span calendar.Span, series, thresholds *ehf.Field) (*ehf.Result, error) {
	if params.Yearly {
		nYears := (series.NTime + params.Profile.DaysInYear - 1) / params.Profile.DaysInYear
		bar := p.newProgress(nYears, "seasons")
		defer bar.Finish()
		params.OnYear = func(y int) {
			bar.Add(1)
			p.logger.Debug("Season aggregated", "year", span.FirstYear+y)
		}
	}
	return ehf.FromThresholds(series, thresholds, params)
}

func countHeatwaves(res *ehf.Result) int {
	n := 0
	if res.Daily != nil {
		for _, d := range res.Daily.Duration {
			if d > 0 {
				n++
			}
		}
		return n
	}
	for _, v := range res.Yearly.HWN {
		if v > 0 {
			n += int(v)
		}
	}
	return n
}

func (p *Pipeline) write(in inputs, span calendar.Span, res *ehf.Result, sum *Summary) error {
	start, end, err := p.cfg.BaseYears()
	if err != nil {
		return err
	}
	w := dataset.NewWriter(p.clock, p.cfg.OutDir, dataset.Run{
		Meta:       in.tmax.Meta,
		Season:     in.params.Season,
		Percentile: in.params.Percentile,
		BaseStart:  start,
		BaseEnd:    end,
		Span:       span,
		DaysInYear: in.params.Profile.DaysInYear,
		TmaxFile:   p.cfg.TmaxFile,
		TminFile:   p.cfg.TminFile,
		MaskFile:   p.cfg.MaskFile,
	})
	if res.Yearly != nil {
		sum.YearlyPath, err = w.WriteYearly(in.grid, res.Thresholds, res.Yearly)
		if err != nil {
			return err
		}
		p.logger.Info("Wrote yearly output", "path", sum.YearlyPath)
	}
	if res.Daily != nil {
		sum.DailyPath, err = w.WriteDaily(in.grid, res.EHF, res.Daily)
		if err != nil {
			return err
		}
		p.logger.Info("Wrote daily output", "path", sum.DailyPath)
	}
	return nil
}
