package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/schollz/progressbar/v3"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/config"
	"github.com/rtm0/ehfheatwaves/internal/kafka"
	"github.com/rtm0/ehfheatwaves/internal/observability"
	"github.com/rtm0/ehfheatwaves/internal/pipeline"
	"github.com/rtm0/ehfheatwaves/internal/server"
	"github.com/rtm0/ehfheatwaves/internal/sqlstore"
	"github.com/rtm0/ehfheatwaves/internal/vm"
)

func main() {
	cfg, usage, err := config.Parse(os.Args)
	if err != nil {
		if usage != "" {
			fmt.Fprint(os.Stderr, usage)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if err := run(cfg, logger); err != nil {
		logger.Error("Run failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	publishers, err := newPublishers(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closePublishers(publishers, logger)

	var progress pipeline.ProgressFunc
	if cfg.Progress {
		progress = func(max int64, description string) pipeline.Progress {
			return progressbar.Default(max, description)
		}
	}
	p := pipeline.New(cfg, logger, metrics, clock, publishers, progress)

	if cfg.HTTPAddr != "" {
		srv := server.New(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", "err", err)
			}
		}()
	}

	start := clock.Now()
	sum, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("Run finished",
		"yearly", sum.YearlyPath,
		"daily", sum.DailyPath,
		"period", fmt.Sprintf("%d-%d", sum.FirstYear, sum.LastYear),
		"cells", sum.Cells,
		"heatwaves", sum.Heatwaves,
		"published", sum.Published,
		"in", clock.Since(start).Round(time.Second))
	return nil
}

// newPublishers creates a publisher for every configured sink.
func newPublishers(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) ([]pipeline.Publisher, error) {
	if cfg.DailyOnly {
		return nil, nil
	}
	season, err := calendar.ParseSeason(cfg.Season)
	if err != nil {
		return nil, err
	}

	var pubs []pipeline.Publisher
	if cfg.VMInsertURL != "" {
		vmCli, err := vm.NewClient(logger, cfg.VMInsertURL, cfg.Concurrency, cfg.VMMetricPrefix)
		if err != nil {
			return nil, fmt.Errorf("could not create VM client: %w", err)
		}
		pubs = append(pubs, vmCli)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pubs = append(pubs, kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, season, clock, logger))
	}
	if cfg.MySQLDSN != "" {
		store, err := sqlstore.Open(cfg.MySQLDSN, cfg.MySQLTable, season, cfg.Concurrency, logger)
		if err != nil {
			closePublishers(pubs, logger)
			return nil, fmt.Errorf("could not open MySQL store: %w", err)
		}
		pubs = append(pubs, store)
		if err := store.EnsureSchema(ctx); err != nil {
			closePublishers(pubs, logger)
			return nil, fmt.Errorf("could not create MySQL table: %w", err)
		}
	}
	for _, pub := range pubs {
		logger.Info("Publishing to sink", "sink", pub.Name())
	}
	return pubs, nil
}

// closePublishers closes every publisher, logging the ones that fail.
func closePublishers(pubs []pipeline.Publisher, logger *slog.Logger) {
	for _, pub := range pubs {
		if err := pub.Close(); err != nil {
			logger.Error("Could not close publisher", "sink", pub.Name(), "err", err)
		}
	}
}
