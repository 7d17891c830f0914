package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rtm0/ehfheatwaves/internal/dataset"
)

// publish sends every record produced by s to all publishers. Each season
// year is split into batches of RecsPerInsert records, and batches are
// published by Concurrency goroutines.
func (p *Pipeline) publish(ctx context.Context, s *dataset.RecordScanner) (int, error) {
	p.logger.Info("Records summary", s.Summary()...)
	recsPerInsert := p.cfg.RecsPerInsert
	bar := p.newProgress(s.TotalRecCount(), "publish")
	defer bar.Finish()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recsCh := make(chan []dataset.Record)
	progressCh := make(chan int)
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		errs    []error
		// publish reports whether every publisher accepted recs.
		publish = func(recs []dataset.Record) bool {
			for _, pub := range p.publishers {
				if ctx.Err() != nil {
					return false
				}
				if err := pub.Publish(ctx, recs); err != nil {
					p.metrics.PublishErrors.WithLabelValues(pub.Name()).Inc()
					errMu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", pub.Name(), err))
					errMu.Unlock()
					cancel()
					return false
				}
				p.metrics.RecordsPublished.WithLabelValues(pub.Name()).Add(float64(len(recs)))
			}
			return true
		}
	)
	for range p.cfg.Concurrency {
		wg.Add(1)
		go func() {
			for recs := range recsCh {
				n := len(recs)
				accepted := 0
				for i := 0; i < n; i += recsPerInsert {
					begin := i
					limit := begin + recsPerInsert
					if limit > n {
						limit = n
					}
					if publish(recs[begin:limit]) {
						accepted += limit - begin
					}
				}
				progressCh <- accepted
			}
			wg.Done()
		}()
	}

	var published int
	progressDone := make(chan struct{})
	go func() {
		total := float64(s.TotalRecCount())
		start := p.clock.Now()
		for n := range progressCh {
			published += n
			bar.Add(n)
			percent := fmt.Sprintf("%.2f%%", 100*float64(published)/total)
			duration := p.clock.Since(start).Round(1 * time.Second)
			p.logger.Info("progress", "published", percent, "in", duration)
		}
		close(progressDone)
	}()

	for s.Scan() {
		select {
		case recsCh <- s.Records():
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(recsCh)
	wg.Wait()
	close(progressCh)
	<-progressDone

	if len(errs) > 0 {
		return published, errors.Join(errs...)
	}
	if err := parent.Err(); err != nil {
		return published, err
	}
	return published, nil
}
