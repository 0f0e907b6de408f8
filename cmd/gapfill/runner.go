// Package main implements the gapfill command.
//
// This file contains the Runner type which orchestrates one fill job:
//
//	collect → fill → store
//
// The fill subcommand runs one job and writes the filled series as CSV; the
// serve subcommand runs one job per POST /fill request. Each stage is
// instrumented with Prometheus metrics and logged with its duration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/gapfill/cmd/gapfill/metrics"
	"github.com/HatiCode/gapfill/pkg/adapters"
	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/gapfill"
	"github.com/HatiCode/gapfill/pkg/series"
	"github.com/HatiCode/gapfill/pkg/storage"
)

// Runner runs fill jobs: load the series, fill the gap, store the result.
type Runner struct {
	adapter adapters.Adapter
	filler  *gapfill.Filler
	store   storage.Store
	window  time.Duration
	step    time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRunner creates a Runner. adapter and store may be nil: without an
// adapter every job must bring its series, without a store results are not
// kept.
func NewRunner(
	adapter adapters.Adapter,
	filler *gapfill.Filler,
	store storage.Store,
	window, step time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		adapter: adapter,
		filler:  filler,
		store:   store,
		window:  window,
		step:    step,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run fills the gap between startDate and endDate. A nil s is loaded from
// the adapter over the gap plus the prior window on each side. The result
// is stored under job when job is set.
func (r *Runner) Run(ctx context.Context, job string, s *series.Series, startDate, endDate time.Time) (*gapfill.Result, storage.Record, error) {
	start := time.Now()
	if job != "" {
		if err := storage.ValidateJob(job); err != nil {
			return nil, storage.Record{}, errs.Config("job", "%v", err)
		}
	}

	if s == nil {
		var err error
		s, err = r.collect(ctx, startDate, endDate)
		if err != nil {
			r.recordError("adapter", err)
			return nil, storage.Record{}, fmt.Errorf("collect: %w", err)
		}
	}

	res, err := r.filler.Fill(ctx, s, startDate, endDate)
	if err != nil {
		return nil, storage.Record{}, fmt.Errorf("fill: %w", err)
	}

	rec := storage.NewRecord(job, res, r.now().UTC())
	if job != "" && r.store != nil {
		if err := r.store.Put(ctx, rec); err != nil {
			r.recordError("store", err)
			return nil, storage.Record{}, fmt.Errorf("store: %w", err)
		}
	}

	r.logger.Info("fill job complete",
		"job", job,
		"slots", res.Gap.Len(),
		"channels", len(res.Channels),
		"repaired", res.Repaired(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return res, rec, nil
}

// collect loads the series around the gap from the adapter.
func (r *Runner) collect(ctx context.Context, startDate, endDate time.Time) (*series.Series, error) {
	if r.adapter == nil {
		return nil, errs.Config("runner", "no data source configured and no series given")
	}
	start := time.Now()

	rng := adapters.Around(startDate, endDate, r.window, r.step)
	s, err := r.adapter.Collect(ctx, rng)
	if err != nil {
		return nil, err
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordCollect(r.adapter.Name(), duration)
	}

	r.logger.Info("collected series",
		"adapter", r.adapter.Name(),
		"channels", len(s.Channels),
		"samples", s.Len(),
		"from", rng.Start,
		"to", rng.End,
		"duration_ms", duration.Milliseconds(),
	)
	return s, nil
}

func (r *Runner) recordError(component string, err error) {
	if r.metrics == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.metrics.RecordError(component, metrics.Reason(err))
}
