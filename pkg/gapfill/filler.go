// Package gapfill runs the per-channel fill pipeline:
//
//	prior → candidates → encode → solve → extract
//
// Channels are independent and run on a bounded worker pool. Each channel
// draws its randomness from a private generator seeded by the run seed and
// the channel name, so results do not depend on scheduling, worker count or
// column order.
package gapfill

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/gapfill/pkg/anneal"
	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/prior"
	"github.com/HatiCode/gapfill/pkg/qubo"
	"github.com/HatiCode/gapfill/pkg/series"
	"github.com/HatiCode/gapfill/pkg/solution"
	"github.com/HatiCode/gapfill/pkg/telemetry"
)

// Stage names a pipeline step in metrics and errors.
type Stage string

const (
	StagePrior   Stage = "prior"
	StageEncode  Stage = "encode"
	StageSolve   Stage = "solve"
	StageExtract Stage = "extract"
)

// Observer receives pipeline measurements. Implementations must be safe for
// concurrent use; channels report from several workers at once.
type Observer interface {
	ObserveStage(stage Stage, d time.Duration)
	ObserveChannel(r ChannelResult)
	ObserveError(stage Stage, err error)
}

// ChannelResult is the fill of one channel.
type ChannelResult struct {
	Channel  string
	Values   []float64
	Expected []float64
	// Repaired lists slots the solver left without exactly one candidate.
	Repaired  []int
	Variables int
	Terms     int
	Energy    float64
	Solver    string
	Duration  time.Duration
}

// Result is the fill of every channel over one gap.
type Result struct {
	Gap      series.Gap
	Channels []ChannelResult
	// Filled is the input series with the gap populated.
	Filled *series.Series
}

// Repaired returns the total number of repaired slots.
func (r *Result) Repaired() int {
	n := 0
	for _, c := range r.Channels {
		n += len(c.Repaired)
	}
	return n
}

// Config configures a Filler.
type Config struct {
	Prior   prior.Builder
	Encoder qubo.Encoder
	Solver  anneal.Solver
	// Fallback reruns a channel whose Solver failed. Optional.
	Fallback anneal.Solver
	// Workers bounds the channels solved at once. Zero uses GOMAXPROCS.
	Workers int
	// MaxVariables rejects channels whose model is larger. Zero disables it.
	MaxVariables int
	Seed         uint64
}

// DefaultConfig returns the default pipeline with the built-in annealer.
func DefaultConfig() Config {
	return Config{
		Prior:   prior.NewBuilder(),
		Encoder: qubo.NewEncoder(),
		Solver:  anneal.NewAnnealer(),
	}
}

// Validate checks the configuration preconditions.
func (c Config) Validate() error {
	if c.Solver == nil {
		return errs.Config("filler", "no solver configured")
	}
	if c.Workers < 0 {
		return errs.Config("filler", "workers must be >= 0, got %d", c.Workers)
	}
	if c.MaxVariables < 0 {
		return errs.Config("filler", "max variables must be >= 0, got %d", c.MaxVariables)
	}
	if err := c.Prior.Validate(); err != nil {
		return err
	}
	return c.Encoder.Penalties.Validate()
}

// Filler fills gaps in multichannel series.
type Filler struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// New creates a Filler. logger and observer may be nil.
func New(cfg Config, logger *slog.Logger, observer Observer) (*Filler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filler{cfg: cfg, logger: logger, observer: observer}, nil
}

// Fill locates the gap named by startDate and endDate, infers the sampling
// interval from the history before it and fills every channel.
func (f *Filler) Fill(ctx context.Context, s *series.Series, startDate, endDate time.Time) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	start, end, err := series.Locate(s, startDate, endDate)
	if err != nil {
		return nil, err
	}
	interval, err := prior.InferInterval(s, start)
	if err != nil {
		return nil, err
	}
	gap, err := series.NewGap(start, end, interval)
	if err != nil {
		return nil, err
	}
	return f.FillGap(ctx, s, gap)
}

// FillGap fills every channel of s over gap.
func (f *Filler) FillGap(ctx context.Context, s *series.Series, gap series.Gap) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "gapfill.fill",
		telemetry.AttrSlots.Int(gap.Len()),
	)
	defer span.End()

	start := time.Now()
	f.logger.Info("filling gap",
		"start", gap.Start,
		"end", gap.End,
		"interval", gap.Interval,
		"slots", gap.Len(),
		"channels", len(s.Channels),
		"solver", f.cfg.Solver.Name(),
	)

	results := make([]ChannelResult, len(s.Channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)
	for c := range s.Channels {
		g.Go(func() error {
			r, err := f.fillChannel(gctx, s, gap, c)
			if err != nil {
				return fmt.Errorf("channel %q: %w", s.Channels[c], err)
			}
			results[c] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	values := make([][]float64, len(results))
	for c, r := range results {
		values[c] = r.Values
	}
	filled, err := s.Replace(gap, values)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	res := &Result{Gap: gap, Channels: results, Filled: filled}
	f.logger.Info("gap filled",
		"slots", gap.Len(),
		"channels", len(results),
		"repaired", res.Repaired(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (f *Filler) fillChannel(ctx context.Context, s *series.Series, gap series.Gap, c int) (ChannelResult, error) {
	name := s.Channels[c]
	ctx, span := telemetry.StartSpan(ctx, "gapfill.channel", telemetry.AttrChannel.String(name))
	defer span.End()

	start := time.Now()
	h := channelHash(name)
	src := rand.NewPCG(f.cfg.Seed, h)
	solveSeed := rand.New(rand.NewPCG(h, f.cfg.Seed)).Uint64()

	stageStart := time.Now()
	p, err := f.cfg.Prior.Build(s, gap, c, src)
	if err != nil {
		return ChannelResult{}, f.fail(span, StagePrior, err)
	}
	f.observe(StagePrior, stageStart)

	stageStart = time.Now()
	m, layout, err := f.cfg.Encoder.Encode(qubo.InputFromPrior(p))
	if err != nil {
		return ChannelResult{}, f.fail(span, StageEncode, err)
	}
	if f.cfg.MaxVariables > 0 && m.NumVars() > f.cfg.MaxVariables {
		err := errs.Config("filler", "model has %d variables, limit is %d", m.NumVars(), f.cfg.MaxVariables)
		return ChannelResult{}, f.fail(span, StageEncode, err)
	}
	f.observe(StageEncode, stageStart)
	span.SetAttributes(telemetry.AttrVariables.Int(m.NumVars()), telemetry.AttrTerms.Int(m.NumTerms()))

	stageStart = time.Now()
	assignment, solver, err := f.solve(ctx, m, solveSeed, name)
	if err != nil {
		return ChannelResult{}, f.fail(span, StageSolve, err)
	}
	f.observe(StageSolve, stageStart)

	stageStart = time.Now()
	sol := solution.Extract(layout, assignment, p.Expected)
	f.observe(StageExtract, stageStart)

	r := ChannelResult{
		Channel:   name,
		Values:    sol.Values,
		Expected:  p.Expected,
		Repaired:  sol.Repaired,
		Variables: m.NumVars(),
		Terms:     m.NumTerms(),
		Energy:    m.Energy(assignment),
		Solver:    solver,
		Duration:  time.Since(start),
	}
	span.SetAttributes(
		telemetry.AttrSolver.String(solver),
		telemetry.AttrEnergy.Float64(r.Energy),
		telemetry.AttrRepaired.Int(len(r.Repaired)),
	)

	if sol.Degenerate() {
		f.logger.Warn("solver left slots degenerate, repaired from prior",
			"channel", name,
			"repaired", len(sol.Repaired),
			"slots", len(sol.Values),
		)
	}
	f.logger.Debug("channel filled",
		"channel", name,
		"variables", r.Variables,
		"terms", r.Terms,
		"energy", r.Energy,
		"solver", solver,
		"duration_ms", r.Duration.Milliseconds(),
	)
	if f.observer != nil {
		f.observer.ObserveChannel(r)
	}
	return r, nil
}

// solve runs the primary solver and, when it fails for a reason other than
// cancellation, the fallback.
func (f *Filler) solve(ctx context.Context, m *qubo.Model, seed uint64, channel string) (qubo.Assignment, string, error) {
	a, err := f.cfg.Solver.Solve(ctx, m, seed)
	if err == nil {
		return a, f.cfg.Solver.Name(), nil
	}
	if f.cfg.Fallback == nil || ctx.Err() != nil {
		return nil, "", err
	}

	f.logger.Warn("solver failed, using fallback",
		"channel", channel,
		"solver", f.cfg.Solver.Name(),
		"fallback", f.cfg.Fallback.Name(),
		"error", err,
	)
	if f.observer != nil {
		f.observer.ObserveError(StageSolve, err)
	}
	a, err = f.cfg.Fallback.Solve(ctx, m, seed)
	if err != nil {
		return nil, "", fmt.Errorf("fallback %s: %w", f.cfg.Fallback.Name(), err)
	}
	return a, f.cfg.Fallback.Name(), nil
}

func (f *Filler) observe(stage Stage, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveStage(stage, time.Since(start))
	}
}

func (f *Filler) fail(span trace.Span, stage Stage, err error) error {
	telemetry.RecordError(span, err)
	if f.observer != nil {
		f.observer.ObserveError(stage, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func channelHash(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
