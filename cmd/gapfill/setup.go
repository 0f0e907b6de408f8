package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HatiCode/gapfill/cmd/gapfill/config"
	"github.com/HatiCode/gapfill/pkg/adapters"
	"github.com/HatiCode/gapfill/pkg/anneal"
	"github.com/HatiCode/gapfill/pkg/gapfill"
	"github.com/HatiCode/gapfill/pkg/prior"
	"github.com/HatiCode/gapfill/pkg/qubo"
	"github.com/HatiCode/gapfill/pkg/storage"
)

// newFillerConfig builds the pipeline configuration. client is used for
// the external sampler.
func newFillerConfig(cfg *config.Config, client *http.Client) (gapfill.Config, error) {
	terms, err := qubo.ParseTerms(cfg.Terms)
	if err != nil {
		return gapfill.Config{}, err
	}
	primary, err := newSolver(cfg.Solver, cfg, client)
	if err != nil {
		return gapfill.Config{}, err
	}

	fc := gapfill.Config{
		Prior:        prior.Builder{Window: cfg.Window, Damping: cfg.Damping},
		Encoder:      qubo.Encoder{Penalties: cfg.Penalties(), Terms: terms},
		Solver:       primary,
		Workers:      cfg.Workers,
		MaxVariables: cfg.MaxVariables,
		Seed:         cfg.Seed,
	}
	if cfg.Fallback != "" {
		if fc.Fallback, err = newSolver(cfg.Fallback, cfg, client); err != nil {
			return gapfill.Config{}, err
		}
	}
	return fc, nil
}

func newSolver(kind string, cfg *config.Config, client *http.Client) (anneal.Solver, error) {
	switch kind {
	case "anneal":
		init, err := anneal.ParseInit(cfg.Init)
		if err != nil {
			return nil, err
		}
		a := &anneal.Annealer{
			Sweeps:      cfg.Sweeps,
			Reads:       cfg.Reads,
			Patience:    cfg.Patience,
			TStart:      cfg.TStart,
			TEnd:        cfg.TEnd,
			MaxDuration: cfg.SolverTimeout,
			Init:        init,
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
		return a, nil
	case "sampler":
		s := anneal.NewSamplerSolver(anneal.NewHTTPSampler(cfg.SamplerURL, client))
		s.NumReads = cfg.SamplerReads
		return s, nil
	default:
		return nil, fmt.Errorf("unknown solver %q", kind)
	}
}

// newAdapter creates the configured data source and hands it client.
func newAdapter(cfg *config.Config, client *http.Client) (adapters.Adapter, error) {
	ad, err := adapters.New(cfg.Adapter, cfg.AdapterConfig)
	if err != nil {
		return nil, err
	}
	switch a := ad.(type) {
	case *adapters.PrometheusAdapter:
		a.HTTPClient = client
	case *adapters.VictoriaMetricsAdapter:
		a.HTTPClient = client
	case *adapters.HTTPAdapter:
		a.HTTPClient = client
	}
	return ad, nil
}

// newStore creates the configured result store and its close function.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage {
	case "none":
		return nil, func() {}, nil

	case "memory":
		logger.Info("using in-memory result storage", "ttl", cfg.ResultTTL)
		if cfg.ResultTTL <= 0 {
			return storage.NewMemoryStore(), func() {}, nil
		}
		s := storage.NewMemoryStoreWithTTL(cfg.ResultTTL, 0)
		return s, s.Stop, nil

	case "redis":
		logger.Info("using redis result storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.ResultTTL)
		s, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close, logger), nil

	case "postgres":
		logger.Info("using postgres result storage")
		s, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closer(s.Close, logger), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func closer(close func() error, logger *slog.Logger) func() {
	return func() {
		if err := close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}
}

// storePing returns a health check for stores that can be pinged.
func storePing(store storage.Store) func() error {
	p, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	}
}
