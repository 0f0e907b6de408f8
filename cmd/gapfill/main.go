// Command gapfill fills gaps in multichannel time series by solving one
// QUBO per channel.
//
// Subcommands:
//   - fill: load a series from the data source, fill one gap, write the
//     filled series as CSV and optionally store the result under a job name
//   - serve: expose the fill pipeline over HTTP (see the router package),
//     with an optional gRPC health endpoint
//   - version: print the build version
//
// Usage:
//
//	ADAPTER_PATH=meter.csv gapfill fill \
//	  --start=2025-01-06T07:00:00Z \
//	  --end=2025-01-06T12:00:00Z \
//	  --output=filled.csv
//
//	gapfill serve --listen=:8082 --storage=redis --redis-addr=redis:6379
//
// Every flag has an environment variable (e.g. --sweeps / SWEEPS) and may
// also be set from a YAML file given with --config-file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/HatiCode/gapfill/cmd/gapfill/config"
	"github.com/HatiCode/gapfill/cmd/gapfill/logger"
	"github.com/HatiCode/gapfill/cmd/gapfill/metrics"
	"github.com/HatiCode/gapfill/pkg/gapfill"
	"github.com/HatiCode/gapfill/pkg/httpx"
	"github.com/HatiCode/gapfill/pkg/telemetry"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what the subcommands share once flags are parsed.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	stopTelemetry func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gapfill",
		Short:         "Fill gaps in multichannel time series",
		Long:          `gapfill reconstructs missing stretches of time series from their seasonal history by annealing a QUBO per channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.cfg = config.Bind(root.PersistentFlags())

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := a.cfg.LoadFile(root.PersistentFlags()); err != nil {
			return err
		}
		a.logger = logger.NewWithWriter(cmd.ErrOrStderr(), a.cfg.LogFormat, a.cfg.LogLevel)
		slog.SetDefault(a.logger)

		if err := a.cfg.Validate(); err != nil {
			a.logger.Error("invalid configuration", "error", err)
			return err
		}

		stop, err := telemetry.Init(cmd.Context(), telemetry.Config{
			ServiceName:    "gapfill",
			ServiceVersion: version,
			Endpoint:       a.cfg.OTLPEndpoint,
			Insecure:       a.cfg.OTLPInsecure,
			SamplingRate:   a.cfg.TraceSampling,
		})
		if err != nil {
			a.logger.Error("failed to initialize tracing", "error", err)
			return err
		}
		a.stopTelemetry = stop
		return nil
	}
	root.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a.stopTelemetry == nil {
			return nil
		}
		return a.stopTelemetry(context.Background())
	}

	root.AddCommand(newFillCmd(a), newServeCmd(a), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Printing the version needs no configuration.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "gapfill %s\n", version)
			return err
		},
	}
}

// newRunner wires the pipeline from the configuration. Without
// requireAdapter a missing data source is tolerated: jobs must then carry
// their series. The returned function releases the store.
func (a *app) newRunner(ctx context.Context, m *metrics.Metrics, requireAdapter bool) (*Runner, func(), error) {
	cfg := a.cfg

	samplerClient, err := httpx.NewClient(cfg.TLS, cfg.SamplerTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("sampler client: %w", err)
	}
	fc, err := newFillerConfig(cfg, samplerClient)
	if err != nil {
		return nil, nil, err
	}
	filler, err := gapfill.New(fc, a.logger, m)
	if err != nil {
		return nil, nil, err
	}

	sourceClient, err := httpx.NewClient(cfg.TLS, 30*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("data source client: %w", err)
	}
	adapter, err := newAdapter(cfg, sourceClient)
	if err != nil {
		if requireAdapter {
			return nil, nil, fmt.Errorf("data source: %w", err)
		}
		a.logger.Warn("no data source configured, requests must carry their series", "adapter", cfg.Adapter, "error", err)
	}

	store, closeStore, err := newStore(ctx, cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}

	a.logger.Info("pipeline configured",
		"solver", fc.Solver.Name(),
		"storage", cfg.Storage,
		"adapter", cfg.Adapter,
		"window", cfg.Window,
		"terms", cfg.Terms,
	)
	return NewRunner(adapter, filler, store, cfg.Window, cfg.Step, a.logger, m), closeStore, nil
}

// oneShotMetrics returns metrics on a private registry for commands that
// do not expose them.
func oneShotMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
