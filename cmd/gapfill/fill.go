package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/HatiCode/gapfill/pkg/series"
)

func newFillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fill",
		Short: "Fill one gap and write the filled series as CSV",
		Long: `fill loads the series around the gap from the configured data source,
fills every channel between --start and --end, and writes the whole series
as CSV to --output (stdout by default). With --job the result is also kept
in the configured storage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, endDate, err := a.cfg.GapDates()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, closeStore, err := a.newRunner(ctx, oneShotMetrics(), true)
			if err != nil {
				return err
			}
			defer closeStore()

			res, _, err := runner.Run(ctx, a.cfg.Job, nil, startDate, endDate)
			if err != nil {
				a.logger.Error("fill failed", "error", err)
				return err
			}
			return writeOutput(cmd.OutOrStdout(), a.cfg.Output, res.Filled)
		},
	}
}

// writeOutput writes s as CSV to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, s *series.Series) error {
	if path == "" {
		return series.WriteCSV(stdout, s)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := series.WriteCSV(f, s); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
