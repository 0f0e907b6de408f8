package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/HatiCode/gapfill/pkg/series"
)

// FileAdapter loads a CSV table from disk (format of [series.ReadCSV]).
// Samples outside the requested range are dropped; a zero range keeps all.
type FileAdapter struct {
	Path string
}

func (f *FileAdapter) Name() string { return "csv" }

// Collect implements Adapter.
func (f *FileAdapter) Collect(ctx context.Context, r Range) (*series.Series, error) {
	if f.Path == "" {
		return nil, errors.New("csv adapter: Path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	s, err := series.ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if r.IsZero() {
		return s, nil
	}

	out := series.New(s.Channels...)
	for _, smp := range s.Samples {
		if r.Contains(smp.Time) {
			out.Samples = append(out.Samples, smp)
		}
	}
	return out, nil
}
