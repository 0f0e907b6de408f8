// Package adapters provides the data source connectors that load the series
// to be gap-filled and normalize them into a multichannel [series.Series].
//
// Each adapter implements the Adapter interface. Available adapters:
//   - PrometheusAdapter: range query via the Prometheus HTTP API, one
//     channel per returned series
//   - VictoriaMetricsAdapter: the same over VictoriaMetrics' Prometheus
//     compatible API
//   - HTTPAdapter: any REST API with JSON responses, one gjson
//     path per channel
//   - FileAdapter: a CSV table on disk
//
// Adapters only pull and shape raw data; locating the gap and filling it is
// left to the upper layers.
package adapters

import (
	"context"
	"time"

	"github.com/HatiCode/gapfill/pkg/series"
)

// Range is the time span an adapter loads, inclusive at both ends.
type Range struct {
	Start time.Time
	End   time.Time
	// Step is the query resolution for sources that resample. Zero lets
	// the adapter pick its default.
	Step time.Duration
}

// Around returns the range covering a gap plus window of history on each
// side.
func Around(start, end time.Time, window, step time.Duration) Range {
	return Range{Start: start.Add(-window), End: end.Add(window), Step: step}
}

// IsZero reports whether the range is unset.
func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t lies in the range. A zero range contains
// everything.
func (r Range) Contains(t time.Time) bool {
	if r.IsZero() {
		return true
	}
	return !t.Before(r.Start) && !t.After(r.End)
}

// Adapter is the interface that all data source adapters implement.
//
// Collect is synchronous and must respect context cancellation and
// deadlines. Missing channel values are NaN in the returned series.
type Adapter interface {
	// Collect fetches every channel over r.
	Collect(ctx context.Context, r Range) (*series.Series, error)

	// Name returns a short, unique identifier for the adapter.
	// Example: "prometheus", "http", "csv".
	Name() string
}

// stepOrDefault returns the range step, or 60s when unset.
func stepOrDefault(r Range) time.Duration {
	if r.Step <= 0 {
		return time.Minute
	}
	return r.Step
}
