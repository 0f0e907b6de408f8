package adapters

import (
	"context"
	"errors"
	"net/http"

	"github.com/HatiCode/gapfill/pkg/series"
)

// VictoriaMetricsAdapter fetches time-series data from VictoriaMetrics via its
// Prometheus-compatible HTTP API. Channels are built as in PrometheusAdapter.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// Query is the MetricsQL/PromQL expression to evaluate.
	Query string
	// ChannelLabel names the channels. Defaults to __name__.
	ChannelLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Collect implements Adapter.
func (v *VictoriaMetricsAdapter) Collect(ctx context.Context, r Range) (*series.Series, error) {
	if v.ServerURL == "" || v.Query == "" {
		return nil, errors.New("victoria metrics adapter: ServerURL and Query are required")
	}
	result, err := queryRange(ctx, v.HTTPClient, v.ServerURL, v.Query, r, "victoria-metrics")
	if err != nil {
		return nil, err
	}
	return RangeResultToSeries(result, v.ChannelLabel)
}
