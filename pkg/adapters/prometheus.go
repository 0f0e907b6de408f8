package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/gapfill/pkg/series"
)

// PrometheusAdapter fetches time-series data from the Prometheus HTTP API.
// It issues a /api/v1/query_range call and turns every returned series into
// one channel, named by the value of ChannelLabel (or by the full label set
// when the label is absent). Timestamps missing from a series are NaN.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// ChannelLabel names the channels. Defaults to __name__.
	ChannelLabel string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter.
func (p *PrometheusAdapter) Collect(ctx context.Context, r Range) (*series.Series, error) {
	if p.ServerURL == "" || p.Query == "" {
		return nil, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	result, err := queryRange(ctx, p.HTTPClient, p.ServerURL, p.Query, r, "prometheus")
	if err != nil {
		return nil, err
	}
	return RangeResultToSeries(result, p.ChannelLabel)
}

// PrometheusRangeResponse represents the response from Prometheus (and compatible systems).
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result data from a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie represents a single time series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// queryRange runs a range query against a Prometheus-compatible API.
func queryRange(ctx context.Context, cli *http.Client, serverURL, query string, r Range, source string) ([]PrometheusRangeSerie, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("%s: a query range is required", source)
	}
	step := stepOrDefault(r)

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", fmt.Sprintf("%d", r.Start.Unix()))
	q.Set("end", fmt.Sprintf("%d", r.End.Unix()))
	q.Set("step", fmt.Sprintf("%d", int64(step.Seconds())))
	u.RawQuery = q.Encode()

	if cli == nil {
		cli = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", source, resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", source, err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("%s status: %s", source, pr.Status)
	}
	return pr.Data.Result, nil
}

// RangeResultToSeries turns a range result into a series with one channel
// per result entry. Channels are ordered by name.
func RangeResultToSeries(result []PrometheusRangeSerie, channelLabel string) (*series.Series, error) {
	if channelLabel == "" {
		channelLabel = "__name__"
	}

	type column struct {
		name   string
		values map[int64]float64
	}
	cols := make([]column, 0, len(result))
	seen := make(map[string]bool)
	stamps := make(map[int64]struct{})

	for _, s := range result {
		name := channelName(s.Metric, channelLabel)
		if seen[name] {
			return nil, fmt.Errorf("duplicate channel %q; pick a ChannelLabel that separates the series", name)
		}
		seen[name] = true

		col := column{name: name, values: make(map[int64]float64, len(s.Values))}
		for _, pair := range s.Values {
			ts, val, err := parsePair(pair)
			if err != nil {
				return nil, fmt.Errorf("channel %q: %w", name, err)
			}
			col.values[ts] = val
			stamps[ts] = struct{}{}
		}
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].name < cols[j].name })

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	out := series.New(names...)

	sorted := make([]int64, 0, len(stamps))
	for ts := range stamps {
		sorted = append(sorted, ts)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, ts := range sorted {
		row := make([]float64, len(cols))
		for i, c := range cols {
			v, ok := c.values[ts]
			if !ok {
				v = math.NaN()
			}
			row[i] = v
		}
		if err := out.Add(time.Unix(ts, 0), row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func channelName(metric map[string]string, label string) string {
	if v := metric[label]; v != "" {
		return v
	}
	if len(metric) == 0 {
		return "value"
	}
	keys := make([]string, 0, len(metric))
	for k := range metric {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + metric[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func parsePair(pair []any) (int64, float64, error) {
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("invalid value pair length: %d", len(pair))
	}

	var tsSec int64
	switch v := pair[0].(type) {
	case float64:
		tsSec = int64(v)
	case json.Number:
		f, _ := v.Float64()
		tsSec = int64(f)
	default:
		return 0, 0, fmt.Errorf("unexpected timestamp type %T", v)
	}

	var val float64
	switch vv := pair[1].(type) {
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse value: %w", err)
		}
		val = f
	case float64:
		val = vv
	case json.Number:
		f, _ := vv.Float64()
		val = f
	default:
		return 0, 0, fmt.Errorf("unexpected value type %T", vv)
	}
	return tsSec, val, nil
}
