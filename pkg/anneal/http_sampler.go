package anneal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/gapfill/pkg/qubo"
)

// HTTPSampler delegates sampling to an external service speaking a small
// JSON contract.
//
// Request (POST, application/json):
//
//	{
//	  "linear":    [h_0, h_1, ...],
//	  "quadratic": [[i, j, q_ij], ...],
//	  "num_reads": 50,
//	  "seed":      42
//	}
//
// Response: any JSON document with an array of 0/1 arrays at SamplesPath
// (default "samples"). Energies reported by the service are ignored; every
// sample is re-evaluated locally and the lowest wins, first on ties.
type HTTPSampler struct {
	Endpoint    string
	SamplesPath string
	client      *http.Client
}

type sampleRequest struct {
	Linear    []float64    `json:"linear"`
	Quadratic [][3]float64 `json:"quadratic"`
	NumReads  int          `json:"num_reads"`
	Seed      uint64       `json:"seed"`
}

// NewHTTPSampler creates a sampler for endpoint. A nil client gets a pooled
// client with a 30s timeout.
func NewHTTPSampler(endpoint string, client *http.Client) *HTTPSampler {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}
	return &HTTPSampler{
		Endpoint:    endpoint,
		SamplesPath: "samples",
		client:      client,
	}
}

// Sample posts the model and returns the lowest-energy sample.
func (s *HTTPSampler) Sample(ctx context.Context, m *qubo.Model, numReads int, seed uint64) (qubo.Assignment, error) {
	req := sampleRequest{
		Linear:   m.Linear(),
		NumReads: numReads,
		Seed:     seed,
	}
	for _, t := range m.Quadratic() {
		req.Quadratic = append(req.Quadratic, [3]float64{float64(t.I), float64(t.J), t.Bias})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("sampler: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sampler: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sampler: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sampler: http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sampler: read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("sampler: response is not valid JSON")
	}

	samples := gjson.GetBytes(respBody, s.SamplesPath)
	if !samples.IsArray() {
		return nil, fmt.Errorf("sampler: no sample array at %q", s.SamplesPath)
	}

	var best qubo.Assignment
	bestE := math.Inf(1)
	for k, raw := range samples.Array() {
		a, err := parseSample(raw, m.NumVars())
		if err != nil {
			return nil, fmt.Errorf("sampler: sample %d: %w", k, err)
		}
		if e := m.Energy(a); e < bestE {
			best, bestE = a, e
		}
	}
	if best == nil {
		return nil, fmt.Errorf("sampler: service returned no samples")
	}
	return best, nil
}

func parseSample(raw gjson.Result, numVars int) (qubo.Assignment, error) {
	if !raw.IsArray() {
		return nil, fmt.Errorf("expected an array of bits, got %s", raw.Type)
	}
	bits := raw.Array()
	if len(bits) != numVars {
		return nil, fmt.Errorf("expected %d bits, got %d", numVars, len(bits))
	}
	a := make(qubo.Assignment, numVars)
	for i, b := range bits {
		switch {
		case b.Type == gjson.True || (b.Type == gjson.Number && b.Num == 1):
			a[i] = 1
		case b.Type == gjson.False || (b.Type == gjson.Number && b.Num == 0):
		default:
			return nil, fmt.Errorf("bit %d is %s, want 0 or 1", i, b.Raw)
		}
	}
	return a, nil
}
