// Package router configures HTTP routes for the gapfill API.
//
// Routes configured:
//   - POST /fill - Fill a gap in an inline series, or in one loaded from the
//     configured data source when the body carries none (rate limited)
//   - GET /fill/result?job=<name> - Retrieve the latest stored fill of a job
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Fills of inline series are deterministic for a fixed configuration, so
// their responses are kept in an LRU cache keyed by the request body. The
// X-Gapfill-Cache header reports hit or miss.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/HatiCode/gapfill/cmd/gapfill/metrics"
	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/gapfill"
	"github.com/HatiCode/gapfill/pkg/httpx"
	"github.com/HatiCode/gapfill/pkg/series"
	"github.com/HatiCode/gapfill/pkg/storage"
)

const maxBodyBytes = 32 << 20

// Runner runs one fill job. A nil series is loaded from the data source.
type Runner interface {
	Run(ctx context.Context, job string, s *series.Series, startDate, endDate time.Time) (*gapfill.Result, storage.Record, error)
}

// Options tune the API. The zero value disables caching and timeouts.
type Options struct {
	// CacheSize is the number of fill responses kept. Zero disables the cache.
	CacheSize int
	// Timeout bounds one fill. Zero means no bound beyond the request's.
	Timeout time.Duration
	// Health is consulted by /healthz. Optional.
	Health func() error
	// Limiter throttles POST /fill. Optional.
	Limiter *rate.Limiter
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// FillRequest is the body of POST /fill. Series and CSV are alternatives;
// with neither the series is loaded from the data source.
type FillRequest struct {
	Job    string         `json:"job,omitempty"`
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
	Series *SeriesPayload `json:"series,omitempty"`
	CSV    string         `json:"csv,omitempty"`
}

// SeriesPayload is an inline series. Null values are missing readings.
type SeriesPayload struct {
	Channels []string        `json:"channels"`
	Samples  []SamplePayload `json:"samples"`
}

// SamplePayload is one row of a SeriesPayload.
type SamplePayload struct {
	Time   time.Time  `json:"time"`
	Values []*float64 `json:"values"`
}

type api struct {
	runner Runner
	store  storage.Store
	cache  *lru.Cache[string, storage.Record]
	opts   Options
	logger *slog.Logger
}

// SetupRoutes configures HTTP endpoints for the gapfill API. store may be
// nil, in which case results are not retrievable.
func SetupRoutes(runner Runner, store storage.Store, opts Options, logger *slog.Logger) (*http.ServeMux, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{runner: runner, store: store, opts: opts, logger: logger}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, storage.Record](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		a.cache = cache
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(opts.Health))
	mux.Handle("POST /fill", httpx.RateLimitMiddleware(opts.Limiter)(http.HandlerFunc(a.handleFill)))
	mux.HandleFunc("GET /fill/result", a.handleGetResult)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux, nil
}

// handleFill handles POST /fill.
func (a *api) handleFill(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httpx.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req FillRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "start and end are required")
		return
	}

	s, err := req.series()
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	// Only inline series are cacheable: a data source may change under us.
	key := ""
	if s != nil && a.cache != nil {
		sum := sha256.Sum256(body)
		key = hex.EncodeToString(sum[:])
		if rec, ok := a.cache.Get(key); ok {
			a.recordCache(true)
			a.respondCached(r.Context(), w, rec)
			return
		}
		a.recordCache(false)
	}

	ctx := r.Context()
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	_, rec, err := a.runner.Run(ctx, req.Job, s, req.Start, req.End)
	if err != nil {
		a.writeRunError(w, req.Job, err)
		return
	}
	if key != "" {
		a.cache.Add(key, rec)
	}

	w.Header().Set("X-Gapfill-Cache", "miss")
	if err := httpx.WriteJSON(w, http.StatusOK, rec); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}

// respondCached answers with a cached record, storing it again under its
// job so GET /fill/result reflects the latest request.
func (a *api) respondCached(ctx context.Context, w http.ResponseWriter, rec storage.Record) {
	if rec.Job != "" && a.store != nil {
		rec.CreatedAt = time.Now().UTC()
		if err := a.store.Put(ctx, rec); err != nil {
			a.logger.Error("failed to store cached result", "job", rec.Job, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}
	w.Header().Set("X-Gapfill-Cache", "hit")
	if err := httpx.WriteJSON(w, http.StatusOK, rec); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}

// handleGetResult handles GET /fill/result?job=<name>.
func (a *api) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		httpx.WriteErrorMessage(w, http.StatusNotImplemented, "result storage disabled")
		return
	}
	job := r.URL.Query().Get("job")
	if err := storage.ValidateJob(job); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	rec, found, err := a.store.GetLatest(ctx, job)
	if err != nil {
		a.logger.Error("failed to get result", "job", job, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("result not found for job %q", job))
		return
	}

	if err := httpx.WriteJSON(w, http.StatusOK, rec); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}

func (a *api) writeRunError(w http.ResponseWriter, job string, err error) {
	switch {
	case errs.IsConfig(err):
		httpx.WriteError(w, http.StatusBadRequest, err)
	case errs.IsData(err):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteErrorMessage(w, http.StatusGatewayTimeout, "fill timed out")
	default:
		a.logger.Error("fill failed", "job", job, "error", err)
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordError("api", metrics.Reason(err))
		}
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func (a *api) recordCache(hit bool) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordCache(hit)
	}
}

// series converts the inline payload. It returns nil when the request
// carries no series.
func (req *FillRequest) series() (*series.Series, error) {
	switch {
	case req.Series != nil && req.CSV != "":
		return nil, errors.New("series and csv are mutually exclusive")
	case req.CSV != "":
		s, err := series.ReadCSV(strings.NewReader(req.CSV))
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		return s, nil
	case req.Series != nil:
		return req.Series.toSeries()
	default:
		return nil, nil
	}
}

func (p *SeriesPayload) toSeries() (*series.Series, error) {
	if len(p.Channels) == 0 {
		return nil, errors.New("series has no channels")
	}
	s := series.New(p.Channels...)
	for i, sample := range p.Samples {
		if len(sample.Values) != len(p.Channels) {
			return nil, fmt.Errorf("sample %d has %d values, want %d", i, len(sample.Values), len(p.Channels))
		}
		values := make([]float64, len(sample.Values))
		for c, v := range sample.Values {
			if v == nil {
				values[c] = math.NaN()
				continue
			}
			values[c] = *v
		}
		if err := s.Add(sample.Time.UTC(), values...); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	s.Sort()
	return s, nil
}
