//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HatiCode/gapfill/cmd/gapfill/router"
	"github.com/HatiCode/gapfill/pkg/adapters"
	"github.com/HatiCode/gapfill/pkg/gapfill"
	"github.com/HatiCode/gapfill/pkg/storage"
)

var t0 = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func hourAt(h int) time.Time {
	return t0.Add(time.Duration(h) * time.Hour)
}

// promMatrix renders a range query result with two constant channels over
// 72 hours and nothing between hours 31 and 36.
func promMatrix() string {
	values := func(v float64) string {
		var pairs []string
		for h := 0; h < 72; h++ {
			if h > 30 && h < 37 {
				continue
			}
			pairs = append(pairs, fmt.Sprintf(`[%d,"%g"]`, hourAt(h).Unix(), v))
		}
		return strings.Join(pairs, ",")
	}
	return fmt.Sprintf(`{"status":"success","data":{"resultType":"matrix","result":[`+
		`{"metric":{"channel":"requests"},"values":[%s]},`+
		`{"metric":{"channel":"errors"},"values":[%s]}]}}`, values(10), values(2))
}

// startPrometheusMock serves a fixed range query result from a container.
func startPrometheusMock(t *testing.T, ctx context.Context) string {
	t.Helper()

	pythonScript := `
import http.server
import socketserver

class PrometheusHandler(http.server.BaseHTTPRequestHandler):
    def do_GET(self):
        if '/api/v1/query_range' in self.path:
            self.send_response(200)
            self.send_header('Content-type', 'application/json')
            self.end_headers()
            self.wfile.write(b'` + promMatrix() + `')
        else:
            self.send_response(404)
            self.end_headers()

    def log_message(self, format, *args):
        pass

PORT = 9090
with socketserver.TCPServer(("", PORT), PrometheusHandler) as httpd:
    httpd.serve_forever()
`

	promContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "python:3.11-alpine",
			ExposedPorts: []string{"9090/tcp"},
			Cmd:          []string{"python", "-c", pythonScript},
			WaitingFor:   wait.ForListeningPort("9090/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Prometheus mock container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(promContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := promContainer.PortEndpoint(ctx, "9090/tcp", "http")
	if err != nil {
		t.Fatalf("Failed to get Prometheus endpoint: %v", err)
	}
	return endpoint
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

// TestPrometheusFillRedisE2E loads a series with a gap from a Prometheus
// API, fills it, stores the result in Redis and reads it back through the
// HTTP API.
func TestPrometheusFillRedisE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	promURL := startPrometheusMock(t, ctx)
	redisAddr := startRedis(t, ctx)

	adapter := &adapters.PrometheusAdapter{
		ServerURL:    promURL,
		Query:        `sum by (channel) (rate(pump_readings_total[5m]))`,
		ChannelLabel: "channel",
	}
	s, err := adapter.Collect(ctx, adapters.Around(hourAt(31), hourAt(36), 7*24*time.Hour, time.Hour))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if s.Len() != 66 || len(s.Channels) != 2 {
		t.Fatalf("collected %d samples over %v, want 66 over 2 channels", s.Len(), s.Channels)
	}

	cfg := gapfill.DefaultConfig()
	cfg.Prior.Damping = 0
	filler, err := gapfill.New(cfg, logger, nil)
	if err != nil {
		t.Fatalf("gapfill.New() error = %v", err)
	}
	res, err := filler.Fill(ctx, s, hourAt(31), hourAt(36))
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}

	want := map[string]float64{"errors": 2, "requests": 10}
	for _, ch := range res.Channels {
		for i, v := range ch.Values {
			if v != want[ch.Channel] {
				t.Errorf("channel %s slot %d = %v, want %v", ch.Channel, i, v, want[ch.Channel])
			}
		}
	}

	store, err := storage.NewRedisStore(redisAddr, "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Put(ctx, storage.NewRecord("pump-7", res, time.Now().UTC())); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	mux, err := router.SetupRoutes(nil, store, router.Options{}, logger)
	if err != nil {
		t.Fatalf("SetupRoutes() error = %v", err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/fill/result?job=pump-7")
	if err != nil {
		t.Fatalf("GET /fill/result error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var rec storage.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if rec.Job != "pump-7" || len(rec.Timestamps) != 6 || len(rec.Channels) != 2 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.GapStart.Equal(hourAt(30)) || !rec.GapEnd.Equal(hourAt(37)) {
		t.Errorf("gap = %v..%v, want %v..%v", rec.GapStart, rec.GapEnd, hourAt(30), hourAt(37))
	}
}
