package adapters

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPAdapter_MultiChannelGET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"timestamp":"2023-11-14T22:14:20Z","rps":100,"errors":1},
			{"timestamp":"2023-11-14T22:13:20Z","rps":90,"errors":null}
		]}`)
	}))
	defer server.Close()

	h := &HTTPAdapter{
		URL:           server.URL,
		TimestampPath: "data.#.timestamp",
		Channels: []ChannelPath{
			{Name: "requests", ValuePath: "data.#.rps"},
			{Name: "errors", ValuePath: "data.#.errors"},
		},
	}

	s, err := h.Collect(context.Background(), testRange)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(s.Channels) != 2 || s.Channels[0] != "requests" || s.Channels[1] != "errors" {
		t.Fatalf("Channels = %v, want [requests errors]", s.Channels)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", s.Len())
	}
	if !s.Samples[0].Time.Before(s.Samples[1].Time) {
		t.Errorf("samples not sorted: %v then %v", s.Samples[0].Time, s.Samples[1].Time)
	}
	if s.Samples[0].Values[0] != 90 || !math.IsNaN(s.Samples[0].Values[1]) {
		t.Errorf("first sample = %v, want [90 NaN]", s.Samples[0].Values)
	}
	if s.Samples[1].Values[0] != 100 || s.Samples[1].Values[1] != 1 {
		t.Errorf("second sample = %v, want [100 1]", s.Samples[1].Values)
	}
}

func TestHTTPAdapter_POSTBodyTemplate(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprint(w, `{"ts":[1700000000],"v":[5]}`)
	}))
	defer server.Close()

	h := &HTTPAdapter{
		URL:             server.URL,
		Method:          http.MethodPost,
		Body:            `{"from":{{.Start}},"to":{{.End}},"step":{{.Step}},"window":{{.WindowSeconds}},"iso":"{{.StartRFC3339}}"}`,
		TimestampPath:   "ts",
		Channels:        []ChannelPath{{Name: "v", ValuePath: "v"}},
		TimestampFormat: "unix",
	}

	if _, err := h.Collect(context.Background(), testRange); err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	want := `{"from":1700000000,"to":1700000600,"step":60,"window":600,"iso":"2023-11-14T22:13:20Z"}`
	if gotBody != want {
		t.Errorf("body = %s, want %s", gotBody, want)
	}
}

func TestHTTPAdapter_HeaderTemplateVars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		if got := r.Header.Get("X-Static"); got != "plain" {
			t.Errorf("X-Static = %q, want plain", got)
		}
		fmt.Fprint(w, `{"ts":[1700000000000],"v":[1]}`)
	}))
	defer server.Close()

	h := &HTTPAdapter{
		URL: server.URL,
		Headers: map[string]string{
			"Authorization": "Bearer {{.Token}}",
			"X-Static":      "plain",
		},
		TemplateVars:    map[string]string{"Token": "secret"},
		TimestampPath:   "ts",
		Channels:        []ChannelPath{{Name: "v", ValuePath: "v"}},
		TimestampFormat: "unix_milli",
	}

	s, err := h.Collect(context.Background(), testRange)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if s.Len() != 1 || !s.Samples[0].Time.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected samples: %+v", s.Samples)
	}
}

func TestHTTPAdapter_DropsRowsOutsideRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ts":[1699999940,1700000000,1700000600,1700000660],"v":[1,2,3,4]}`)
	}))
	defer server.Close()

	h := &HTTPAdapter{
		URL:             server.URL,
		TimestampPath:   "ts",
		Channels:        []ChannelPath{{Name: "v", ValuePath: "v"}},
		TimestampFormat: "unix",
	}

	s, err := h.Collect(context.Background(), testRange)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 samples inside range, got %d", s.Len())
	}
	if s.Samples[0].Values[0] != 2 || s.Samples[1].Values[0] != 3 {
		t.Errorf("unexpected values: %v, %v", s.Samples[0].Values, s.Samples[1].Values)
	}
}

func TestHTTPAdapter_ResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		payload  string
		channels []ChannelPath
		wantErr  string
	}{
		{
			name:     "http error",
			status:   http.StatusBadGateway,
			payload:  "upstream down",
			channels: []ChannelPath{{Name: "v", ValuePath: "v"}},
			wantErr:  "http status 502",
		},
		{
			name:     "missing timestamp path",
			status:   http.StatusOK,
			payload:  `{"v":[1]}`,
			channels: []ChannelPath{{Name: "v", ValuePath: "v"}},
			wantErr:  "timestamp path",
		},
		{
			name:     "missing value path",
			status:   http.StatusOK,
			payload:  `{"ts":[1700000000]}`,
			channels: []ChannelPath{{Name: "v", ValuePath: "v"}},
			wantErr:  "value path",
		},
		{
			name:     "mismatched lengths",
			status:   http.StatusOK,
			payload:  `{"ts":[1700000000,1700000060],"v":[1]}`,
			channels: []ChannelPath{{Name: "v", ValuePath: "v"}},
			wantErr:  "value count",
		},
		{
			name:     "bad timestamp",
			status:   http.StatusOK,
			payload:  `{"ts":["yesterday"],"v":[1]}`,
			channels: []ChannelPath{{Name: "v", ValuePath: "v"}},
			wantErr:  "parse timestamp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.payload)
			}))
			defer server.Close()

			h := &HTTPAdapter{URL: server.URL, TimestampPath: "ts", Channels: tt.channels}
			_, err := h.Collect(context.Background(), testRange)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPAdapter_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"ts":[],"v":[]}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	h := &HTTPAdapter{URL: server.URL, TimestampPath: "ts", Channels: []ChannelPath{{Name: "v", ValuePath: "v"}}}
	if _, err := h.Collect(ctx, testRange); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestHTTPAdapter_ValidateConfig(t *testing.T) {
	valid := []ChannelPath{{Name: "v", ValuePath: "v"}}
	tests := []struct {
		name    string
		adapter HTTPAdapter
		wantErr bool
	}{
		{"valid", HTTPAdapter{URL: "http://x", TimestampPath: "ts", Channels: valid}, false},
		{"valid unix", HTTPAdapter{URL: "http://x", TimestampPath: "ts", Channels: valid, TimestampFormat: "unix"}, false},
		{"missing url", HTTPAdapter{TimestampPath: "ts", Channels: valid}, true},
		{"missing timestamp path", HTTPAdapter{URL: "http://x", Channels: valid}, true},
		{"no channels", HTTPAdapter{URL: "http://x", TimestampPath: "ts"}, true},
		{"unnamed channel", HTTPAdapter{URL: "http://x", TimestampPath: "ts", Channels: []ChannelPath{{ValuePath: "v"}}}, true},
		{"duplicate channel", HTTPAdapter{URL: "http://x", TimestampPath: "ts", Channels: []ChannelPath{{"v", "a"}, {"v", "b"}}}, true},
		{"bad format", HTTPAdapter{URL: "http://x", TimestampPath: "ts", Channels: valid, TimestampFormat: "epoch"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.adapter.ValidateConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseChannelPaths(t *testing.T) {
	got := ParseChannelPaths(map[string]string{"b": "data.#.b", "a": "data.#.a"})
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("ParseChannelPaths = %+v, want a then b", got)
	}
	if got[0].ValuePath != "data.#.a" {
		t.Errorf("ValuePath = %s, want data.#.a", got[0].ValuePath)
	}
}

func TestRenderTemplate(t *testing.T) {
	out, err := renderTemplate("no vars", nil)
	if err != nil || out != "no vars" {
		t.Errorf("renderTemplate plain = %q, %v", out, err)
	}
	out, err = renderTemplate("{{.A}}-{{.B}}", map[string]any{"A": 1, "B": "x"})
	if err != nil || out != "1-x" {
		t.Errorf("renderTemplate = %q, %v; want 1-x", out, err)
	}
	if _, err := renderTemplate("{{.A", nil); err == nil {
		t.Error("expected parse error for malformed template")
	}
}

func TestRange(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := start.Add(time.Hour)
	r := Around(start, end, 24*time.Hour, time.Minute)
	if !r.Start.Equal(start.Add(-24*time.Hour)) || !r.End.Equal(end.Add(24*time.Hour)) {
		t.Errorf("Around = %+v", r)
	}
	if !r.Contains(start) || r.Contains(end.Add(25*time.Hour)) {
		t.Error("Contains gave wrong answer")
	}
	if !(Range{}).Contains(time.Unix(0, 0)) {
		t.Error("zero range should contain everything")
	}
}
