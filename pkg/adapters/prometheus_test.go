package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrometheusAdapter_Collect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "up" {
			t.Errorf("query = %s, want up", r.URL.Query().Get("query"))
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json header")
		}
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"__name__":"up","job":"api"},"values":[[1700000000,"1"],[1700000060,"0"]]}
		]}}`)
	}))
	defer server.Close()

	p := &PrometheusAdapter{ServerURL: server.URL, Query: "up"}
	s, err := p.Collect(context.Background(), testRange)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if s.Channels[0] != "up" || s.Len() != 2 {
		t.Fatalf("got channels %v with %d samples", s.Channels, s.Len())
	}
}

func TestPrometheusAdapter_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"error status", http.StatusOK, `{"status":"error","data":{}}`},
		{"bad json", http.StatusOK, `{"status":`},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1700000000,"abc"]]}]}}`},
		{"short pair", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1700000000]]}]}}`},
		{"duplicate channel", http.StatusOK, `{"status":"success","data":{"result":[
			{"metric":{"__name__":"x"},"values":[]},
			{"metric":{"__name__":"x"},"values":[]}
		]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.payload)
			}))
			defer server.Close()

			p := &PrometheusAdapter{ServerURL: server.URL, Query: "up"}
			if _, err := p.Collect(context.Background(), testRange); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		metric map[string]string
		label  string
		want   string
	}{
		{map[string]string{"route": "/a"}, "route", "/a"},
		{map[string]string{}, "__name__", "value"},
		{map[string]string{"job": "api", "instance": "x:1"}, "route", "{instance=x:1,job=api}"},
	}
	for _, tt := range tests {
		if got := channelName(tt.metric, tt.label); got != tt.want {
			t.Errorf("channelName(%v, %q) = %q, want %q", tt.metric, tt.label, got, tt.want)
		}
	}
}
