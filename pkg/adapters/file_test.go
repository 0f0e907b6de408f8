package adapters

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fileFixture = `timestamp,requests,errors
1699999940,1,0
1700000000,2,
1700000060,3,1
1700000700,4,2
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "series.csv")
	if err := os.WriteFile(path, []byte(fileFixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestFileAdapter_FiltersRange(t *testing.T) {
	f := &FileAdapter{Path: writeFixture(t)}

	s, err := f.Collect(context.Background(), testRange)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(s.Channels) != 2 {
		t.Fatalf("Channels = %v, want 2", s.Channels)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 samples inside range, got %d", s.Len())
	}
	if !s.Samples[0].Time.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("first sample at %v", s.Samples[0].Time)
	}
	if !math.IsNaN(s.Samples[0].Values[1]) {
		t.Errorf("empty cell should be NaN, got %v", s.Samples[0].Values[1])
	}
}

func TestFileAdapter_ZeroRangeKeepsAll(t *testing.T) {
	f := &FileAdapter{Path: writeFixture(t)}

	s, err := f.Collect(context.Background(), Range{})
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if s.Len() != 4 {
		t.Errorf("expected 4 samples, got %d", s.Len())
	}
}

func TestFileAdapter_Errors(t *testing.T) {
	if _, err := (&FileAdapter{}).Collect(context.Background(), testRange); err == nil {
		t.Error("expected error for empty path")
	}
	missing := filepath.Join(t.TempDir(), "nope.csv")
	if _, err := (&FileAdapter{Path: missing}).Collect(context.Background(), testRange); err == nil {
		t.Error("expected error for missing file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&FileAdapter{Path: writeFixture(t)}).Collect(ctx, testRange); err == nil {
		t.Error("expected error for cancelled context")
	}
}
