package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts accepted by ReadCSV, tried in order. Bare integers are
// read as Unix seconds.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ReadCSV parses a table whose first column is the timestamp and whose
// remaining columns are channels.
//
// Expected format:
//
//	timestamp,requests,errors
//	2025-01-06T00:00:00Z,1204,3
//	2025-01-06T00:15:00Z,1190,
//
// Empty cells and "NaN" are read as missing values. The result is sorted.
func ReadCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("expected a timestamp column and at least one channel, got %d columns", len(header))
	}

	channels := make([]string, len(header)-1)
	for i, h := range header[1:] {
		channels[i] = strings.TrimSpace(h)
	}
	s := New(channels...)

	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		ts, err := parseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		values := make([]float64, len(channels))
		for c := range channels {
			values[c], err = parseValue(record[c+1])
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", lineNum, channels[c], err)
			}
		}
		if err := s.Add(ts, values...); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	s.Sort()
	return s, nil
}

// WriteCSV writes the series in the format ReadCSV reads. Timestamps are
// RFC3339 in UTC and missing values are left empty.
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)

	header := append([]string{"timestamp"}, s.Channels...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	record := make([]string, len(header))
	for _, smp := range s.Samples {
		record[0] = smp.Time.UTC().Format(time.RFC3339)
		for c, v := range smp.Values {
			if math.IsNaN(v) {
				record[c+1] = ""
				continue
			}
			record[c+1] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing CSV row %s: %w", record[0], err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

func parseValue(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(raw, 64)
}
