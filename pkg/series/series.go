// Package series provides the multichannel time-series model the gap filler
// operates on, together with gap location and a CSV codec.
//
// A Series is a table of samples sorted by time. Every sample carries one
// value per channel; NaN marks a value that is missing outside the gap.
package series

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/gapfill/pkg/errs"
)

// Sample is a single row of the table.
type Sample struct {
	Time   time.Time
	Values []float64
}

// Series is a multichannel, time-ordered table.
type Series struct {
	Channels []string
	Samples  []Sample
}

// New creates an empty series with the given channel names.
func New(channels ...string) *Series {
	return &Series{Channels: append([]string(nil), channels...)}
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.Samples)
}

// ChannelIndex returns the column index of a channel, or -1.
func (s *Series) ChannelIndex(name string) int {
	for i, c := range s.Channels {
		if c == name {
			return i
		}
	}
	return -1
}

// Add appends a sample. Call Sort after adding out-of-order samples.
func (s *Series) Add(t time.Time, values ...float64) error {
	if len(values) != len(s.Channels) {
		return fmt.Errorf("sample at %s has %d values, want %d", t.Format(time.RFC3339), len(values), len(s.Channels))
	}
	s.Samples = append(s.Samples, Sample{Time: t.UTC(), Values: append([]float64(nil), values...)})
	return nil
}

// Sort orders samples by time. Stable so duplicate timestamps keep insertion order.
func (s *Series) Sort() {
	sort.SliceStable(s.Samples, func(i, j int) bool {
		return s.Samples[i].Time.Before(s.Samples[j].Time)
	})
}

// Validate checks that samples are strictly increasing in time and that every
// sample has one value per channel.
func (s *Series) Validate() error {
	if len(s.Channels) == 0 {
		return errs.Data("validate", "series has no channels")
	}
	for i, smp := range s.Samples {
		if len(smp.Values) != len(s.Channels) {
			return errs.Data("validate", "sample %d has %d values, want %d", i, len(smp.Values), len(s.Channels))
		}
		if i > 0 && !s.Samples[i-1].Time.Before(smp.Time) {
			return errs.Data("validate", "samples not strictly increasing at index %d (%s)", i, smp.Time.Format(time.RFC3339))
		}
	}
	return nil
}

// search returns the index of the first sample with Time >= t.
func (s *Series) search(t time.Time) int {
	return sort.Search(len(s.Samples), func(i int) bool {
		return !s.Samples[i].Time.Before(t)
	})
}

// ValueAt returns the value of a channel at exactly t.
// ok is false when no sample exists at t or the value is NaN.
func (s *Series) ValueAt(t time.Time, channel int) (float64, bool) {
	i := s.search(t)
	if i >= len(s.Samples) || !s.Samples[i].Time.Equal(t) {
		return 0, false
	}
	v := s.Samples[i].Values[channel]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Between returns the samples with from <= Time <= to. The returned slice
// aliases the series.
func (s *Series) Between(from, to time.Time) []Sample {
	lo := s.search(from)
	hi := lo
	for hi < len(s.Samples) && !s.Samples[hi].Time.After(to) {
		hi++
	}
	return s.Samples[lo:hi]
}

// Before returns the samples strictly before t.
func (s *Series) Before(t time.Time) []Sample {
	return s.Samples[:s.search(t)]
}

// Column extracts the known (non-NaN) values of one channel from samples.
func Column(samples []Sample, channel int) ([]time.Time, []float64) {
	times := make([]time.Time, 0, len(samples))
	values := make([]float64, 0, len(samples))
	for _, smp := range samples {
		v := smp.Values[channel]
		if math.IsNaN(v) {
			continue
		}
		times = append(times, smp.Time)
		values = append(values, v)
	}
	return times, values
}

// Extrema returns the minimum and maximum known value of a channel outside
// the open interval (start, end). ok is false when the channel has no values.
func (s *Series) Extrema(channel int, start, end time.Time) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, smp := range s.Samples {
		if smp.Time.After(start) && smp.Time.Before(end) {
			continue
		}
		v := smp.Values[channel]
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// Replace returns a new series in which every sample strictly inside the gap
// is dropped and the gap timestamps are populated from values, indexed
// [channel][slot]. The result is sorted by time and keeps the channel set.
func (s *Series) Replace(g Gap, values [][]float64) (*Series, error) {
	if len(values) != len(s.Channels) {
		return nil, fmt.Errorf("replace: got %d channels, want %d", len(values), len(s.Channels))
	}
	n := g.Len()
	for c, col := range values {
		if len(col) != n {
			return nil, fmt.Errorf("replace: channel %q has %d values, want %d", s.Channels[c], len(col), n)
		}
	}

	out := &Series{
		Channels: append([]string(nil), s.Channels...),
		Samples:  make([]Sample, 0, len(s.Samples)+n),
	}
	for _, smp := range s.Samples {
		if smp.Time.After(g.Start) && smp.Time.Before(g.End) {
			continue
		}
		out.Samples = append(out.Samples, Sample{Time: smp.Time, Values: append([]float64(nil), smp.Values...)})
	}
	for i, ts := range g.Timestamps() {
		row := make([]float64, len(values))
		for c := range values {
			row[c] = values[c][i]
		}
		out.Samples = append(out.Samples, Sample{Time: ts, Values: row})
	}
	out.Sort()
	return out, nil
}
