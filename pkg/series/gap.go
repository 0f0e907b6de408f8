package series

import (
	"math"
	"time"

	"github.com/HatiCode/gapfill/pkg/errs"
)

// Gap is the run of missing timestamps strictly between two known boundary
// samples Start and End, spaced by Interval.
type Gap struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// NewGap validates the boundaries and returns the gap between them.
// The boundaries must be at least two intervals apart so that N >= 1.
func NewGap(start, end time.Time, interval time.Duration) (Gap, error) {
	if interval <= 0 {
		return Gap{}, errs.Data("gap", "interval must be > 0, got %v", interval)
	}
	if !start.Before(end) {
		return Gap{}, errs.Data("gap", "start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	g := Gap{Start: start.UTC(), End: end.UTC(), Interval: interval}
	if g.Len() < 1 {
		return Gap{}, errs.Data("gap", "no missing timestamps between %s and %s at %v", start.Format(time.RFC3339), end.Format(time.RFC3339), interval)
	}
	return g, nil
}

// Len returns N, the number of missing timestamps.
func (g Gap) Len() int {
	steps := math.Round(float64(g.End.Sub(g.Start)) / float64(g.Interval))
	return int(steps) - 1
}

// Timestamps returns Start+(i+1)*Interval for i in [0, N).
func (g Gap) Timestamps() []time.Time {
	n := g.Len()
	if n <= 0 {
		return nil
	}
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = g.Start.Add(time.Duration(i+1) * g.Interval)
	}
	return ts
}

// Offset returns the position of t in steps from Start (negative before it).
func (g Gap) Offset(t time.Time) float64 {
	return float64(t.Sub(g.Start)) / float64(g.Interval)
}

// Locate resolves the gap boundaries for a named date range: start is the
// last sample at or before startDate and end is the first sample at or after
// endDate.
func Locate(s *Series, startDate, endDate time.Time) (start, end time.Time, err error) {
	if !startDate.Before(endDate) {
		return time.Time{}, time.Time{}, errs.Data("locate", "start date %s is not before end date %s",
			startDate.Format(time.RFC3339), endDate.Format(time.RFC3339))
	}

	i := s.search(startDate)
	switch {
	case i < len(s.Samples) && s.Samples[i].Time.Equal(startDate):
		start = s.Samples[i].Time
	case i > 0:
		start = s.Samples[i-1].Time
	default:
		return time.Time{}, time.Time{}, errs.Data("locate", "no known sample at or before %s", startDate.Format(time.RFC3339))
	}

	j := s.search(endDate)
	if j >= len(s.Samples) {
		return time.Time{}, time.Time{}, errs.Data("locate", "no known sample at or after %s", endDate.Format(time.RFC3339))
	}
	end = s.Samples[j].Time

	return start, end, nil
}
