package prior

import (
	"time"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/series"
)

// InferInterval estimates the sampling interval from the known samples
// strictly before start. The most frequent positive spacing wins; ties go to
// the smaller spacing so that an occasional dropped sample cannot double it.
func InferInterval(s *series.Series, start time.Time) (time.Duration, error) {
	before := s.Before(start)
	if len(before) < 2 {
		return 0, errs.Data("infer interval", "need at least 2 samples before %s, got %d",
			start.Format(time.RFC3339), len(before))
	}

	counts := make(map[time.Duration]int)
	for i := 1; i < len(before); i++ {
		d := before[i].Time.Sub(before[i-1].Time)
		if d > 0 {
			counts[d]++
		}
	}
	if len(counts) == 0 {
		return 0, errs.Data("infer interval", "samples before %s share one timestamp", start.Format(time.RFC3339))
	}

	var best time.Duration
	bestCount := 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best, nil
}
