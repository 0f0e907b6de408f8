// Package prior builds the per-timestep expected value across a gap.
//
// For each channel the prior combines:
//   - A linear trend through the two boundary samples
//   - A weekly seasonal residual profile from the window before the gap
//   - A weekly seasonal residual profile from the window after the gap
//
// The two profiles are blended linearly across the gap (pre-gap weight
// fading out, post-gap weight fading in), and a damped normal draw scaled by
// the blended residual spread is added. Expected values are clamped to be
// non-negative.
package prior

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// WeekSeconds is the seasonal period of the residual profiles.
const WeekSeconds = 7 * 24 * 3600

// Trend is the straight line through the gap boundaries.
type Trend struct {
	// Y0 is the value at the gap start.
	Y0 float64
	// Y1 is the value at the gap end.
	Y1 float64
	// Slope is the change per step over the N+1 steps spanning the gap.
	Slope float64
	// Steps is N+1.
	Steps int
}

// NewTrend returns the trend for a gap of n missing steps.
func NewTrend(y0, y1 float64, n int) Trend {
	steps := n + 1
	return Trend{
		Y0:    y0,
		Y1:    y1,
		Slope: (y1 - y0) / float64(steps),
		Steps: steps,
	}
}

// At evaluates the trend at an offset in steps from the gap start.
func (t Trend) At(offset float64) float64 {
	return t.Y0 + t.Slope*offset
}

// Bucket is the residual summary for one time-of-week bucket.
type Bucket struct {
	Mean  float64
	Std   float64
	Count int
}

// Profile maps seconds-of-week to residual statistics.
type Profile map[int64]Bucket

// BucketOf returns the seconds-of-week bucket of a timestamp.
func BucketOf(t time.Time) int64 {
	b := t.Unix() % WeekSeconds
	if b < 0 {
		b += WeekSeconds
	}
	return b
}

// Lookup returns the bucket for t. Buckets absent from the window map to
// the zero Bucket; that is the intended fallback, not an error.
func (p Profile) Lookup(t time.Time) Bucket {
	return p[BucketOf(t)]
}

// BuildProfile detrends values against the trend (offsets measured in steps
// from start) and summarises the residuals per time-of-week bucket.
//
// A bucket with a single observation has zero spread.
func BuildProfile(times []time.Time, values []float64, trend Trend, start time.Time, interval time.Duration) Profile {
	residuals := make(map[int64][]float64)
	for i, ts := range times {
		offset := float64(ts.Sub(start)) / float64(interval)
		b := BucketOf(ts)
		residuals[b] = append(residuals[b], values[i]-trend.At(offset))
	}

	profile := make(Profile, len(residuals))
	for b, rs := range residuals {
		bucket := Bucket{
			Mean:  stat.Mean(rs, nil),
			Count: len(rs),
		}
		if len(rs) > 1 {
			bucket.Std = stat.StdDev(rs, nil)
		}
		profile[b] = bucket
	}
	return profile
}
