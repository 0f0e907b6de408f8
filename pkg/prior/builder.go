package prior

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/series"
)

const (
	// DefaultWindow is the length of the history read on each side of a gap.
	DefaultWindow = 28 * 24 * time.Hour
	// DefaultDamping scales the noise draw added to each expected value.
	DefaultDamping = 0.4
)

// Prior is the per-slot expectation for one channel across a gap.
type Prior struct {
	Channel string
	Trend   Trend
	Pre     Profile
	Post    Profile

	// Expected holds one non-negative value per missing slot.
	Expected []float64
	// Sigma holds the blended residual spread used for each slot's draw.
	Sigma []float64

	// Min and Max are the extrema of the channel's known history.
	Min float64
	Max float64
}

// Builder derives priors. The zero value is not usable; start from
// NewBuilder or set both fields.
type Builder struct {
	// Window is how much history before Start and after End feeds the
	// seasonal profiles.
	Window time.Duration
	// Damping (β) scales the normal draw. Zero makes the prior deterministic.
	Damping float64
}

// NewBuilder returns a Builder with the default window and damping.
func NewBuilder() Builder {
	return Builder{Window: DefaultWindow, Damping: DefaultDamping}
}

// Validate checks the builder settings.
func (b Builder) Validate() error {
	if b.Window <= 0 {
		return errs.Config("prior", "window must be > 0, got %v", b.Window)
	}
	if b.Damping < 0 || math.IsNaN(b.Damping) || math.IsInf(b.Damping, 0) {
		return errs.Config("prior", "damping must be finite and >= 0, got %v", b.Damping)
	}
	return nil
}

// Build computes the prior of one channel over gap.
//
// src supplies exactly one standard-normal draw per slot, in slot order, so
// the same source state always yields the same prior.
func (b Builder) Build(s *series.Series, gap series.Gap, channel int, src rand.Source) (*Prior, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if channel < 0 || channel >= len(s.Channels) {
		return nil, errs.Config("prior", "channel index %d out of range [0, %d)", channel, len(s.Channels))
	}
	name := s.Channels[channel]

	y0, ok := s.ValueAt(gap.Start, channel)
	if !ok {
		return nil, errs.Data("prior", "channel %q has no value at gap start %s", name, gap.Start.Format(time.RFC3339))
	}
	y1, ok := s.ValueAt(gap.End, channel)
	if !ok {
		return nil, errs.Data("prior", "channel %q has no value at gap end %s", name, gap.End.Format(time.RFC3339))
	}

	n := gap.Len()
	trend := NewTrend(y0, y1, n)

	preTimes, preValues := series.Column(s.Between(gap.Start.Add(-b.Window), gap.Start), channel)
	postTimes, postValues := series.Column(s.Between(gap.End, gap.End.Add(b.Window)), channel)

	p := &Prior{
		Channel:  name,
		Trend:    trend,
		Pre:      BuildProfile(preTimes, preValues, trend, gap.Start, gap.Interval),
		Post:     BuildProfile(postTimes, postValues, trend, gap.Start, gap.Interval),
		Expected: make([]float64, n),
		Sigma:    make([]float64, n),
	}
	p.Min, p.Max, _ = s.Extrema(channel, gap.Start, gap.End)

	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	for i, ts := range gap.Timestamps() {
		alpha := float64(i+1) / float64(n+1)
		pre := p.Pre.Lookup(ts)
		post := p.Post.Lookup(ts)

		seasonal := (1-alpha)*pre.Mean + alpha*post.Mean
		sigma := (1-alpha)*pre.Std + alpha*post.Std
		z := noise.Rand()

		e := trend.At(float64(i+1)) + seasonal + b.Damping*sigma*z
		if e < 0 || math.IsNaN(e) {
			e = 0
		}
		p.Expected[i] = e
		p.Sigma[i] = sigma
	}

	return p, nil
}
