// Package anneal provides the solvers that minimize a channel's QUBO.
//
// Two strategies are available behind the Solver interface:
//   - Annealer: a self-contained simulated annealer over single-bit flips
//   - SamplerSolver: delegates to an external Sampler, such as HTTPSampler
//
// The strategy is chosen by configuration, not detected at runtime.
package anneal

import (
	"context"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/qubo"
)

// Solver minimizes a QUBO model. For a given model and seed a Solver returns
// the same assignment on every call, unless a wall-clock cap cut it short.
type Solver interface {
	// Name identifies the strategy in logs and metrics.
	Name() string

	// Solve returns a low-energy assignment with one bit per variable.
	Solve(ctx context.Context, m *qubo.Model, seed uint64) (qubo.Assignment, error)
}

// Sampler is an external backend that draws numReads samples from a model
// and returns the lowest-energy one.
type Sampler interface {
	Sample(ctx context.Context, m *qubo.Model, numReads int, seed uint64) (qubo.Assignment, error)
}

// DefaultNumReads is the number of samples requested from a Sampler.
const DefaultNumReads = 50

// SamplerSolver adapts a Sampler to the Solver interface.
type SamplerSolver struct {
	Sampler  Sampler
	NumReads int
}

// NewSamplerSolver wraps s with the default read count.
func NewSamplerSolver(s Sampler) *SamplerSolver {
	return &SamplerSolver{Sampler: s, NumReads: DefaultNumReads}
}

// Name returns the strategy identifier.
func (s *SamplerSolver) Name() string {
	return "sampler"
}

// Solve forwards the model to the sampler.
func (s *SamplerSolver) Solve(ctx context.Context, m *qubo.Model, seed uint64) (qubo.Assignment, error) {
	if s.Sampler == nil {
		return nil, errs.Config("sampler", "no sampler configured")
	}
	if s.NumReads < 1 {
		return nil, errs.Config("sampler", "num reads must be >= 1, got %d", s.NumReads)
	}
	if m.NumVars() == 0 {
		return qubo.Assignment{}, nil
	}
	return s.Sampler.Sample(ctx, m, s.NumReads, seed)
}
