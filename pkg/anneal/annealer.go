package anneal

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/qubo"
)

// Init selects how each read picks its starting state.
type Init int

const (
	// InitRandom activates one random candidate per one-hot group.
	InitRandom Init = iota
	// InitGreedy activates the candidate with the lowest linear bias per
	// group, lowest id on ties.
	InitGreedy
)

func (i Init) String() string {
	switch i {
	case InitGreedy:
		return "greedy"
	default:
		return "random"
	}
}

// ParseInit maps a configuration string to an Init.
func ParseInit(s string) (Init, error) {
	switch s {
	case "", "random":
		return InitRandom, nil
	case "greedy":
		return InitGreedy, nil
	default:
		return 0, errs.Config("anneal", "unknown init %q (want random or greedy)", s)
	}
}

// DefaultSweeps is the sweep budget of NewAnnealer.
const DefaultSweeps = 1000

// Annealer is a single-flip simulated annealer.
//
// Algorithm, per read:
//  1. Start from a one-hot state (random or greedy) and cache every
//     variable's local field h_i + Σ_j Q_ij·x_j
//  2. For each sweep, at temperature T_k of a geometric schedule from
//     TStart to TEnd, visit every variable in id order and accept its flip
//     with the Metropolis rule
//  3. Keep the best state seen; stop after Sweeps sweeps, after Patience
//     sweeps without improvement, or when MaxDuration elapses
//  4. Descend from both the best and the final state at zero temperature
//     until no single flip lowers the energy, and keep the lower one
//
// Reads restarts run from seeds derived from the call seed and the best
// read wins, the lower read index on ties.
type Annealer struct {
	// Sweeps is the number of full passes per read.
	Sweeps int
	// Reads is the number of independent restarts.
	Reads int
	// Patience stops a read after that many sweeps without a new best.
	// Zero disables early stopping.
	Patience int
	// TStart and TEnd bound the schedule. Zero for both derives them from
	// the model's coefficient magnitudes.
	TStart float64
	TEnd   float64
	// MaxDuration caps the wall clock of one Solve call. Zero means no cap.
	// A capped run is not reproducible.
	MaxDuration time.Duration
	Init        Init
}

// NewAnnealer returns an annealer with the default sweep budget and one read.
func NewAnnealer() *Annealer {
	return &Annealer{Sweeps: DefaultSweeps, Reads: 1}
}

// Name returns the strategy identifier.
func (a *Annealer) Name() string {
	return "anneal"
}

// Validate checks the annealer settings.
func (a *Annealer) Validate() error {
	switch {
	case a.Sweeps < 1:
		return errs.Config("anneal", "sweeps must be >= 1, got %d", a.Sweeps)
	case a.Reads < 1:
		return errs.Config("anneal", "reads must be >= 1, got %d", a.Reads)
	case a.Patience < 0:
		return errs.Config("anneal", "patience must be >= 0, got %d", a.Patience)
	case a.MaxDuration < 0:
		return errs.Config("anneal", "max duration must be >= 0, got %v", a.MaxDuration)
	case a.TStart < 0 || a.TEnd < 0:
		return errs.Config("anneal", "temperatures must be >= 0, got %v..%v", a.TStart, a.TEnd)
	case (a.TStart == 0) != (a.TEnd == 0):
		return errs.Config("anneal", "set both temperatures or neither, got %v..%v", a.TStart, a.TEnd)
	case a.TEnd > a.TStart:
		return errs.Config("anneal", "end temperature %v above start %v", a.TEnd, a.TStart)
	}
	return nil
}

// Solve runs the configured number of reads and returns the best state.
func (a *Annealer) Solve(ctx context.Context, m *qubo.Model, seed uint64) (qubo.Assignment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if m.NumVars() == 0 {
		return qubo.Assignment{}, nil
	}

	p := newProblem(m)
	hot, cold := a.TStart, a.TEnd
	if hot == 0 {
		hot, cold = p.autoTemperatures()
	}

	var deadline time.Time
	if a.MaxDuration > 0 {
		deadline = time.Now().Add(a.MaxDuration)
	}

	var best qubo.Assignment
	bestE := math.Inf(1)
	for read := 0; read < a.Reads; read++ {
		rng := rand.New(rand.NewPCG(seed, uint64(read)))
		state, err := a.run(ctx, p, hot, cold, rng, deadline)
		if err != nil {
			return nil, err
		}
		if e := m.Energy(state); e < bestE {
			best, bestE = state, e
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}
	return best, nil
}

func (a *Annealer) run(ctx context.Context, p *problem, hot, cold float64, rng *rand.Rand, deadline time.Time) (qubo.Assignment, error) {
	x := p.initial(a.Init, rng)
	field := p.fields(x)

	e := p.model.Energy(x)
	best := append(qubo.Assignment(nil), x...)
	bestE := e
	stale := 0

	temp, ratio := hot, cooling(hot, cold, a.Sweeps)
	if a.Sweeps == 1 {
		temp = cold
	}
	for sweep := 0; sweep < a.Sweeps; sweep, temp = sweep+1, temp*ratio {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		improved := false
		for i := range x {
			delta := field[i]
			if x[i] == 1 {
				delta = -delta
			}
			if delta > 0 && rng.Float64() >= math.Exp(-delta/temp) {
				continue
			}

			x[i] ^= 1
			e += delta
			dx := 1.0
			if x[i] == 0 {
				dx = -1
			}
			for _, c := range p.adj[i] {
				field[c.To] += c.Bias * dx
			}

			if e < bestE {
				copy(best, x)
				bestE = e
				improved = true
			}
		}

		if improved {
			stale = 0
		} else {
			stale++
		}
		if a.Patience > 0 && stale >= a.Patience {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}

	p.descend(best)
	p.descend(x)
	if p.model.Energy(x) < p.model.Energy(best) {
		return x, nil
	}
	return best, nil
}

// maxDescentPasses bounds descend when float drift keeps finding flips.
const maxDescentPasses = 1000

// descend applies improving single flips in id order until a pass over
// freshly computed fields finds none. The result is a local minimum.
func (p *problem) descend(x qubo.Assignment) {
	for pass := 0; pass < maxDescentPasses; pass++ {
		field := p.fields(x)
		flipped := false
		for i := range x {
			delta := field[i]
			if x[i] == 1 {
				delta = -delta
			}
			if delta >= 0 {
				continue
			}

			x[i] ^= 1
			dx := 1.0
			if x[i] == 0 {
				dx = -1
			}
			for _, c := range p.adj[i] {
				field[c.To] += c.Bias * dx
			}
			flipped = true
		}
		if !flipped {
			return
		}
	}
}

// problem is the dense view of a model the sweep loop works on.
type problem struct {
	model  *qubo.Model
	linear []float64
	adj    [][]qubo.Coupling
	groups [][]int
}

func newProblem(m *qubo.Model) *problem {
	return &problem{
		model:  m,
		linear: m.Linear(),
		adj:    m.Adjacency(),
		groups: m.Groups(),
	}
}

// initial builds a read's starting state. Variables outside every group
// start from a fair coin.
func (p *problem) initial(init Init, rng *rand.Rand) qubo.Assignment {
	x := make(qubo.Assignment, len(p.linear))
	grouped := make([]bool, len(x))
	for _, g := range p.groups {
		if len(g) == 0 {
			continue
		}
		for _, id := range g {
			grouped[id] = true
		}
		pick := g[0]
		switch init {
		case InitGreedy:
			for _, id := range g[1:] {
				if p.linear[id] < p.linear[pick] {
					pick = id
				}
			}
		default:
			pick = g[rng.IntN(len(g))]
		}
		x[pick] = 1
	}
	for i := range x {
		if !grouped[i] && rng.IntN(2) == 1 {
			x[i] = 1
		}
	}
	return x
}

// fields returns h_i + Σ_j Q_ij·x_j for every variable. Flipping i changes
// the energy by the field when x_i is 0 and by its negation when x_i is 1.
func (p *problem) fields(x qubo.Assignment) []float64 {
	field := append([]float64(nil), p.linear...)
	for i, cs := range p.adj {
		for _, c := range cs {
			if x[c.To] == 1 {
				field[i] += c.Bias
			}
		}
	}
	return field
}

// autoTemperatures scales the schedule to the model: at the start the
// largest possible flip is accepted with probability 1/2, at the end the
// smallest non-zero one with probability 1/100. When one-hot groups carry
// couplings the start is capped at the largest of them, so range penalties
// far above the constraint scale do not set the schedule.
func (p *problem) autoTemperatures() (float64, float64) {
	maxDelta := 0.0
	minDelta := math.Inf(1)
	for i, h := range p.linear {
		d := math.Abs(h)
		if d > 0 {
			minDelta = math.Min(minDelta, d)
		}
		for _, c := range p.adj[i] {
			b := math.Abs(c.Bias)
			d += b
			if b > 0 {
				minDelta = math.Min(minDelta, b)
			}
		}
		maxDelta = math.Max(maxDelta, d)
	}
	if maxDelta == 0 {
		return 1, 1
	}
	if c := p.groupCoupling(); c > 0 && c < maxDelta {
		maxDelta = c
	}
	tStart := maxDelta / math.Ln2
	tEnd := minDelta / math.Log(100)
	if tEnd > tStart {
		tEnd = tStart
	}
	return tStart, tEnd
}

// groupCoupling returns the largest coupling magnitude between two
// variables of the same group.
func (p *problem) groupCoupling() float64 {
	group := make([]int, len(p.linear))
	for i := range group {
		group[i] = -1
	}
	for g, ids := range p.groups {
		for _, id := range ids {
			group[id] = g
		}
	}

	largest := 0.0
	for i, cs := range p.adj {
		if group[i] < 0 {
			continue
		}
		for _, c := range cs {
			if group[c.To] == group[i] {
				largest = math.Max(largest, math.Abs(c.Bias))
			}
		}
	}
	return largest
}

// cooling returns the per-sweep factor of a geometric schedule that reaches
// cold from hot in n sweeps.
func cooling(hot, cold float64, n int) float64 {
	if n <= 1 {
		return 1
	}
	return math.Pow(cold/hot, 1/float64(n-1))
}
