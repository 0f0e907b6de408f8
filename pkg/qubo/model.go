// Package qubo encodes the gap-filling problem of one channel as a quadratic
// unconstrained binary optimization.
//
// Every missing slot i gets one binary selector per candidate value. The
// model is the upper-triangular coefficient map Q, and the energy of an
// assignment b is
//
//	E(b) = Σ Q[i,i]·b_i + Σ_{i<j} Q[i,j]·b_i·b_j
//
// Coefficients are built once by the Encoder and read-only afterwards.
package qubo

import (
	"maps"
	"slices"
)

// Pair indexes one coefficient. I <= J; I == J is a linear bias.
type Pair struct {
	I, J int
}

// Assignment holds one bit (0 or 1) per variable id.
type Assignment []uint8

// Active reports whether variable v is set. Ids past the end read as unset.
func (a Assignment) Active(v int) bool {
	return v < len(a) && a[v] != 0
}

// Coupling is one off-diagonal coefficient seen from a variable.
type Coupling struct {
	To   int
	Bias float64
}

// Model is a sparse QUBO over NumVars binary variables.
type Model struct {
	numVars int
	coeffs  map[Pair]float64
	groups  [][]int
}

// NewModel returns an empty model over n variables.
func NewModel(n int) *Model {
	return &Model{numVars: n, coeffs: make(map[Pair]float64)}
}

// NumVars returns the number of binary variables.
func (m *Model) NumVars() int {
	return m.numVars
}

// NumTerms returns the number of stored coefficients.
func (m *Model) NumTerms() int {
	return len(m.coeffs)
}

// Add accumulates bias onto the (i, j) coefficient. Pairs are unordered.
func (m *Model) Add(i, j int, bias float64) {
	if i > j {
		i, j = j, i
	}
	m.coeffs[Pair{I: i, J: j}] += bias
}

// Get returns the (i, j) coefficient, 0 if absent.
func (m *Model) Get(i, j int) float64 {
	if i > j {
		i, j = j, i
	}
	return m.coeffs[Pair{I: i, J: j}]
}

// Linear returns the diagonal as a dense slice.
func (m *Model) Linear() []float64 {
	out := make([]float64, m.numVars)
	for p, b := range m.coeffs {
		if p.I == p.J {
			out[p.I] = b
		}
	}
	return out
}

func (m *Model) sortedPairs() []Pair {
	return slices.SortedFunc(maps.Keys(m.coeffs), func(a, b Pair) int {
		if a.I != b.I {
			return a.I - b.I
		}
		return a.J - b.J
	})
}

// Quadratic returns the off-diagonal coefficients in (I, J) order.
func (m *Model) Quadratic() []Term {
	pairs := m.sortedPairs()
	out := make([]Term, 0, len(pairs))
	for _, p := range pairs {
		if p.I != p.J {
			out = append(out, Term{Pair: p, Bias: m.coeffs[p]})
		}
	}
	return out
}

// Term is a coefficient with its index.
type Term struct {
	Pair
	Bias float64
}

// Adjacency returns, for every variable, its off-diagonal couplings sorted
// by neighbour id.
func (m *Model) Adjacency() [][]Coupling {
	adj := make([][]Coupling, m.numVars)
	for _, t := range m.Quadratic() {
		adj[t.I] = append(adj[t.I], Coupling{To: t.J, Bias: t.Bias})
		adj[t.J] = append(adj[t.J], Coupling{To: t.I, Bias: t.Bias})
	}
	for _, a := range adj {
		slices.SortFunc(a, func(x, y Coupling) int { return x.To - y.To })
	}
	return adj
}

// Energy evaluates the model on an assignment. Terms are summed in (I, J)
// order so the result is reproducible to the last bit.
func (m *Model) Energy(a Assignment) float64 {
	var e float64
	for _, p := range m.sortedPairs() {
		if a.Active(p.I) && a.Active(p.J) {
			e += m.coeffs[p]
		}
	}
	return e
}

// Groups returns the one-hot groups: the variable ids of each slot, in slot
// order. Solvers may use them to start from a one-hot assignment.
func (m *Model) Groups() [][]int {
	return m.groups
}

// SetGroups records the one-hot groups of the model.
func (m *Model) SetGroups(groups [][]int) {
	m.groups = groups
}
