package qubo

import (
	"math"
	"strings"

	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/prior"
)

// Penalties weighs the energy families against each other.
type Penalties struct {
	// Deviation pulls each slot toward its expected value.
	Deviation float64
	// Boundary ties the first and last slot to the trend next to the known
	// boundary samples.
	Boundary float64
	// Smoothness makes consecutive differences follow the trend slope.
	Smoothness float64
	// RangeHigh punishes values above the historical maximum (quartic).
	RangeHigh float64
	// RangeLow punishes values below the historical minimum (quadratic).
	RangeLow float64
	// OneHot is the constraint strength P for one candidate per slot.
	OneHot float64
}

// DefaultPenalties returns the standard weights.
func DefaultPenalties() Penalties {
	return Penalties{
		Deviation:  1,
		Boundary:   1,
		Smoothness: 1,
		RangeHigh:  1e6,
		RangeLow:   1e4,
		OneHot:     1e6,
	}
}

// Validate requires every weight to be positive and finite.
func (p Penalties) Validate() error {
	for _, w := range []struct {
		name string
		v    float64
	}{
		{"deviation", p.Deviation},
		{"boundary", p.Boundary},
		{"smoothness", p.Smoothness},
		{"range_high", p.RangeHigh},
		{"range_low", p.RangeLow},
		{"one_hot", p.OneHot},
	} {
		if !(w.v > 0) || math.IsInf(w.v, 0) {
			return errs.Config("penalties", "%s must be positive and finite, got %v", w.name, w.v)
		}
	}
	return nil
}

// Terms selects the energy families an Encoder emits.
type Terms uint8

const (
	TermDeviation Terms = 1 << iota
	TermRange
	TermBoundary
	TermSmoothness
	TermOneHot

	AllTerms = TermDeviation | TermRange | TermBoundary | TermSmoothness | TermOneHot
)

// Has reports whether every family in o is selected.
func (t Terms) Has(o Terms) bool {
	return t&o == o
}

func (t Terms) String() string {
	if t == 0 {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		term Terms
		name string
	}{
		{TermDeviation, "deviation"},
		{TermRange, "range"},
		{TermBoundary, "boundary"},
		{TermSmoothness, "smoothness"},
		{TermOneHot, "one_hot"},
	} {
		if t.Has(n.term) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseTerms reads a list of family names separated by "|" or ",", as
// printed by Terms.String. "all" selects every family.
func ParseTerms(s string) (Terms, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return AllTerms, nil
	}
	var t Terms
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.TrimSpace(name) {
		case "deviation":
			t |= TermDeviation
		case "range":
			t |= TermRange
		case "boundary":
			t |= TermBoundary
		case "smoothness":
			t |= TermSmoothness
		case "one_hot":
			t |= TermOneHot
		default:
			return 0, errs.Config("terms", "unknown energy family %q", name)
		}
	}
	if t == 0 {
		return 0, errs.Config("terms", "no energy family selected in %q", s)
	}
	return t, nil
}

// Input is everything the encoder needs for one channel.
type Input struct {
	Expected   []float64
	Candidates [][]int
	Trend      prior.Trend
	Min        float64
	Max        float64
}

// InputFromPrior discretizes a prior into an encoder input.
func InputFromPrior(p *prior.Prior) Input {
	cands := make([][]int, len(p.Expected))
	for i, e := range p.Expected {
		cands[i] = Candidates(e)
	}
	return Input{
		Expected:   p.Expected,
		Candidates: cands,
		Trend:      p.Trend,
		Min:        p.Min,
		Max:        p.Max,
	}
}

// Encoder builds the QUBO of one channel.
type Encoder struct {
	Penalties Penalties
	Terms     Terms
}

// NewEncoder returns an encoder with default weights and every family.
func NewEncoder() Encoder {
	return Encoder{Penalties: DefaultPenalties(), Terms: AllTerms}
}

// Encode builds the model and the layout that decodes its variables.
func (e Encoder) Encode(in Input) (*Model, *Layout, error) {
	if err := e.Penalties.Validate(); err != nil {
		return nil, nil, err
	}
	n := len(in.Expected)
	if n == 0 {
		return nil, nil, errs.Config("encode", "no slots to encode")
	}
	if len(in.Candidates) != n {
		return nil, nil, errs.Config("encode", "got %d candidate sets for %d slots", len(in.Candidates), n)
	}
	for i, cs := range in.Candidates {
		if len(cs) == 0 {
			return nil, nil, errs.Config("encode", "slot %d has no candidates", i)
		}
	}

	layout := NewLayout(in.Candidates)
	m := NewModel(layout.NumVars())
	m.SetGroups(layout.Groups())
	w := e.Penalties
	slope := in.Trend.Slope

	for i := 0; i < n; i++ {
		for _, id := range layout.Slot(i) {
			x := float64(layout.Var(id).Value)

			if e.Terms.Has(TermDeviation) {
				d := x - in.Expected[i]
				m.Add(id, id, w.Deviation*d*d)
			}

			if e.Terms.Has(TermRange) {
				switch {
				case x > in.Max:
					d := x - in.Max
					m.Add(id, id, w.RangeHigh*d*d*d*d)
				case x < in.Min:
					d := in.Min - x
					m.Add(id, id, w.RangeLow*d*d)
				}
			}

			if e.Terms.Has(TermBoundary) {
				if i == 0 {
					d := x - (in.Trend.Y0 + slope)
					m.Add(id, id, w.Boundary*d*d)
				}
				if i == n-1 {
					d := x - (in.Trend.Y1 - slope)
					m.Add(id, id, w.Boundary*d*d)
				}
			}
		}
	}

	if e.Terms.Has(TermSmoothness) {
		for i := 0; i+1 < n; i++ {
			for _, a := range layout.Slot(i) {
				xi := float64(layout.Var(a).Value)
				for _, b := range layout.Slot(i + 1) {
					xj := float64(layout.Var(b).Value)
					d := (xj - xi) - slope
					m.Add(a, b, w.Smoothness*d*d)
				}
			}
		}
	}

	if e.Terms.Has(TermOneHot) {
		for i := 0; i < n; i++ {
			ids := layout.Slot(i)
			for k, a := range ids {
				m.Add(a, a, -2*w.OneHot)
				for _, b := range ids[k+1:] {
					m.Add(a, b, 2*w.OneHot)
				}
			}
		}
	}

	return m, layout, nil
}
