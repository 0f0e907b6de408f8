// Package solution turns a solver assignment back into one value per slot.
package solution

import (
	"math"

	"github.com/HatiCode/gapfill/pkg/qubo"
)

// Result is the decoded fill of one channel.
type Result struct {
	// Values holds one non-negative value per slot.
	Values []float64
	// Repaired lists the slots whose assignment was not one-hot and fell
	// back to the rounded expected value.
	Repaired []int
}

// Degenerate reports whether any slot needed repair.
func (r Result) Degenerate() bool {
	return len(r.Repaired) > 0
}

// Extract decodes assignment through layout. A slot with exactly one active
// candidate takes that candidate; any other slot takes round(expected[i]),
// clamped at zero, and is recorded in Repaired. Bits missing from a short
// assignment read as zero.
func Extract(layout *qubo.Layout, assignment qubo.Assignment, expected []float64) Result {
	n := len(expected)
	res := Result{Values: make([]float64, n)}

	for i := 0; i < n; i++ {
		chosen, active := 0, 0
		if i < layout.NumSlots() {
			for _, id := range layout.Slot(i) {
				if assignment.Active(id) {
					chosen = layout.Var(id).Value
					active++
				}
			}
		}

		if active == 1 {
			res.Values[i] = float64(chosen)
			continue
		}
		res.Values[i] = fallback(expected[i])
		res.Repaired = append(res.Repaired, i)
	}
	return res
}

func fallback(e float64) float64 {
	if math.IsNaN(e) || e < 0 {
		return 0
	}
	return math.Round(e)
}
