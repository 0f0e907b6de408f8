package qubo

import "math"

// Candidates discretizes an expected value into the integer values a slot
// may take: floor and ceil of e, widened to {f-1, f, f+1} (bounded below by
// zero) when e is already integral. The result is sorted, non-negative and
// holds at least two distinct values.
//
// Negative and NaN inputs are treated as 0; +Inf is capped at MaxInt32.
func Candidates(e float64) []int {
	switch {
	case math.IsNaN(e) || e < 0:
		e = 0
	case e > math.MaxInt32:
		e = math.MaxInt32
	}

	f := int(math.Floor(e))
	c := int(math.Ceil(e))
	if f != c {
		return []int{f, c}
	}
	if f == 0 {
		return []int{0, 1}
	}
	return []int{f - 1, f, f + 1}
}
