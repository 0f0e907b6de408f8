package qubo

// Var is the (slot, candidate) pair a variable id stands for.
type Var struct {
	Slot  int
	Value int
}

// Layout maps variable ids to slot candidates. Ids of one slot are
// contiguous and follow the slot's candidate order.
type Layout struct {
	vars    []Var
	offsets []int
}

// NewLayout assigns ids slot by slot.
func NewLayout(candidates [][]int) *Layout {
	l := &Layout{offsets: make([]int, len(candidates)+1)}
	for slot, cs := range candidates {
		l.offsets[slot] = len(l.vars)
		for _, v := range cs {
			l.vars = append(l.vars, Var{Slot: slot, Value: v})
		}
	}
	l.offsets[len(candidates)] = len(l.vars)
	return l
}

// NumVars returns the total number of variables.
func (l *Layout) NumVars() int {
	return len(l.vars)
}

// NumSlots returns the number of slots.
func (l *Layout) NumSlots() int {
	return len(l.offsets) - 1
}

// Var returns the slot and candidate value of id.
func (l *Layout) Var(id int) Var {
	return l.vars[id]
}

// Slot returns the variable ids of a slot.
func (l *Layout) Slot(slot int) []int {
	ids := make([]int, 0, l.offsets[slot+1]-l.offsets[slot])
	for id := l.offsets[slot]; id < l.offsets[slot+1]; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Groups returns the ids of every slot.
func (l *Layout) Groups() [][]int {
	groups := make([][]int, l.NumSlots())
	for s := range groups {
		groups[s] = l.Slot(s)
	}
	return groups
}
