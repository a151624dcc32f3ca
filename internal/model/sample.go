package model

// Branch is one outcome of a multi-way categorical draw together with its
// probability mass.
type Branch[T any] struct {
	P       float64
	Outcome T
}

// Choose samples an outcome from ordered branches using a single uniform
// draw u in [0,1). Branches occupy consecutive intervals of [0,1) in the
// order given; the first branch whose cumulative upper bound exceeds u wins.
// If u falls beyond the total mass of all branches, Choose returns stay and
// ok=false: the residual mass is an explicit "no change" outcome.
func Choose[T any](u float64, branches []Branch[T], stay T) (outcome T, ok bool) {
	cum := 0.0
	for _, b := range branches {
		cum += b.P
		if u < cum {
			return b.Outcome, true
		}
	}
	return stay, false
}
