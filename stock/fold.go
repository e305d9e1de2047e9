package stock

// =============================================================================
// TALLY - The effect of an ordered run of entries on one code
// =============================================================================

// Tally is the folded effect of a run of entries for one code.
//
// When no Adjustment occurred, Value is a pure delta to add to whatever
// came before the run. Once an Adjustment occurred, Value is absolute and
// the earlier total no longer matters.
type Tally struct {
	Value       int
	Overwritten bool
}

// Apply folds one entry into the tally.
func (t Tally) Apply(e Entry) Tally {
	switch {
	case e.Kind == KindAdjustment:
		return Tally{Value: e.Quantity, Overwritten: true}
	case e.Kind.Additive():
		t.Value += e.Quantity
	case e.Kind.Subtractive():
		t.Value -= e.Quantity
	}
	return t
}

// On returns the quantity obtained by applying the tally after base.
func (t Tally) On(base int) int {
	if t.Overwritten {
		return t.Value
	}
	return base + t.Value
}

// =============================================================================
// FOLDS
// =============================================================================

// Fold reduces entries, assumed to be in timestamp order, to a quantity
// starting from zero. Entries of other codes are not filtered out.
func Fold(entries []Entry) int {
	var t Tally
	for _, e := range entries {
		t = t.Apply(e)
	}
	return t.On(0)
}

// FoldByCode folds each code independently in a single pass.
func FoldByCode(entries []Entry) map[string]Tally {
	tallies := make(map[string]Tally)
	for _, e := range entries {
		tallies[e.ItemCode] = tallies[e.ItemCode].Apply(e)
	}
	return tallies
}

// ApplyTallies combines a baseline with per-code tallies. Codes present in
// either map appear in the result.
func ApplyTallies(base map[string]int, tallies map[string]Tally) map[string]int {
	out := make(map[string]int, len(base)+len(tallies))
	for code, q := range base {
		out[code] = q
	}
	for code, t := range tallies {
		out[code] = t.On(out[code])
	}
	return out
}
