package ir

import "vslcore/src/util"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// LabelTable tracks, for one function, where each label resolves to and which instructions used
// it before it was defined. Spec §8 invariant 5: every emitted jump's destination label resolves
// to a unique instruction position in the same function; no forward reference is left
// unresolved at function close.
type LabelTable struct {
	resolved map[string]int // label name -> instruction position.
	pending  map[string][]int
}

// NewLabelTable returns an empty LabelTable.
func NewLabelTable() *LabelTable {
	return &LabelTable{
		resolved: make(map[string]int),
		pending:  make(map[string][]int),
	}
}

// Define binds name to instruction position pos. It fails if name is already bound, since two
// definitions of the same label within one function would make invariant 5's "unique
// instruction position" impossible to satisfy.
func (lt *LabelTable) Define(name string, pos int) error {
	if _, ok := lt.resolved[name]; ok {
		return util.NewError(util.ErrInternal, 0, 0, "label %q redefined", name)
	}
	lt.resolved[name] = pos
	return nil
}

// Use records that the instruction at pos references name. If name is already resolved the
// caller can patch immediately; Use still records the reference so RequireAllResolved can report
// every use, resolved or not.
func (lt *LabelTable) Use(name string, pos int) {
	lt.pending[name] = append(lt.pending[name], pos)
}

// Resolve returns the instruction position name resolves to, and whether it has been defined
// yet.
func (lt *LabelTable) Resolve(name string) (int, bool) {
	pos, ok := lt.resolved[name]
	return pos, ok
}

// RequireAllResolved fails if any label used via Use was never Defined, per invariant 5's
// "no forward reference is left unresolved at function close".
func (lt *LabelTable) RequireAllResolved() error {
	for name, uses := range lt.pending {
		if _, ok := lt.resolved[name]; !ok {
			return util.NewError(util.ErrInternal, 0, 0,
				"label %q used at %d position(s) but never resolved", name, len(uses))
		}
	}
	return nil
}
