// label.go generates assembly labels for jumps and branches.
//
// Labels are scoped to a single function's instruction stream: the call sequencer's
// secondpass carve-out runs sibling functions concurrently (src/compiler), but no two
// goroutines ever allocate labels for the same function at once, so the generator needs no
// synchronization of its own.

package util

import "fmt"

// ---------------------
// ----- Constants -----
// ---------------------

// Labels for conditionals.
const (
	LabelWhileHead = iota
	LabelWhileEnd
	LabelIf
	LabelIfElse
	LabelIfEnd
	LabelIfElseEnd
	LabelJump
)

// labelPrefixes stores the string literal prefixes for labels of each type.
var labelPrefixes = [LabelJump + 1]string{
	"LWhileHead",
	"LWhileEnd",
	"LIf",
	"LIfElse",
	"LIfEnd",
	"LIfElseEnd",
	"LJump",
}

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// LabelAllocator hands out unique label names within one function's instruction stream.
type LabelAllocator struct {
	prefix  string // Disambiguates labels of otherwise-identical functions, e.g. a mangled function name.
	indices [LabelJump + 1]int
}

// ---------------------
// ----- functions -----
// ---------------------

// NewLabelAllocator returns a LabelAllocator whose labels are prefixed with prefix, so that
// labels from different functions never collide once instruction streams are concatenated.
func NewLabelAllocator(prefix string) *LabelAllocator {
	return &LabelAllocator{prefix: prefix}
}

// New returns a new label of type typ, or the string "#LABEL-ERROR" if typ is not a recognised
// label type.
func (la *LabelAllocator) New(typ int) string {
	if typ < 0 || typ >= len(la.indices) {
		return "#LABEL-ERROR"
	}
	s := fmt.Sprintf("%s_%s_%03d", la.prefix, labelPrefixes[typ], la.indices[typ])
	la.indices[typ]++
	return s
}
