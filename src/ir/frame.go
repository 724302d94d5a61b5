package ir

// Fixed frame-field offsets in units of sizeofgpr, shared by the Stackframe Pointer Engine
// (src/stackframe) and the Call Sequencer (src/call), per spec §4.6's regular-stackframe
// layout:
//
//  1. offset from frame base to the return-address field (first word)
//  2. pointer to previous stackframe (caller)
//  3. pointer to parent-function stackframe (lexical parent)
//  4. stackframe-id (equals the callee function's code address)
//  5. this pointer
//  6. return-variable address
//  7. return address
//  8. variable-size blocks: stackframe-pointer cache, shared region, locals, arguments
const (
	FieldRetAddrMarker      = 0
	FieldPrevStackframe     = 1
	FieldParentStackframe   = 2
	FieldStackframeId       = 3
	FieldThis               = 4
	FieldRetvarAddr         = 5
	FieldReturnAddress      = 6
	FixedFieldCount         = 7 // Words 0..6; variable-size blocks start at word 7.
)

// Tiny stackframe field offsets (spec §4.6): used when the callee is a subfunction of a
// stackframe holder. Only fields 1, 2, optionally 6, and the arguments block exist — the holder
// has already allocated fields 3-5 and locals/shared region on the subfunction's behalf.
const (
	TinyFieldRetAddrMarker  = 0
	TinyFieldPrevStackframe = 1
	// TinyFieldRetvarAddr, when present, immediately follows the previous-stackframe field.
	TinyFieldRetvarAddr = 2
)
