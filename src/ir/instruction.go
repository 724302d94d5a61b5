// instruction.go is the Instruction Emitter (spec component 4): it appends three-address
// instructions to the current Function's instruction list, carrying immediate-value descriptors
// that stand for layout offsets not yet known at emission time.

package ir

import (
	"fmt"
	"strings"

	"vslcore/src/util"
	"vslcore/src/variable"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Opcode names a three-address instruction. The core never interprets opcodes beyond size/shape;
// concrete encoding is an outer-layer concern.
type Opcode int

const (
	OpNop Opcode = iota
	OpComment
	OpMove
	OpLoad
	OpStore
	OpAddi
	OpCpy
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNot
	OpNeg
	OpSext
	OpZext
	OpJump
	OpJumpCondImm // Jump to Label if Reg[0] is zero (JZ).
	OpJumpCondNZ  // Jump to Label if Reg[0] is non-zero (JNZ).
	OpJumpLabel
	OpCall
	OpCallIndirect
	OpReturn
	OpPushArg
	OpLabel
	OpAsmRaw
	OpAfip         // "add from instruction pointer": code-relative address-of-label/function/region.
	OpJL           // Jump-and-link: register destination gets the return address.
	OpMemcpy
	OpMemcpyI
	OpStackpageAlloc
	OpStackpageFree
)

// TermKind classifies one summand of an ImmediateDescriptor. Each kind stands for a quantity not
// known until layout finalization (the sum of all local-vars sizes, a function's code offset,
// and so on) except TermLiteral, which is already a concrete value.
type TermKind int

const (
	TermLiteral TermKind = iota
	TermLocalsSize
	TermSharedRegionSize
	TermStackframePtrCacheSize
	TermSharedRegionOffset
	TermFuncCodeOffset
	TermGlobalRegionCodeOffset
	TermStringRegionCodeOffset
	TermInstructionCodeOffset // Resolves a Label use.
	TermFuncOffsetToFunc
)

// ImmTerm is one summand of an ImmediateDescriptor.
type ImmTerm struct {
	Kind    TermKind
	Literal int64
	Func    int    // Opaque function id, when Kind references a function-relative quantity.
	Name    string // Named shared-region member, or label name, as required by Kind.
}

// ImmediateDescriptor is spec §3's deferred immediate-value representation: a small list of
// terms summed at layout finalization, letting the firstpass emit code before final stackframe
// sizes are known.
type ImmediateDescriptor struct {
	Terms []ImmTerm
}

// Lit returns an ImmediateDescriptor holding the single concrete value v.
func Lit(v int64) ImmediateDescriptor {
	return ImmediateDescriptor{Terms: []ImmTerm{{Kind: TermLiteral, Literal: v}}}
}

// Add appends a term to the descriptor and returns it, for chained construction.
func (d ImmediateDescriptor) Add(t ImmTerm) ImmediateDescriptor {
	d.Terms = append(d.Terms, t)
	return d
}

// Resolve sums the descriptor's terms given a layout that can answer each TermKind. Resolve is
// only ever called after layout finalization (external to the core); the core only builds
// descriptors.
func (d ImmediateDescriptor) Resolve(layout Layout) (int64, error) {
	var sum int64
	for _, t := range d.Terms {
		v, err := t.resolve(layout)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum, nil
}

func (t ImmTerm) resolve(layout Layout) (int64, error) {
	switch t.Kind {
	case TermLiteral:
		return t.Literal, nil
	case TermLocalsSize:
		return int64(layout.LocalsSize(t.Func)), nil
	case TermSharedRegionSize:
		return int64(layout.SharedRegionSize(t.Func)), nil
	case TermStackframePtrCacheSize:
		return int64(layout.StackframePtrCacheSize(t.Func)), nil
	case TermSharedRegionOffset:
		return int64(layout.SharedRegionMemberOffset(t.Func, t.Name)), nil
	case TermFuncCodeOffset:
		return int64(layout.FuncCodeOffset(t.Func)), nil
	case TermGlobalRegionCodeOffset:
		return int64(layout.GlobalRegionCodeOffset()), nil
	case TermStringRegionCodeOffset:
		return int64(layout.StringRegionCodeOffset()), nil
	case TermInstructionCodeOffset:
		off, ok := layout.LabelCodeOffset(t.Name)
		if !ok {
			return 0, util.NewError(util.ErrInternal, 0, 0, "unresolved label %q", t.Name)
		}
		return int64(off), nil
	case TermFuncOffsetToFunc:
		return int64(layout.FuncCodeOffset(t.Func)), nil
	default:
		return 0, util.NewError(util.ErrInternal, 0, 0, "unknown immediate term kind %d", t.Kind)
	}
}

// Layout is implemented by the layout-finalization stage external to the core (spec §6: "Outputs
// from the core: ... Per-function layout sizes ... written back for layout finalization"). The
// core never calls it; it exists so ImmediateDescriptor.Resolve has somewhere to go once that
// stage exists.
type Layout interface {
	LocalsSize(fn int) int
	SharedRegionSize(fn int) int
	StackframePtrCacheSize(fn int) int
	SharedRegionMemberOffset(fn int, member string) int
	FuncCodeOffset(fn int) int
	GlobalRegionCodeOffset() int
	StringRegionCodeOffset() int
	LabelCodeOffset(name string) (int, bool)
}

// Instruction is spec §3's Instruction entity: an opcode, up to three register-id operands, and
// an optional immediate descriptor. Comment instructions carry zero size and are ignored by
// layout and by code-size computation (spec §7) when emit-comments is set.
type Instruction struct {
	Op      Opcode
	Reg     [3]int // Register ids; meaning depends on Op. Unused slots are -1. A -1 second/third
	// operand alongside a non-nil Imm means "immediate only" — e.g. OpAddi with Reg[1]==-1 loads
	// a bare constant into Reg[0], the core's stand-in for the original's li.
	Imm     *ImmediateDescriptor
	Width   int    // Load/store byte width, for OpLoad/OpStore on a sub-word variable. 0 means the full machine word.
	Comment string // Non-empty only for OpComment / an attached diagnostic.
	Label   string // Target label name, for OpJumpLabel/OpJumpCondImm/OpCall.
}

// Size reports the instruction's contribution to code size. Comment instructions are zero-size
// and are skipped by layout (spec §7).
func (in *Instruction) Size() int {
	if in.Op == OpComment {
		return 0
	}
	return 1
}

// String renders the instruction for diagnostics.
func (in *Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(opcodeNames[in.Op])
	for _, r := range in.Reg {
		if r >= 0 {
			fmt.Fprintf(&sb, " r%d", r)
		}
	}
	if in.Label != "" {
		fmt.Fprintf(&sb, " %s", in.Label)
	}
	if in.Comment != "" {
		fmt.Fprintf(&sb, " ; %s", in.Comment)
	}
	return sb.String()
}

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpComment: "comment", OpMove: "mov", OpLoad: "ld", OpStore: "st",
	OpAddi: "addi", OpCpy: "cpy", OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpMod: "mod", OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr",
	OpNot: "not", OpNeg: "neg", OpSext: "sext", OpZext: "zext", OpJump: "jmp",
	OpJumpCondImm: "jz", OpJumpCondNZ: "jnz", OpJumpLabel: "jlabel", OpCall: "call",
	OpCallIndirect: "calli", OpReturn: "ret", OpPushArg: "pusharg", OpLabel: "label",
	OpAsmRaw: "asm", OpAfip: "afip", OpJL: "jl", OpMemcpy: "memcpy", OpMemcpyI: "memcpyi",
	OpStackpageAlloc: "stackpagealloc", OpStackpageFree: "stackpagefree",
}

// ----------------------------
// ----- Function entity -----
// ----------------------------

// Function is spec §3's Function entity, trimmed to what the emitter, register allocator and
// stackframe engine need; the syntax-tree-facing Name/signature/flags a frontend already
// determined are carried verbatim.
type Function struct {
	Id       int
	Name     string
	Parent   *Function // Nil for a top-level function.
	Children []*Function

	IsVariadic            bool
	IsRecursive           bool
	AddressTaken          bool // "its-pointer-is-obtained": requires a runtime stackframe-id walk.
	UsesThis              bool
	IsStackframeHolder    bool
	CouldNotGetSFHolder   bool
	StackframeHolder      *Function // Nearest ancestor that is a stackframe holder, if any.

	// StackframePointerCachingDone is set once cachestackframepointers() has run at function
	// entry (spec §4.3 step 4); before that point ancestor-frame lookups must walk rather than
	// read the not-yet-populated cache.
	StackframePointerCachingDone bool

	// CodeAddrLabel is the label naming this function's own code address, used both as the
	// jump target of a direct call and as the stackframe-id compared against during an
	// address-taken ancestor's id-scan walk (spec §4.3 step 5, scenario S6).
	CodeAddrLabel string

	// LabelGen hands out unique label names scoped to this function's instruction stream (spec
	// §8 invariant 5: labels resolve uniquely within one function).
	LabelGen *util.LabelAllocator

	Params []*variable.Variable
	Locals []*variable.Variable

	// CachedStackframes is the ordered-by-ascending-level list of ancestor frame pointers this
	// function caches, per spec §4.3's cachestackframepointers.
	CachedStackframes []CachedStackframe

	CalledFunctions map[int]int // Callee function id -> use count.

	Instructions []*Instruction
	Labels       *LabelTable

	// Layout sizes, computed after firstpass (spec §3 lifecycle).
	LocalsSize             int
	SharedRegionSize       int
	StackframePtrCacheSize int
}

// CachedStackframe is spec §3's Cached Stackframe record.
type CachedStackframe struct {
	Level    int
	CacheIdx int
}

// NewFunction returns a Function ready for secondpass instruction emission.
func NewFunction(id int, name string, parent *Function) *Function {
	fn := &Function{
		Id:              id,
		Name:            name,
		Parent:          parent,
		CalledFunctions: make(map[int]int),
		Labels:          NewLabelTable(),
		LabelGen:        util.NewLabelAllocator(name),
		CodeAddrLabel:   name,
	}
	if parent != nil {
		parent.Children = append(parent.Children, fn)
	}
	return fn
}

// Emit appends in to the function's instruction list and returns its position.
func (fn *Function) Emit(in *Instruction) int {
	fn.Instructions = append(fn.Instructions, in)
	return len(fn.Instructions) - 1
}

// EmitComment appends a zero-size diagnostic comment instruction, only meaningful when
// Options.EmitComments is set; callers gate this themselves so the emitter stays a pure
// recorder.
func (fn *Function) EmitComment(format string, args ...interface{}) int {
	return fn.Emit(&Instruction{Op: OpComment, Reg: [3]int{-1, -1, -1}, Comment: fmt.Sprintf(format, args...)})
}

// RecordCall increments the use count for a callee, building the called-functions list spec §3
// requires on Function.
func (fn *Function) RecordCall(callee int) {
	fn.CalledFunctions[callee]++
}

// CachedLevel returns the cache slot index reserved for ancestor level, and whether one exists.
func (fn *Function) CachedLevel(level int) (int, bool) {
	for _, c := range fn.CachedStackframes {
		if c.Level == level {
			return c.CacheIdx, true
		}
	}
	return 0, false
}

// CacheLevel reserves a new cache slot for ancestor level if one does not already exist, keeping
// the list ordered by ascending level (spec §3). It fails with a resource error if the resulting
// cache would exceed maxBytes.
func (fn *Function) CacheLevel(level, sizeOfGPR, maxBytes int) (int, error) {
	if idx, ok := fn.CachedLevel(level); ok {
		return idx, nil
	}
	idx := len(fn.CachedStackframes)
	if (idx+1)*sizeOfGPR > maxBytes {
		return 0, util.NewError(util.ErrResource, 0, 0,
			"function %q nested too deep: stackframe-pointer cache would exceed %d bytes", fn.Name, maxBytes)
	}
	// Insertion-sorted by ascending level, per spec §3's "ordered by ascending ancestor level".
	i := 0
	for ; i < len(fn.CachedStackframes); i++ {
		if fn.CachedStackframes[i].Level > level {
			break
		}
	}
	fn.CachedStackframes = append(fn.CachedStackframes, CachedStackframe{})
	copy(fn.CachedStackframes[i+1:], fn.CachedStackframes[i:])
	fn.CachedStackframes[i] = CachedStackframe{Level: level, CacheIdx: idx}
	fn.StackframePtrCacheSize = len(fn.CachedStackframes) * sizeOfGPR
	return idx, nil
}
