// Package eval is the Expression Evaluator (spec component 8): precedence-climbing operator
// evaluation, prefix/postfix operator handling, short-circuit &&/||/?: lowering, and the
// signature-composition half of the operator-function call dispatcher. It is grounded on
// original_source/evaluateexpression.parsestatement.lyrical.c (casting, parenthesized
// expressions, prefix/postfix operators, precedence-climbing binary operators) and
// original_source/shortcircuiteval.evaluateexpression.parsestatement.lyrical.c (&&/||/?: exact
// algorithm).
//
// Evaluating a function call or an operator-function dispatches into the Call Sequencer, which
// in turn evaluates each argument through this package — a mutual dependency the teacher avoids
// by injecting a callback (spec §4.9, and the same shape src/regfile uses for flushing). Dispatch
// is an interface here so eval never imports src/call.
package eval

import (
	"strings"

	"vslcore/src/ctype"
	"vslcore/src/ir"
	"vslcore/src/memory"
	"vslcore/src/regfile"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// Dispatcher is the Call Sequencer's half of the operator-function boundary: given a composed
// signature and the already-evaluated argument list, it emits the call and returns the variable
// holding the result (spec §4.5.2).
type Dispatcher interface {
	Call(signature string, args []*variable.Variable) (*variable.Variable, error)
}

// Evaluator is the per-function expression-lowering context.
type Evaluator struct {
	opt     util.Options
	store   *variable.Store
	regs    *regfile.File
	mem     *memory.Lowering
	fn      *ir.Function
	types   ctype.Resolver
	call    Dispatcher
	natives map[string]NativeOp
}

// New returns an Evaluator wired to dispatch operator/function calls through call.
func New(opt util.Options, store *variable.Store, regs *regfile.File, mem *memory.Lowering, fn *ir.Function, types ctype.Resolver, call Dispatcher) *Evaluator {
	return &Evaluator{opt: opt, store: store, regs: regs, mem: mem, fn: fn, types: types, call: call}
}

// Signature composes the dispatch key for an operator or function name against the pipe-delimited
// types of its arguments (spec §4.5.2): "the signature string is the operator or function name
// followed by the pipe-delimited cast-or-declared type of each pushed argument, in order".
func Signature(name string, args ...*variable.Variable) string {
	if len(args) == 0 {
		return name
	}
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = typeNameOf(a)
	}
	return name + " " + strings.Join(types, "|")
}

func typeNameOf(v *variable.Variable) string {
	if v.CastName != "" {
		return v.CastName
	}
	return v.TypeName
}

// Call dispatches a named function or operator call: it composes the signature from name and the
// argument types, then looks up either a native built-in operator or a user-declared function
// (spec §4.5.2's "unified dispatcher ... looks up either a native built-in operator or a
// user-declared function"), falling back to the injected Dispatcher for anything the native table
// doesn't cover.
func (e *Evaluator) Call(name string, args []*variable.Variable) (*variable.Variable, error) {
	sig := Signature(name, args...)
	if spec, ok := e.natives[sig]; ok {
		return e.nativeOp(spec, args)
	}
	return e.call.Call(sig, args)
}

// BinaryOp evaluates a two-operand operator by dispatching to the operator-function whose
// signature matches op and the operand types (spec §4.5's "normal operators ... dispatch through
// the same operator-function mechanism as a named call").
func (e *Evaluator) BinaryOp(op string, a, b *variable.Variable) (*variable.Variable, error) {
	return e.Call(op, []*variable.Variable{a, b})
}

// UnaryOp evaluates a one-operand prefix operator (e.g. unary minus, logical not) the same way.
func (e *Evaluator) UnaryOp(op string, a *variable.Variable) (*variable.Variable, error) {
	return e.Call(op, []*variable.Variable{a})
}

// Cast reinterprets v under castName without moving or copying it: a cast only changes how later
// loads sign/zero-extend and how a later signature composition names v's type (spec §4.5's
// casting-expression handling; generateloadinstr's applyExtension already consults CastName
// ahead of TypeName).
func (e *Evaluator) Cast(v *variable.Variable, castName string) *variable.Variable {
	v.CastName = castName
	return v
}

// AddressOf and Dereference forward to the Variable Store; eval only adds the control-flow
// shaping (short-circuit, ternary, postfix queue) the store itself has no business knowing.
func (e *Evaluator) AddressOf(v *variable.Variable) *variable.Variable {
	return e.store.AddressOf(v)
}

func (e *Evaluator) Dereference(v *variable.Variable, castName string, size int) *variable.Variable {
	return e.store.Dereference(v, castName, size)
}

// Field resolves a struct member access (the postfix "." or "->" operator). arrow dereferences v
// first (v is a pointer-to-struct); the plain "." form operates directly on v (a struct value).
// The result is a new offset-suffixed Variable over the same storage, per spec §3's invariant
// that offset-suffixed names always resolve to a main variable plus an offset.
func (e *Evaluator) Field(v *variable.Variable, m *ctype.Member, arrow bool) *variable.Variable {
	base := v
	if arrow {
		base = e.store.Dereference(v, v.CastName, e.opt.SizeOfGPR)
	}
	fv := &variable.Variable{
		Name:           base.Name + "." + m.Name,
		Owner:          base.Owner,
		Region:         base.Region,
		Offset:         base.Offset + m.Offset,
		Size:           m.Typ.Size,
		TypeName:       m.Typ.Name,
		AlwaysVolatile: base.AlwaysVolatile,
	}
	return fv
}

// Index resolves the postfix "[" array-subscript operator. When idx is a compile-time number
// constant and base is directly memory-resident (not itself a pointer value to chase), the
// result is a cheap offset-suffixed Variable; otherwise eval falls back to computing the element
// address (base-address plus idx*elemSize) through the operator-function dispatcher and
// dereferencing it, the general form the original always uses once the index isn't a literal.
func (e *Evaluator) Index(base *variable.Variable, idx *variable.Variable, elem *ctype.Type) (*variable.Variable, error) {
	if idx.IsNumber && base.Region != variable.RegionNone {
		fv := &variable.Variable{
			Name:           base.Name + "[" + idx.Name + "]",
			Owner:          base.Owner,
			Region:         base.Region,
			Offset:         base.Offset + int(idx.NumValue)*elem.Size,
			Size:           elem.Size,
			TypeName:       elem.Name,
			AlwaysVolatile: base.AlwaysVolatile,
		}
		return fv, nil
	}

	baseAddr := e.store.AddressOf(base)
	scale := e.store.NewNumberConstant(int64(elem.Size), "int", e.opt.SizeOfGPR)
	scaled, err := e.BinaryOp("*", idx, scale)
	if err != nil {
		return nil, err
	}
	addr, err := e.BinaryOp("+", baseAddr, scaled)
	if err != nil {
		return nil, err
	}
	return e.store.Dereference(addr, elem.Name, elem.Size), nil
}

// ----------------------------
// ----- postfix ++/-- queue -----
// ----------------------------

// postfixOp is one deferred postfix increment/decrement, applied after the enclosing statement's
// value has been read (spec §4.5: "a postfix ++/-- evaluates to the pre-increment value; the
// actual increment is deferred to a queue flushed once the enclosing full-expression has used
// that value").
type postfixOp struct {
	v  *variable.Variable
	op string
}

// PostfixQueue collects deferred postfix ++/-- operations across one full expression.
type PostfixQueue struct {
	ops []postfixOp
}

// Defer records that v must be incremented/decremented (op is "++" or "--") once Flush runs.
func (q *PostfixQueue) Defer(v *variable.Variable, op string) {
	q.ops = append(q.ops, postfixOp{v: v, op: op})
}

// Flush dispatches every deferred postfix operation in the order it was queued, then empties the
// queue.
func (q *PostfixQueue) Flush(e *Evaluator) error {
	for _, p := range q.ops {
		if _, err := e.UnaryOp(p.op, p.v); err != nil {
			return err
		}
	}
	q.ops = nil
	return nil
}

// ----------------------------
// ----- short-circuit && / || / ?: -----
// ----------------------------

// ShortCircuitAnd evaluates lhs && rhs(): if lhs's runtime value is zero, rhs is never evaluated
// and the result is lhs's (falsy) value; otherwise the result is whatever rhs() evaluates to.
func (e *Evaluator) ShortCircuitAnd(lhs *variable.Variable, rhs func() (*variable.Variable, error)) (*variable.Variable, error) {
	return e.shortCircuit(ir.OpJumpCondImm, lhs, rhs)
}

// ShortCircuitOr evaluates lhs || rhs(): if lhs's runtime value is non-zero, rhs is never
// evaluated and the result is lhs's (truthy) value; otherwise the result is whatever rhs()
// evaluates to.
func (e *Evaluator) ShortCircuitOr(lhs *variable.Variable, rhs func() (*variable.Variable, error)) (*variable.Variable, error) {
	return e.shortCircuit(ir.OpJumpCondNZ, lhs, rhs)
}

// shortCircuit implements both && (skipJump == OpJumpCondImm, i.e. JZ) and || (skipJump ==
// OpJumpCondNZ, i.e. JNZ) with one algorithm, grounded on shortcircuiteval's sequence: lock the
// condition's value register, flush every register without discarding (so both the evaluated and
// skipped arms observe the same memory state), emit the conditional skip, free the condition's
// temporaries, evaluate the right-hand side into a shared result tempvar, then plant the result
// for the skipped arm as the condition's own (already-loaded) value.
func (e *Evaluator) shortCircuit(skipJump ir.Opcode, lhs *variable.Variable, rhs func() (*variable.Variable, error)) (*variable.Variable, error) {
	r, err := e.mem.GetRegForVar(lhs, 0, sizeOf(e.opt, lhs), lhs.Bitselect, memory.ForInput)
	if err != nil {
		return nil, err
	}
	e.regs.Lock(r)
	defer e.regs.Unlock(r)

	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushOnly); err != nil {
		return nil, err
	}

	skipLabel := e.fn.LabelGen.New(util.LabelIfElse)
	joinLabel := e.fn.LabelGen.New(util.LabelIfEnd)

	jpos := e.fn.Emit(&ir.Instruction{Op: skipJump, Reg: [3]int{r.Id, -1, -1}, Label: skipLabel})
	e.fn.Labels.Use(skipLabel, jpos)

	if isTempVar(lhs) {
		e.store.FreeTempVarRelated(lhs)
	}

	rhsVar, err := rhs()
	if err != nil {
		return nil, err
	}
	result, err := e.store.NewTemp(e.fn.Id, rhsVar.TypeName, sizeOf(e.opt, rhsVar))
	if err != nil {
		return nil, err
	}

	rhsReg, err := e.mem.GetRegForVar(rhsVar, 0, sizeOf(e.opt, rhsVar), rhsVar.Bitselect, memory.ForInput)
	if err != nil {
		return nil, err
	}
	resReg, err := e.mem.GetRegForVar(result, 0, result.Size, 0, memory.ForOutput)
	if err != nil {
		return nil, err
	}
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{resReg.Id, rhsReg.Id, -1}})

	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	jjpos := e.fn.Emit(&ir.Instruction{Op: ir.OpJumpLabel, Reg: [3]int{-1, -1, -1}, Label: joinLabel})
	e.fn.Labels.Use(joinLabel, jjpos)

	spos := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: skipLabel})
	if err := e.fn.Labels.Define(skipLabel, spos); err != nil {
		return nil, err
	}

	// r still holds lhs's value here: this path was reached by jumping straight from jpos,
	// bypassing the flush-and-discard-all above, so the physical register is untouched even
	// though the bookkeeping in that call marked every register (including r) unbound.
	resReg2, err := e.mem.GetRegForVar(result, 0, result.Size, 0, memory.ForOutput)
	if err != nil {
		return nil, err
	}
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{resReg2.Id, r.Id, -1}})

	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	jpos2 := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: joinLabel})
	if err := e.fn.Labels.Define(joinLabel, jpos2); err != nil {
		return nil, err
	}

	return result, nil
}

// Ternary evaluates cond ? thenFn() : elseFn(), lowered with the same shared-result-tempvar shape
// as shortCircuit (spec §4.5.1's ?: handling reuses the exact same jz/jnz plumbing as &&/||, with
// two arms instead of a fall-through).
func (e *Evaluator) Ternary(cond *variable.Variable, thenFn, elseFn func() (*variable.Variable, error)) (*variable.Variable, error) {
	r, err := e.mem.GetRegForVar(cond, 0, sizeOf(e.opt, cond), cond.Bitselect, memory.ForInput)
	if err != nil {
		return nil, err
	}
	e.regs.Lock(r)
	defer e.regs.Unlock(r)

	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushOnly); err != nil {
		return nil, err
	}

	elseLabel := e.fn.LabelGen.New(util.LabelIfElse)
	joinLabel := e.fn.LabelGen.New(util.LabelIfEnd)

	jpos := e.fn.Emit(&ir.Instruction{Op: ir.OpJumpCondImm, Reg: [3]int{r.Id, -1, -1}, Label: elseLabel})
	e.fn.Labels.Use(elseLabel, jpos)

	if isTempVar(cond) {
		e.store.FreeTempVarRelated(cond)
	}

	thenVar, err := thenFn()
	if err != nil {
		return nil, err
	}
	result, err := e.store.NewTemp(e.fn.Id, thenVar.TypeName, sizeOf(e.opt, thenVar))
	if err != nil {
		return nil, err
	}

	thenReg, err := e.mem.GetRegForVar(thenVar, 0, sizeOf(e.opt, thenVar), thenVar.Bitselect, memory.ForInput)
	if err != nil {
		return nil, err
	}
	resReg, err := e.mem.GetRegForVar(result, 0, result.Size, 0, memory.ForOutput)
	if err != nil {
		return nil, err
	}
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{resReg.Id, thenReg.Id, -1}})

	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	jjpos := e.fn.Emit(&ir.Instruction{Op: ir.OpJumpLabel, Reg: [3]int{-1, -1, -1}, Label: joinLabel})
	e.fn.Labels.Use(joinLabel, jjpos)

	epos := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: elseLabel})
	if err := e.fn.Labels.Define(elseLabel, epos); err != nil {
		return nil, err
	}

	elseVar, err := elseFn()
	if err != nil {
		return nil, err
	}
	elseReg, err := e.mem.GetRegForVar(elseVar, 0, sizeOf(e.opt, elseVar), elseVar.Bitselect, memory.ForInput)
	if err != nil {
		return nil, err
	}
	resReg2, err := e.mem.GetRegForVar(result, 0, result.Size, 0, memory.ForOutput)
	if err != nil {
		return nil, err
	}
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{resReg2.Id, elseReg.Id, -1}})

	// Both arms must reach the join with identical register state: nothing bound, everything
	// already written back, matching the then-arm's discard above.
	if err := e.regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll); err != nil {
		return nil, err
	}

	jpos2 := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: joinLabel})
	if err := e.fn.Labels.Define(joinLabel, jpos2); err != nil {
		return nil, err
	}

	return result, nil
}

// isTempVar reports whether v is a compiler-generated temporary (src/variable.Store.NewTemp's
// "%temp" naming), the same test the original makes on a variable's name before discarding its
// register binding without a flush — a named local must still be written back normally.
func isTempVar(v *variable.Variable) bool {
	return strings.HasPrefix(v.Name, "%temp")
}

func sizeOf(opt util.Options, v *variable.Variable) int {
	if v.Size > 0 {
		return v.Size
	}
	return opt.SizeOfGPR
}
