// native.go is the native-built-in-operator half of the operator-function dispatcher (spec
// §4.5.2, §6's searchnativeop(signature)): a composed signature that names one of the core's own
// arithmetic/bitwise/comparison operators is lowered directly into a three-address instruction,
// rather than going through the full call-sequencing path src/call builds for a user-declared
// function. This is exactly scenario S1 ("Local add"): load a, load b, allocate a register for
// the result marked dirty, emit add.
package eval

import (
	"vslcore/src/ir"
	"vslcore/src/memory"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// NativeOp names the instruction a native operator signature lowers to, and the type/size its
// result is given (a fresh tempvar of this shape holds the result, per spec §4.1's tempvar role).
type NativeOp struct {
	Op         ir.Opcode
	ResultType string
	ResultSize int // 0 defaults to the target's GPR size.
}

// RegisterNativeOp installs spec as the lowering for signature (as composed by Signature),
// overriding the Dispatcher fallback for that exact signature.
func (e *Evaluator) RegisterNativeOp(signature string, spec NativeOp) {
	if e.natives == nil {
		e.natives = make(map[string]NativeOp)
	}
	e.natives[signature] = spec
}

// RegisterDefaultNativeOps installs the core's builtin int|int arithmetic/bitwise operators and
// their int unary counterparts, the way the original's searchnativeop table resolves the
// always-available operators before ever consulting a user-declared operator-function.
func (e *Evaluator) RegisterDefaultNativeOps() {
	gpr := e.opt.SizeOfGPR
	binary := map[string]ir.Opcode{
		"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMul, "/": ir.OpDiv, "%": ir.OpMod,
		"&": ir.OpAnd, "|": ir.OpOr, "^": ir.OpXor, "<<": ir.OpShl, ">>": ir.OpShr,
	}
	for name, op := range binary {
		e.RegisterNativeOp(Signature(name, intVar(), intVar()), NativeOp{Op: op, ResultType: "int", ResultSize: gpr})
	}
	unary := map[string]ir.Opcode{"-": ir.OpNeg, "~": ir.OpNot}
	for name, op := range unary {
		e.RegisterNativeOp(Signature(name, intVar()), NativeOp{Op: op, ResultType: "int", ResultSize: gpr})
	}
}

// intVar is a throwaway int-typed Variable used only to compose a signature string; it is never
// allocated a register or emitted.
func intVar() *variable.Variable { return &variable.Variable{TypeName: "int"} }

// nativeOp lowers a native operator call: each argument is loaded for input (locked against the
// result register's own allocation so obtaining the output slot can't evict an operand still in
// flight), a fresh tempvar receives the result, and the opcode is emitted with the result first
// and operands following, mirroring S1's "add R3, R1, R2" operand order.
func (e *Evaluator) nativeOp(spec NativeOp, args []*variable.Variable) (*variable.Variable, error) {
	if len(args) > 2 {
		return nil, util.NewError(util.ErrType, 0, 0, "native operator takes at most two operands, got %d", len(args))
	}

	srcs := make([]int, len(args))
	for i, a := range args {
		size := a.Size
		if size == 0 {
			size = e.opt.SizeOfGPR
		}
		r, err := e.mem.GetRegForVar(a, 0, size, a.Bitselect, memory.ForInput)
		if err != nil {
			return nil, err
		}
		e.regs.Lock(r)
		defer e.regs.Unlock(r)
		srcs[i] = r.Id
	}

	resultSize := spec.ResultSize
	if resultSize == 0 {
		resultSize = e.opt.SizeOfGPR
	}
	result, err := e.store.NewTemp(e.fn.Id, spec.ResultType, resultSize)
	if err != nil {
		return nil, err
	}
	rd, err := e.mem.GetRegForVar(result, 0, resultSize, 0, memory.ForOutput)
	if err != nil {
		return nil, err
	}

	in := &ir.Instruction{Op: spec.Op, Reg: [3]int{rd.Id, -1, -1}}
	if len(srcs) > 0 {
		in.Reg[1] = srcs[0]
	}
	if len(srcs) > 1 {
		in.Reg[2] = srcs[1]
	}
	e.fn.Emit(in)
	return result, nil
}
