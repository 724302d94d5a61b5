package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vslcore/src/call"
	"vslcore/src/ctype"
	"vslcore/src/ir"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// stubResolver answers Resolve from a signature->FuncInfo map populated after the Unit's
// functions are registered (their arena-assigned Ids aren't known beforehand), the same stand-in
// src/call's own tests use for the surrounding compiler's symbol table.
type stubResolver map[string]*call.FuncInfo

func (r stubResolver) Resolve(signature string) (*call.FuncInfo, bool) {
	info, ok := r[signature]
	return info, ok
}

func countOp(fn *ir.Function, op ir.Opcode) int {
	n := 0
	for _, in := range fn.Instructions {
		if in.Op == op {
			n++
		}
	}
	return n
}

// TestCompileOuterCallsInnerWithLocalAdd wires a two-function unit (outer, with a nested inner
// function) end to end: outer declares two locals, adds them via the native "+" dispatcher (S1
// — "local add"), then calls inner with the sum. It exercises Unit.RegisterFunction (the arena
// wiring), FirstPass's stackframe-holder assignment, and SecondPass's per-function FuncContext
// wiring all at once.
func TestCompileOuterCallsInnerWithLocalAdd(t *testing.T) {
	opt := util.Defaults()
	opt.GPRCount = 8
	opt.Threads = 2
	types := ctype.NewStaticResolver(ctype.Native(opt.SizeOfGPR))
	resolver := stubResolver{}

	u := New(opt, types, resolver)
	outerFn := u.RegisterFunction("outer", nil)
	innerFn := u.RegisterFunction("inner", outerFn)

	resolver["inner int"] = &call.FuncInfo{
		Id:       innerFn.Id,
		Label:    innerFn.CodeAddrLabel,
		ParentId: outerFn.Id,
		Params:   []call.Param{{TypeName: "int", Size: opt.SizeOfGPR}},
	}

	gen := func(ctx *FuncContext) error {
		switch ctx.Fn.Id {
		case outerFn.Id:
			a, err := u.Store.DeclareLocal(ctx.Fn.Id, "a", "int", opt.SizeOfGPR)
			if err != nil {
				return err
			}
			b, err := u.Store.DeclareLocal(ctx.Fn.Id, "b", "int", opt.SizeOfGPR)
			if err != nil {
				return err
			}
			c, err := ctx.Eval.BinaryOp("+", a, b)
			if err != nil {
				return err
			}
			_, err = ctx.Eval.Call("inner", []*variable.Variable{c})
			return err
		case innerFn.Id:
			ctx.Fn.Emit(&ir.Instruction{Op: ir.OpReturn, Reg: [3]int{-1, -1, -1}})
			return nil
		default:
			t.Fatalf("unexpected function %q", ctx.Fn.Name)
			return nil
		}
	}

	require.NoError(t, u.FirstPass(nil))
	require.True(t, outerFn.IsStackframeHolder, "outer has a nested subfunction and no jpush, so it qualifies as a stackframe holder")
	require.False(t, innerFn.IsStackframeHolder)
	require.Equal(t, outerFn, innerFn.StackframeHolder)

	require.NoError(t, u.SecondPass(gen))

	assert.Equal(t, 1, countOp(outerFn, ir.OpAdd), "BinaryOp(\"+\") must lower to a native add, not a call")
	assert.Equal(t, 1, countOp(outerFn, ir.OpStackpageAlloc))
	assert.Equal(t, 1, countOp(outerFn, ir.OpCall))
	assert.Equal(t, 1, countOp(innerFn, ir.OpReturn))

	require.NoError(t, innerFn.Labels.RequireAllResolved())
	require.NoError(t, outerFn.Labels.RequireAllResolved())
}

// TestSecondPassPropagatesFunctionError confirms a failure from one function's Generator call is
// surfaced by SecondPass even though other functions ran in the same worker pool.
func TestSecondPassPropagatesFunctionError(t *testing.T) {
	opt := util.Defaults()
	opt.GPRCount = 4
	opt.Threads = 4
	types := ctype.NewStaticResolver(ctype.Native(opt.SizeOfGPR))
	u := New(opt, types, stubResolver{})

	u.RegisterFunction("ok", nil)
	u.RegisterFunction("bad", nil)

	err := u.SecondPass(func(ctx *FuncContext) error {
		if ctx.Fn.Name == "bad" {
			return util.NewError(util.ErrSemantic, 0, 0, "boom")
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.ErrSemantic))
}

// TestInternStringDedupsAndAssignsOffsets exercises Unit.InternString's cumulative string-region
// layout and its reuse of variable.Store's own payload-keyed dedup.
func TestInternStringDedupsAndAssignsOffsets(t *testing.T) {
	opt := util.Defaults()
	u := New(opt, ctype.NewStaticResolver(ctype.Native(opt.SizeOfGPR)), stubResolver{})

	first := u.InternString("hello")
	second := u.InternString("world")
	third := u.InternString("hello")

	assert.Same(t, first, third, "identical payloads must dedup to the same Variable")
	assert.Equal(t, 0, first.StringOffset)
	assert.Equal(t, len("hello")+1, second.StringOffset)
	assert.Equal(t, len("hello")+1+len("world")+1, u.StringRegionSize())
}
