// Package compiler is the compile-unit driver: the supplemental piece (present in
// original_source/tools...c and callfunctionnow.tools...c, dropped by the spec.md distillation,
// reinstated per SPEC_FULL.md §4) that ties the arena, the Variable Store, and the per-function
// packages (src/regfile, src/stackframe, src/memory, src/eval, src/call, src/asm) together into
// one compilation session.
//
// The core itself does not walk a syntax tree — parsing and tree-walking are the surrounding
// compiler's job (spec §1's "deliberately OUT of scope" list). This package's Generator callback
// is where that outer tree-walker plugs in: Unit wires a fresh FuncContext per function and hands
// it to the caller-supplied Generator, which drives src/eval/src/call/src/asm the way a
// recursive-descent expression evaluator would.
//
// Spec §5 is explicit that the core itself is single-threaded, but also names one sanctioned
// concurrency carve-out worth taking: independent functions' secondpass may run in parallel
// (mirroring the teacher's AllocateRegisters/calcLiveness worker-pool pattern, since removed along
// with the graph-coloring backend it served). Every package a FuncContext wires is created fresh
// per function and touches no state shared with another function's FuncContext except
// variable.Store (which already takes its own lock per spec §5's shared-resource list) and the
// arena-backed function registry below (guarded by Unit's own mutex). Nothing inside one
// function's cursor spawns a goroutine; SecondPass's pool only ever runs whole functions concurrently
// with each other.
package compiler

import (
	"sync"

	"vslcore/src/arena"
	"vslcore/src/asm"
	"vslcore/src/call"
	"vslcore/src/ctype"
	"vslcore/src/eval"
	"vslcore/src/ir"
	"vslcore/src/memory"
	"vslcore/src/regfile"
	"vslcore/src/stackframe"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// FuncContext bundles every per-function collaborator a Generator needs, replacing the closures
// over curpos/funcarg/current-function that the original's C helpers captured (Design Notes §9:
// "nested closures over captured state -> passed-context struct").
type FuncContext struct {
	Fn   *ir.Function
	Regs *regfile.File
	SF   *stackframe.Engine
	Mem  *memory.Lowering
	Eval *eval.Evaluator
	Call *call.Sequencer
	Asm  *asm.Sequencer
}

// Generator lowers one function's body into ctx.Fn's instruction stream. The surrounding
// compiler's tree-walker supplies this; Unit only wires the collaborators it's called with.
type Generator func(ctx *FuncContext) error

// Unit is one compilation session: the arena-backed function registry, the shared Variable
// Store, the type resolver and call resolver the surrounding compiler supplies, and the string
// region's cumulative layout.
type Unit struct {
	opt      util.Options
	Store    *variable.Store
	Types    ctype.Resolver
	resolver call.Resolver

	mu       sync.Mutex
	funcs    *arena.Arena[*ir.Function]
	byId     map[int]*ir.Function
	order    []*ir.Function

	strings      *arena.StringInterner
	stringOffset map[int]int
	stringNext   int
}

// New returns an empty Unit governed by opt, resolving types through types and call targets
// through resolver (both supplied by the surrounding compiler's symbol table, per spec §6).
func New(opt util.Options, types ctype.Resolver, resolver call.Resolver) *Unit {
	return &Unit{
		opt:          opt,
		Store:        variable.NewStore(opt),
		Types:        types,
		resolver:     resolver,
		funcs:        arena.New[*ir.Function](16),
		byId:         make(map[int]*ir.Function),
		strings:      arena.NewStringInterner(),
		stringOffset: make(map[int]int),
	}
}

// RegisterFunction declares a new Function owned by this Unit, parented under parent (nil for a
// top-level function), and returns it with its stable arena-assigned Id already set. This is the
// one place the arena's stable-index pattern (Design Notes §9) backs a live entity: fn.Id is the
// identifier every Variable.Owner, FuncInfo.Id and stackframe-id comparison in this repo carries.
func (u *Unit) RegisterFunction(name string, parent *ir.Function) *ir.Function {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.funcs.Alloc(nil)
	fn := ir.NewFunction(int(id), name, parent)
	*u.funcs.Get(id) = fn
	u.byId[fn.Id] = fn
	u.order = append(u.order, fn)
	return fn
}

// Lookup returns the Function registered under id, if any.
func (u *Unit) Lookup(id int) (*ir.Function, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn, ok := u.byId[id]
	return fn, ok
}

// Functions returns every registered Function in registration order.
func (u *Unit) Functions() []*ir.Function {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*ir.Function, len(u.order))
	copy(out, u.order)
	return out
}

// InternString returns the Variable addressing payload in the string region, assigning it the
// next free byte offset the first time payload is seen (and reusing both the interner's index and
// variable.Store's own payload-keyed dedup on every later call) — spec §4.1's "string constant
// with deduplication by payload" plus the cumulative string-region layout spec §3's Instruction
// "code offset to the string region" term is measured against.
func (u *Unit) InternString(payload string) *variable.Variable {
	u.mu.Lock()
	i := u.strings.Intern(payload)
	off, ok := u.stringOffset[i]
	if !ok {
		off = u.stringNext
		u.stringOffset[i] = off
		u.stringNext += len(payload) + 1 // +1 for the nul terminator.
	}
	u.mu.Unlock()
	return u.Store.NewStringConstant(payload, off)
}

// StringRegionSize returns the total byte size of the string region accumulated so far.
func (u *Unit) StringRegionSize() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stringNext
}

// wire constructs a fresh FuncContext for fn: a new register ring, and the per-function
// collaborators layered on top of it, each grounded on the same sibling-package wiring
// src/call's and src/asm's own tests use (regfile -> stackframe -> memory -> eval/call/asm).
func (u *Unit) wire(fn *ir.Function) *FuncContext {
	regs := regfile.New(u.opt.GPRCount, u.opt)
	sf := stackframe.New(u.opt, regs, fn)
	mem := memory.New(u.opt, regs, fn, sf)
	seq := call.New(u.opt, u.Store, regs, mem, fn, sf, u.resolver)
	ev := eval.New(u.opt, u.Store, regs, mem, fn, u.Types, seq)
	ev.RegisterDefaultNativeOps()
	asmSeq := asm.New(u.opt, regs, mem, fn)
	return &FuncContext{Fn: fn, Regs: regs, SF: sf, Mem: mem, Eval: ev, Call: seq, Asm: asmSeq}
}
