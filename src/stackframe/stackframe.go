// Package stackframe is the Stackframe Pointer Engine (spec component 6): obtaining, caching,
// and restoring pointers to ancestor stackframes by level, including the stackframe-id walk used
// when an ancestor function's address has been taken. It is grounded on
// original_source/regmanipulations.tools.parsestatement.lyrical.c's
// getregptrtofuncstackframe/cachestackframepointers/getregptrtoglobalregion/
// getregptrtostringregion/getregptrtothis/getregptrtoretvar.
//
// Memory Load/Store Lowering calls into this package (spec §2's data flow); this package never
// calls back into src/memory, so there is no import cycle.
package stackframe

import (
	"vslcore/src/ir"
	"vslcore/src/regfile"
	"vslcore/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// FrameRef is the result of a frame-pointer lookup. When StackPointer is true the caller's own
// stack pointer (register 0, never allocated out of the File) already holds the wanted address —
// spec §4.3 step 1's "the stack pointer already suffices" case. Otherwise Reg holds it.
type FrameRef struct {
	StackPointer bool
	Reg          *regfile.Register
}

// Engine is the per-function stackframe-pointer lookup/caching context.
type Engine struct {
	opt  util.Options
	regs *regfile.File
	fn   *ir.Function
}

// New returns an Engine operating on fn's register file.
func New(opt util.Options, regs *regfile.File, fn *ir.Function) *Engine {
	return &Engine{opt: opt, regs: regs, fn: fn}
}

// ---------------------------------------
// ----- ancestor-level bookkeeping  -----
// ---------------------------------------

// levelOf returns the number of Parent hops from e.fn to anc, or -1 if anc is not an ancestor.
func (e *Engine) levelOf(anc *ir.Function) int {
	level := 0
	f := e.fn
	for f != nil {
		if f == anc {
			return level
		}
		level++
		f = f.Parent
	}
	return -1
}

// LevelOf returns how many Parent-hops separate e.fn from the function identified by ownerFuncId
// (0 if it is e.fn itself), and whether ownerFuncId is e.fn or one of its ancestors at all. Memory
// Load/Store Lowering uses this to turn a Variable's opaque Owner id into the ancestor level
// getregptrtofuncstackframe expects (spec §4.4's varfunclevel).
func (e *Engine) LevelOf(ownerFuncId int) (level int, ok bool) {
	f := e.fn
	for f != nil {
		if f.Id == ownerFuncId {
			return level, true
		}
		level++
		f = f.Parent
	}
	return 0, false
}

// ancestorAt returns the ir.Function level Parent-hops above e.fn (level 1 = immediate parent).
func (e *Engine) ancestorAt(level int) *ir.Function {
	f := e.fn
	for ; level > 0 && f != nil; level-- {
		f = f.Parent
	}
	return f
}

// translateLevel applies spec §4.3 steps 1-2: redirect level to be counted from e.fn's
// stackframe holder (if it has one), and then further redirect up to the nearest holder ancestor
// if the requested ancestor is not itself a holder. ok is false when the stack pointer already
// suffices (step 1's early return).
func (e *Engine) translateLevel(level int) (adjusted int, ok bool) {
	if holder := e.fn.StackframeHolder; holder != nil {
		holderLevel := e.levelOf(holder)
		if level <= holderLevel {
			return 0, false
		}
		level -= holderLevel
	}
	anc := e.ancestorAt(level)
	for anc != nil && anc.Parent != nil && !anc.IsStackframeHolder {
		level++
		anc = anc.Parent
	}
	return level, true
}

// --------------------------------------------
// ----- getregptrtofuncstackframe (§4.3) -----
// --------------------------------------------

// GetRegPtrToFuncStackframe returns the register (or the stack pointer) holding the base address
// of the ancestor stackframe at the given level (1 = immediate parent).
func (e *Engine) GetRegPtrToFuncStackframe(level int) (FrameRef, error) {
	adjusted, ok := e.translateLevel(level)
	if !ok {
		return FrameRef{StackPointer: true}, nil
	}
	level = adjusted

	if r := e.regs.Find(regfile.TenantFuncLevel, level); r != nil {
		e.regs.Touch(r)
		return FrameRef{Reg: r}, nil
	}

	if e.fn.StackframePointerCachingDone && level > 1 {
		return e.loadFromOwnCache(level)
	}

	return e.walk(level)
}

// loadFromOwnCache implements spec §4.3 step 4: reading an already-cached ancestor pointer out
// of the current function's own stackframe-pointer cache (populated by CacheStackframePointers
// at function entry).
func (e *Engine) loadFromOwnCache(level int) (FrameRef, error) {
	idx, ok := e.fn.CachedLevel(level)
	if !ok {
		return FrameRef{}, util.NewError(util.ErrInternal, 0, 0,
			"internal error: stackframe #%d pointer missing from cache", level)
	}
	r, err := e.regs.BindSingleton(regfile.AllocAny, regfile.TenantFuncLevel, level)
	if err != nil {
		return FrameRef{}, err
	}
	// The cache is the first variable-size block of the frame, so it starts right after the
	// ir.FixedFieldCount fixed words (spec §4.6 field 8).
	off := (ir.FixedFieldCount + idx) * e.opt.SizeOfGPR
	e.emitLoad(r, stackPointerOperand, off)
	e.regs.Touch(r)
	return FrameRef{Reg: r}, nil
}

// walk implements spec §4.3 step 5: walking ancestors one at a time starting from the nearest
// cached/registered frame pointer available, or from the stack pointer.
func (e *Engine) walk(level int) (FrameRef, error) {
	r, err := e.regs.BindSingleton(regfile.AllocCriticalOnly, regfile.TenantFuncLevel, level)
	if err != nil {
		return FrameRef{}, err
	}
	util.Log.Debugf("stackframe: cache miss, walking to ancestor level %d", level)

	startLevel := 0
	startIsStackPointer := true
	var startReg *regfile.Register
	if nearest, ok := e.regs.NearestFuncLevel(level - 1); ok {
		startLevel = nearest.FuncLevel
		startIsStackPointer = false
		startReg = nearest
	}

	cur := e.ancestorAt(startLevel)
	remaining := level - startLevel

	if startIsStackPointer {
		e.emitCopyFromStackPointer(r)
	} else {
		e.emitCopyFromReg(r, startReg)
	}

	for remaining > 0 {
		parent := cur.Parent
		if parent == nil {
			return FrameRef{}, util.NewError(util.ErrInternal, 0, 0,
				"internal error: ran out of ancestors walking to stackframe level %d", level)
		}
		if parent.AddressTaken {
			if err := e.emitIdScan(r, parent); err != nil {
				return FrameRef{}, err
			}
		} else {
			e.emitLoadParentPointer(r)
		}
		cur = parent
		remaining--
	}

	e.regs.Touch(r)
	return FrameRef{Reg: r}, nil
}

// ----------------------------------------
// ----- cachestackframepointers (§4.3) ----
// ----------------------------------------

// CacheStackframePointers runs once at function entry (secondpass) and loads every entry of
// fn's cached-stackframes list into a dirty register, so that the register allocator's ordinary
// flush path writes it into the reserved cache slot (spec §4.3: "marks that register dirty so
// subsequent flushing writes it into the reserved cache slot"). Level-1 ancestors are skipped
// when the stack pointer already holds them (spec's "except those that can be recovered
// cheaply").
func (e *Engine) CacheStackframePointers() error {
	for _, c := range e.fn.CachedStackframes {
		if c.Level == 1 && e.fn.StackframeHolder == nil {
			// The immediate parent's pointer is already reachable at a fixed frame offset
			// without walking; nothing to cache.
			continue
		}
		ref, err := e.walk(c.Level)
		if err != nil {
			return err
		}
		if !ref.StackPointer {
			e.regs.MarkDirty(ref.Reg)
		}
	}
	e.fn.StackframePointerCachingDone = true
	return nil
}

// -------------------------------------------------
// ----- global/string/this/retvar singletons  -----
// -------------------------------------------------

// GetRegPtrToGlobalRegion returns the register holding the global region's base address,
// obtaining it via a code-relative afip load the first time it is needed.
func (e *Engine) GetRegPtrToGlobalRegion() (*regfile.Register, error) {
	return e.singleton(regfile.TenantGlobalRegionAddr, func(r *regfile.Register) {
		e.fn.Emit(&ir.Instruction{
			Op:  ir.OpAfip,
			Reg: [3]int{r.Id, -1, -1},
			Imm: termPtr(ir.ImmTerm{Kind: ir.TermGlobalRegionCodeOffset}),
		})
	})
}

// GetRegPtrToStringRegion returns the register holding the string region's base address.
func (e *Engine) GetRegPtrToStringRegion() (*regfile.Register, error) {
	return e.singleton(regfile.TenantStringRegionAddr, func(r *regfile.Register) {
		e.fn.Emit(&ir.Instruction{
			Op:  ir.OpAfip,
			Reg: [3]int{r.Id, -1, -1},
			Imm: termPtr(ir.ImmTerm{Kind: ir.TermStringRegionCodeOffset}),
		})
	})
}

// GetRegPtrToThis returns the register holding the `this` pointer, read from its fixed slot in
// the current frame (spec §4.6 field 5).
func (e *Engine) GetRegPtrToThis() (*regfile.Register, error) {
	return e.singleton(regfile.TenantThisAddr, func(r *regfile.Register) {
		e.emitLoad(r, stackPointerOperand, ir.FieldThis*e.opt.SizeOfGPR)
	})
}

// GetRegPtrToRetvar returns the register holding the return-variable address, read from its
// fixed slot in the current frame (spec §4.6 field 6).
func (e *Engine) GetRegPtrToRetvar() (*regfile.Register, error) {
	return e.singleton(regfile.TenantRetvarAddr, func(r *regfile.Register) {
		e.emitLoad(r, stackPointerOperand, ir.FieldRetvarAddr*e.opt.SizeOfGPR)
	})
}

func (e *Engine) singleton(tenant regfile.Tenant, load func(r *regfile.Register)) (*regfile.Register, error) {
	if r := e.regs.Find(tenant, 0); r != nil {
		e.regs.Touch(r)
		return r, nil
	}
	r, err := e.regs.BindSingleton(regfile.AllocAny, tenant, 0)
	if err != nil {
		return nil, err
	}
	load(r)
	e.regs.Touch(r)
	return r, nil
}

// ----------------------------
// ----- frame field layout ---
// ----------------------------

// stackPointerOperand is a sentinel *regfile.Register representing the raw stack pointer
// (register 0), which is never allocated out of a File. Loads from it are emitted with a
// register operand id of 0, matching spec §4.2's "Register 0 is the stack pointer and is never
// allocated" and §8 invariant 11.
var stackPointerOperand *regfile.Register

func termPtr(t ir.ImmTerm) *ir.ImmediateDescriptor {
	return &ir.ImmediateDescriptor{Terms: []ir.ImmTerm{t}}
}

// litPtr returns a pointer to a single-literal ImmediateDescriptor, the common case for a fixed
// frame-field byte offset.
func litPtr(v int64) *ir.ImmediateDescriptor {
	d := ir.Lit(v)
	return &d
}

func (e *Engine) regId(r *regfile.Register) int {
	if r == nil {
		return 0
	}
	return r.Id
}

// emitLoad emits a load of the word at offset (in bytes) off the address held by base (or the
// stack pointer, if base is nil) into dst.
func (e *Engine) emitLoad(dst, base *regfile.Register, off int) {
	e.fn.Emit(&ir.Instruction{
		Op:  ir.OpLoad,
		Reg: [3]int{dst.Id, e.regId(base), -1},
		Imm: litPtr(int64(off)),
	})
}

// emitCopyFromStackPointer copies the stack pointer (register 0, the current frame's address)
// into dst as the starting point of a walk from level 0.
func (e *Engine) emitCopyFromStackPointer(dst *regfile.Register) {
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{dst.Id, e.regId(stackPointerOperand), -1}})
}

// emitCopyFromReg moves src's value into dst as the starting point of a walk that continues from
// an already-known ancestor frame pointer (spec §4.3 step 3's "nearest smaller funclevel").
func (e *Engine) emitCopyFromReg(dst, src *regfile.Register) {
	e.fn.Emit(&ir.Instruction{Op: ir.OpMove, Reg: [3]int{dst.Id, src.Id, -1}})
}

// emitLoadParentPointer advances r from holding the current frame's address to holding its
// lexical parent's frame address, by reading the fixed parent-stackframe field (spec §4.3
// step 5's "load the stored parent-frame pointer from the ancestor's frame").
func (e *Engine) emitLoadParentPointer(r *regfile.Register) {
	e.fn.Emit(&ir.Instruction{
		Op:  ir.OpLoad,
		Reg: [3]int{r.Id, r.Id, -1},
		Imm: litPtr(int64(ir.FieldParentStackframe * e.opt.SizeOfGPR)),
	})
}

// emitIdScan emits the runtime stackframe-id walk used when target had its address taken (spec
// §4.3 step 5, scenario S6): an afip of target's code address, then a loop comparing the
// stackframe-id field of successive previous-stackframes against it until a match is found.
// A register-allocation failure here (the ring can still be exhausted by locked/reserved slots,
// e.g. inside a busy assembly block, independent of InsureThereIsEnoughCriticalReg's invariant)
// is propagated rather than silently leaving r holding the wrong frame pointer (spec §7: no
// local recovery).
func (e *Engine) emitIdScan(r *regfile.Register, target *ir.Function) error {
	idReg, err := e.regs.Alloc(regfile.AllocCriticalOnly)
	if err != nil {
		return err
	}
	e.regs.Lock(idReg)
	defer e.regs.Unlock(idReg)
	loop := e.fn.LabelGen.New(util.LabelWhileHead)
	found := e.fn.LabelGen.New(util.LabelWhileEnd)

	e.fn.Emit(&ir.Instruction{
		Op:  ir.OpAfip,
		Reg: [3]int{idReg.Id, -1, -1},
		Imm: termPtr(ir.ImmTerm{Kind: ir.TermFuncCodeOffset, Func: target.Id}),
	})
	pos := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: loop})
	_ = e.fn.Labels.Define(loop, pos)

	cmpReg, err := e.regs.Alloc(regfile.AllocCriticalOnly)
	if err != nil {
		return err
	}
	e.regs.Lock(cmpReg)
	e.fn.Emit(&ir.Instruction{
		Op:  ir.OpLoad,
		Reg: [3]int{cmpReg.Id, r.Id, -1},
		Imm: litPtr(int64(ir.FieldStackframeId * e.opt.SizeOfGPR)),
	})
	e.fn.Emit(&ir.Instruction{Op: ir.OpSub, Reg: [3]int{cmpReg.Id, cmpReg.Id, idReg.Id}})
	jpos := e.fn.Emit(&ir.Instruction{Op: ir.OpJumpCondImm, Reg: [3]int{cmpReg.Id, -1, -1}, Label: found})
	e.fn.Labels.Use(found, jpos)
	e.regs.Unlock(cmpReg)

	e.fn.Emit(&ir.Instruction{
		Op:  ir.OpLoad,
		Reg: [3]int{r.Id, r.Id, -1},
		Imm: litPtr(int64(ir.FieldPrevStackframe * e.opt.SizeOfGPR)),
	})
	jpos = e.fn.Emit(&ir.Instruction{Op: ir.OpJumpLabel, Reg: [3]int{-1, -1, -1}, Label: loop})
	e.fn.Labels.Use(loop, jpos)

	fpos := e.fn.Emit(&ir.Instruction{Op: ir.OpLabel, Reg: [3]int{-1, -1, -1}, Label: found})
	_ = e.fn.Labels.Define(found, fpos)
	return nil
}
