// Package memory is Memory Load/Store Lowering (spec component 7): turning a Variable reference
// into the instructions that load its value or address, and the central getregforvar entry point
// the expression evaluator and call sequencer use to obtain a register for any variable. It is
// grounded on
// original_source/regmanipulations.tools.parsestatement.lyrical.c's
// generateloadinstr (~L1865) and getregforvar (~L2342).
//
// Lowering also supplies the regfile.FlushFunc/PredeclaredHook callbacks the Register File &
// Allocator calls back into when a dirty register must be written to memory, closing the loop
// described in src/regfile's own package doc without creating an import cycle.
package memory

import (
	"strings"

	"vslcore/src/ir"
	"vslcore/src/regfile"
	"vslcore/src/stackframe"
	"vslcore/src/util"
	"vslcore/src/variable"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// LoadFlag selects whether generateloadinstr materializes a variable's value or its address.
type LoadFlag int

const (
	LoadValue LoadFlag = iota
	LoadAddr
)

// Purpose mirrors getregforvarregpurpose: FORINPUT loads (or reuses) the current value, FOROUTPUT
// only obtains a register to be written into and marks it dirty without loading anything.
type Purpose int

const (
	ForInput Purpose = iota
	ForOutput
)

// Lowering is the per-function memory-lowering context.
type Lowering struct {
	opt  util.Options
	regs *regfile.File
	fn   *ir.Function
	sf   *stackframe.Engine
}

// New returns a Lowering operating on fn's register file, wired to sf for ancestor-frame and
// region-singleton pointers.
func New(opt util.Options, regs *regfile.File, fn *ir.Function, sf *stackframe.Engine) *Lowering {
	m := &Lowering{opt: opt, regs: regs, fn: fn, sf: sf}
	regs.SetFlusher(m.Flush)
	return m
}

// ------------------------------------
// ----- generateloadinstr (§4.4) -----
// ------------------------------------

// GenerateLoadInstr loads dst with the value (or, when flag is LoadAddr, the address) of v at the
// given within-variable offset and size. v must be memory-resident (args/locals/globals,
// predeclared, or a dereference) — never a number/string/function-address/address-of constant,
// which GetRegForVar materializes directly instead. dst must already be locked by the caller.
func (m *Lowering) GenerateLoadInstr(dst *regfile.Register, v *variable.Variable, size, offset int, flag LoadFlag) error {
	if v.IsDereference {
		return m.generateDerefLoadInstr(dst, v, size, offset, flag)
	}

	level := 0
	if !v.IsPredeclared && v.Region != variable.RegionGlobals {
		lvl, ok := m.sf.LevelOf(v.Owner)
		if !ok {
			return util.NewError(util.ErrInternal, 0, 0,
				"internal error: variable %q owner is not an ancestor of the current function", v.Name)
		}
		level = lvl
	}

	base, err := m.regionBase(v, level)
	if err != nil {
		return err
	}
	if base != nil {
		m.regs.Lock(base)
		defer m.regs.Unlock(base)
	}

	imm := m.regionImmediate(v, offset)
	return m.emitLoadFromBase(dst, base, imm, size, flag)
}

// emitLoadFromBase is the third part of generateloadinstr's algorithm: given a resolved region
// base (nil meaning the stack pointer) and an immediate descriptor for the within-region offset,
// emit either an address computation or a chain of aligned loads combined with shift/or.
func (m *Lowering) emitLoadFromBase(dst, base *regfile.Register, imm *ir.ImmediateDescriptor, size int, flag LoadFlag) error {
	baseId := regId(base)

	if flag == LoadAddr {
		if immIsZero(imm) {
			m.fn.Emit(&ir.Instruction{Op: ir.OpCpy, Reg: [3]int{dst.Id, baseId, -1}})
		} else {
			m.fn.Emit(&ir.Instruction{Op: ir.OpAddi, Reg: [3]int{dst.Id, baseId, -1}, Imm: imm})
		}
		dst.WasZeroExtended = false
		dst.WasSignExtended = false
		return nil
	}

	gpr := m.opt.SizeOfGPR
	if size <= gpr {
		m.fn.Emit(&ir.Instruction{Op: ir.OpLoad, Reg: [3]int{dst.Id, baseId, -1}, Imm: imm, Width: size})
		dst.Size = size
		dst.WasZeroExtended = size >= gpr
		dst.WasSignExtended = false
		return nil
	}

	// size > sizeofgpr: issue one load per word-sized chunk, combining every chunk after the
	// first into dst with a shift followed by an or (spec §4.4's "combine with shifts and
	// bitwise-or when the requested size exceeds a single aligned load").
	count := (size + gpr - 1) / gpr
	for i := 0; i < count; i++ {
		loadOff := i * gpr
		chunkImm := addLiteral(imm, int64(loadOff))

		if i == 0 {
			m.fn.Emit(&ir.Instruction{Op: ir.OpLoad, Reg: [3]int{dst.Id, baseId, -1}, Imm: chunkImm, Width: gpr})
			continue
		}

		chunk, err := m.regs.Alloc(regfile.AllocCriticalOnly)
		if err != nil {
			return err
		}
		m.regs.Lock(chunk)
		m.fn.Emit(&ir.Instruction{Op: ir.OpLoad, Reg: [3]int{chunk.Id, baseId, -1}, Imm: chunkImm, Width: gpr})
		m.fn.Emit(&ir.Instruction{Op: ir.OpShl, Reg: [3]int{chunk.Id, chunk.Id, -1}, Imm: litPtr(int64(8 * loadOff))})
		m.fn.Emit(&ir.Instruction{Op: ir.OpOr, Reg: [3]int{dst.Id, dst.Id, chunk.Id}})
		m.regs.Unlock(chunk)
	}
	dst.Size = size
	dst.WasZeroExtended = true
	dst.WasSignExtended = false
	return nil
}

// generateDerefLoadInstr handles a dereference Variable: first obtain the pointer value held in
// v.DerefTarget, then load through it, the same two-step shape as the original's re-parsed
// "(*(cast)var)" name (here DerefTarget is a direct struct reference rather than re-parsed text).
func (m *Lowering) generateDerefLoadInstr(dst *regfile.Register, v *variable.Variable, size, offset int, flag LoadFlag) error {
	ptr, err := m.GetRegForVar(v.DerefTarget, 0, m.opt.SizeOfGPR, 0, ForInput)
	if err != nil {
		return err
	}
	m.regs.Lock(ptr)
	defer m.regs.Unlock(ptr)
	return m.emitLoadFromBase(dst, ptr, litPtr(int64(offset)), size, flag)
}

// regionBase resolves the first part of generateloadinstr's algorithm: the register holding the
// base address of the region where v resides, or nil meaning the stack pointer already holds it.
func (m *Lowering) regionBase(v *variable.Variable, level int) (*regfile.Register, error) {
	switch {
	case v.IsPredeclared:
		return m.predeclaredAddrReg(v)
	case v.Region == variable.RegionGlobals:
		return m.sf.GetRegPtrToGlobalRegion()
	case level == 0:
		return nil, nil
	default:
		ref, err := m.sf.GetRegPtrToFuncStackframe(level)
		if err != nil {
			return nil, err
		}
		if ref.StackPointer {
			return nil, nil
		}
		return ref.Reg, nil
	}
}

// predeclaredAddrReg materializes (or reuses) the register holding a predeclared variable's fixed
// absolute address, overloading v itself as the binding's Variable at offset 0 — the address is a
// distinct concern from v's value, but reusing v avoids inventing a parallel variable just to key
// the dedup search.
func (m *Lowering) predeclaredAddrReg(v *variable.Variable) (*regfile.Register, error) {
	if r := m.regs.FindVariable(v, 0, m.opt.SizeOfGPR, 0); r != nil {
		m.regs.Touch(r)
		return r, nil
	}
	r, err := m.regs.BindVariable(regfile.AllocAny, v, 0, m.opt.SizeOfGPR, 0)
	if err != nil {
		return nil, err
	}
	m.fn.Emit(&ir.Instruction{Op: ir.OpAddi, Reg: [3]int{r.Id, -1, -1}, Imm: litPtr(v.FixedAddr)})
	m.regs.Touch(r)
	return r, nil
}

// regionImmediate builds the second part of generateloadinstr's algorithm: the within-variable
// offset plus v's own region offset plus, when v resides in a stack frame, the callee's
// still-symbolic stackframe-pointer-cache/shared-region/locals sizes ahead of it (spec §4.6 item
// 8's field ordering: cache, shared region, locals, arguments).
func (m *Lowering) regionImmediate(v *variable.Variable, offset int) *ir.ImmediateDescriptor {
	d := ir.Lit(int64(offset + v.Offset))
	if v.Region != variable.RegionArgs && v.Region != variable.RegionLocals {
		return &d
	}
	owner := v.Owner
	d = d.Add(ir.ImmTerm{Kind: ir.TermStackframePtrCacheSize, Func: owner})
	d = d.Add(ir.ImmTerm{Kind: ir.TermSharedRegionSize, Func: owner})
	if v.Region == variable.RegionArgs {
		d = d.Add(ir.ImmTerm{Kind: ir.TermLocalsSize, Func: owner})
	}
	d = d.Add(ir.ImmTerm{Kind: ir.TermLiteral, Literal: int64(ir.FixedFieldCount * m.opt.SizeOfGPR)})
	return &d
}

// --------------------------------
// ----- getregforvar (§4.4)  -----
// --------------------------------

// GetRegForVar returns a register holding v at [offset, offset+size) under bitselect, reusing an
// exact existing binding when one exists. For ForOutput it only binds and marks the register
// dirty; for ForInput it loads the current value, applying a bitselect mask and sign/zero
// extension against v's cast/declared type.
func (m *Lowering) GetRegForVar(v *variable.Variable, offset, size int, bitselect uint64, purpose Purpose) (*regfile.Register, error) {
	switch {
	case v.IsNumber:
		return m.constantReg(v, func(r *regfile.Register) {
			m.fn.Emit(&ir.Instruction{Op: ir.OpAddi, Reg: [3]int{r.Id, -1, -1}, Imm: litPtr(v.NumValue)})
		})
	case v.IsFunctionAddress:
		return m.constantReg(v, func(r *regfile.Register) {
			m.fn.Emit(&ir.Instruction{
				Op:  ir.OpAfip,
				Reg: [3]int{r.Id, -1, -1},
				Imm: &ir.ImmediateDescriptor{Terms: []ir.ImmTerm{{Kind: ir.TermFuncCodeOffset, Func: v.TargetFunc}}},
			})
		})
	case v.IsString:
		return m.constantReg(v, func(r *regfile.Register) {
			d := ir.Lit(int64(v.StringOffset)).Add(ir.ImmTerm{Kind: ir.TermStringRegionCodeOffset})
			m.fn.Emit(&ir.Instruction{Op: ir.OpAfip, Reg: [3]int{r.Id, -1, -1}, Imm: &d})
		})
	case v.IsAddressOf:
		return m.constantReg(v, func(r *regfile.Register) {
			_ = m.GenerateLoadInstr(r, v.AddressOfTarget, m.opt.SizeOfGPR, 0, LoadAddr)
		})
	}

	if r := m.regs.FindVariable(v, offset, size, bitselect); r != nil {
		m.regs.Touch(r)
		if purpose == ForOutput {
			m.regs.MarkDirty(r)
		}
		return r, nil
	}

	if err := m.regs.DiscardOverlapping(v, offset, size, bitselect, regfile.OverlapDiscardAfterFlush); err != nil {
		return nil, err
	}

	r, err := m.regs.BindVariable(regfile.AllocAny, v, offset, size, bitselect)
	if err != nil {
		return nil, err
	}

	if purpose == ForOutput {
		m.regs.MarkDirty(r)
		r.WasSignExtended = false
		r.WasZeroExtended = false
		return r, nil
	}

	m.regs.Lock(r)
	err = m.GenerateLoadInstr(r, v, size, offset, LoadValue)
	m.regs.Unlock(r)
	if err != nil {
		return nil, err
	}

	if bitselect != 0 {
		m.fn.Emit(&ir.Instruction{Op: ir.OpAnd, Reg: [3]int{r.Id, r.Id, -1}, Imm: litPtr(int64(bitselect))})
	}
	m.applyExtension(r, v, size)
	return r, nil
}

// constantReg materializes a compiler-generated, non-memory-resident constant Variable (number,
// function-address, string, address-of), reusing an existing binding when one exists. These never
// flow through generateloadinstr — their value is synthesized directly, matching the original's
// "v should never be ... a lyricalvariable for which the value is generated by the compiler".
func (m *Lowering) constantReg(v *variable.Variable, emit func(r *regfile.Register)) (*regfile.Register, error) {
	if r := m.regs.FindVariable(v, 0, m.opt.SizeOfGPR, 0); r != nil {
		m.regs.Touch(r)
		return r, nil
	}
	r, err := m.regs.BindVariable(regfile.AllocAny, v, 0, m.opt.SizeOfGPR, 0)
	if err != nil {
		return nil, err
	}
	emit(r)
	m.regs.Touch(r)
	return r, nil
}

// applyExtension sign- or zero-extends r after a value load, per v's cast (falling back to its
// declared type) and size versus the machine word, mirroring the original's signorzeroextend
// switch. Unsigned types are named with a leading 'u' (u8, u16, u32, u64), the lyrical convention
// this core's type names preserve.
func (m *Lowering) applyExtension(r *regfile.Register, v *variable.Variable, size int) {
	if size >= m.opt.SizeOfGPR {
		r.WasZeroExtended = true
		r.WasSignExtended = false
		return
	}
	typeName := v.CastName
	if typeName == "" {
		typeName = v.TypeName
	}
	if strings.HasPrefix(typeName, "u") {
		m.fn.Emit(&ir.Instruction{Op: ir.OpZext, Reg: [3]int{r.Id, r.Id, -1}})
		r.WasZeroExtended = true
		r.WasSignExtended = false
		return
	}
	m.fn.Emit(&ir.Instruction{Op: ir.OpSext, Reg: [3]int{r.Id, r.Id, -1}})
	r.WasSignExtended = true
	r.WasZeroExtended = false
}

// ----------------------------------------
// ----- flush callback (regfile.FlushFunc) -----
// ----------------------------------------

// Flush writes a dirty register back to its variable's memory, the callback the Register File &
// Allocator invokes from FlushReg/FlushAndDiscardAll. A dirty ancestor frame pointer (marked so by
// stackframe.CacheStackframePointers) is stored into its slot of the current function's
// stackframe-pointer cache. The other singleton tenants (return address, region/this/retvar
// pointers) are never dirty by construction and are ignored.
func (m *Lowering) Flush(r *regfile.Register) error {
	if r.Tenant == regfile.TenantFuncLevel {
		idx, ok := m.fn.CachedLevel(r.FuncLevel)
		if !ok {
			return util.NewError(util.ErrInternal, 0, 0,
				"internal error: stackframe #%d pointer has no cache slot", r.FuncLevel)
		}
		off := (ir.FixedFieldCount + idx) * m.opt.SizeOfGPR
		m.fn.Emit(&ir.Instruction{Op: ir.OpStore, Reg: [3]int{0, r.Id, -1}, Imm: litPtr(int64(off)), Width: m.opt.SizeOfGPR})
		return nil
	}
	if r.Tenant != regfile.TenantVariable || r.V == nil {
		return nil
	}
	v := r.V

	if r.Bitselect != 0 {
		return m.flushBitselect(r, v)
	}

	if v.IsDereference {
		ptr, err := m.GetRegForVar(v.DerefTarget, 0, m.opt.SizeOfGPR, 0, ForInput)
		if err != nil {
			return err
		}
		m.regs.Lock(ptr)
		defer m.regs.Unlock(ptr)
		return m.emitStore(r, ptr, litPtr(int64(r.Offset)))
	}

	level := 0
	if !v.IsPredeclared && v.Region != variable.RegionGlobals {
		lvl, ok := m.sf.LevelOf(v.Owner)
		if !ok {
			return util.NewError(util.ErrInternal, 0, 0,
				"internal error: variable %q owner is not an ancestor of the current function", v.Name)
		}
		level = lvl
	}
	base, err := m.regionBase(v, level)
	if err != nil {
		return err
	}
	if base != nil {
		m.regs.Lock(base)
		defer m.regs.Unlock(base)
	}
	imm := m.regionImmediate(v, r.Offset)
	return m.emitStore(r, base, imm)
}

func (m *Lowering) emitStore(r, base *regfile.Register, imm *ir.ImmediateDescriptor) error {
	m.fn.Emit(&ir.Instruction{Op: ir.OpStore, Reg: [3]int{regId(base), r.Id, -1}, Imm: imm, Width: r.Size})
	return nil
}

// flushBitselect implements a dirty bit-field register's write-back: read the word currently in
// memory, clear the selected bits, or in the new value, and store the result back (spec §4.4:
// "read-modify-write merge under the bitselect mask" for a Bitfield write, scenario S5).
func (m *Lowering) flushBitselect(r *regfile.Register, v *variable.Variable) error {
	// Re-read the word straight from memory into a scratch register rather than through
	// GetRegForVar's binding cache: r itself is still marked dirty mid-flush, so routing through
	// the overlap-discard path would try to flush r again.
	cur, err := m.regs.Alloc(regfile.AllocCriticalOnly)
	if err != nil {
		return err
	}
	m.regs.Lock(cur)
	defer m.regs.Unlock(cur)
	if err := m.GenerateLoadInstr(cur, v, r.Size, r.Offset, LoadValue); err != nil {
		return err
	}

	m.fn.Emit(&ir.Instruction{Op: ir.OpAnd, Reg: [3]int{cur.Id, cur.Id, -1}, Imm: litPtr(int64(^r.Bitselect))})
	m.fn.Emit(&ir.Instruction{Op: ir.OpAnd, Reg: [3]int{r.Id, r.Id, -1}, Imm: litPtr(int64(r.Bitselect))})
	m.fn.Emit(&ir.Instruction{Op: ir.OpOr, Reg: [3]int{cur.Id, cur.Id, r.Id}})

	level := 0
	if !v.IsPredeclared && v.Region != variable.RegionGlobals {
		lvl, ok := m.sf.LevelOf(v.Owner)
		if ok {
			level = lvl
		}
	}
	base, err := m.regionBase(v, level)
	if err != nil {
		return err
	}
	if base != nil {
		m.regs.Lock(base)
		defer m.regs.Unlock(base)
	}
	imm := m.regionImmediate(v, r.Offset)
	m.fn.Emit(&ir.Instruction{Op: ir.OpStore, Reg: [3]int{regId(base), cur.Id, -1}, Imm: imm, Width: r.Size})
	return nil
}

// ----------------------------
// ----- small helpers    -----
// ----------------------------

func regId(r *regfile.Register) int {
	if r == nil {
		return 0
	}
	return r.Id
}

func litPtr(v int64) *ir.ImmediateDescriptor {
	d := ir.Lit(v)
	return &d
}

// immIsZero reports whether d resolves to the literal 0 regardless of layout — only true when
// every term is already a concrete TermLiteral summing to zero.
func immIsZero(d *ir.ImmediateDescriptor) bool {
	var sum int64
	for _, t := range d.Terms {
		if t.Kind != ir.TermLiteral {
			return false
		}
		sum += t.Literal
	}
	return sum == 0
}

// addLiteral returns a copy of d with extra added to its first literal term (appending one if
// none exists), used to offset a chunked load within a multi-word variable.
func addLiteral(d *ir.ImmediateDescriptor, extra int64) *ir.ImmediateDescriptor {
	nd := ir.ImmediateDescriptor{Terms: append([]ir.ImmTerm(nil), d.Terms...)}
	for i, t := range nd.Terms {
		if t.Kind == ir.TermLiteral {
			nd.Terms[i].Literal += extra
			return &nd
		}
	}
	nd.Terms = append(nd.Terms, ir.ImmTerm{Kind: ir.TermLiteral, Literal: extra})
	return &nd
}
