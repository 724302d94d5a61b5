// Package regfile is the Register File & Allocator (spec component 5): a per-function circular
// list of virtual registers classified critical/non-critical, with allocation, locking, flushing
// and discarding. It is grounded line-by-line on
// original_source/regmanipulations.tools.parsestatement.lyrical.c — isregcritical,
// insurethereisenoughcriticalreg, allocreg, flushreg, flushanddiscardallreg and
// discardoverlappingreg all correspond to named methods below.
//
// Flushing a register tied to memory crosses into the Stackframe Pointer Engine and Memory
// Load/Store Lowering (spec §2's data-flow: "Register allocation triggers Memory Load/Store
// Lowering, which calls the Stackframe Pointer Engine"). To avoid an import cycle in that
// direction, File never imports those packages; a Flusher callback supplied by the caller
// performs the actual store emission, the same way src/variable's GetVarDuplicate takes a copy
// callback.
package regfile

import (
	"vslcore/src/util"
	"vslcore/src/variable"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Tenant names the reason a Register is live. Exactly one of these is set at a time; TenantNone
// means the register is free (spec §3: "All-null means free").
type Tenant int

const (
	TenantNone Tenant = iota
	TenantVariable
	TenantReturnAddress
	TenantFuncLevel
	TenantGlobalRegionAddr
	TenantStringRegionAddr
	TenantThisAddr
	TenantRetvarAddr
)

// Register is spec §3's Virtual Register entity.
type Register struct {
	Id    int
	Size  int // Currently held size, ≤ machine word.
	Offset int // Offset into the owning Variable.
	Bitselect uint64

	Dirty           bool
	Locked          bool
	Reserved bool // Reserved physical slot for inline assembly (spec §4.7).
	WasZeroExtended bool
	WasSignExtended bool

	Tenant    Tenant
	V         *variable.Variable // Valid when Tenant == TenantVariable.
	FuncLevel int                // Valid when Tenant == TenantFuncLevel; ancestor level, 1 = immediate parent.
}

// Free reports whether the register currently holds nothing.
func (r *Register) Free() bool {
	return r.Tenant == TenantNone
}

// IsSingleton reports whether r holds one of the per-function singleton roles (return address,
// ancestor frame pointer, global/string region pointer, this, retvar) rather than a Variable.
func (r *Register) IsSingleton() bool {
	switch r.Tenant {
	case TenantReturnAddress, TenantFuncLevel, TenantGlobalRegionAddr, TenantStringRegionAddr, TenantThisAddr, TenantRetvarAddr:
		return true
	default:
		return false
	}
}

// clear resets the register to free, per flushanddiscardallreg's "non-null tenant" invariant
// (spec §8 invariant 4).
func (r *Register) clear() {
	r.Tenant = TenantNone
	r.V = nil
	r.FuncLevel = 0
	r.Dirty = false
	r.Size = 0
	r.Offset = 0
	r.Bitselect = 0
	r.WasZeroExtended = false
	r.WasSignExtended = false
}

// ----------------------------
// ----- File -----
// ----------------------------

// FlushFunc writes a dirty register's value back to its owning region. It is supplied by the
// Memory Load/Store Lowering layer; File calls it and then clears the register's dirty bit (or,
// for DiscardFlushOnly callers, leaves the tenant bound).
type FlushFunc func(r *Register) error

// File is the circular register ring of one Function. Registers are kept in an explicit LRU
// order slice: order[0] is the top (least recently used, first allocation candidate); the last
// element is the most recently used.
type File struct {
	regs  []*Register
	order []*Register

	opt         util.Options
	flusher     FlushFunc
	predeclared PredeclaredHook

	retry *util.Stack // Promote-to-critical retry stack.
}

// New returns a File with n allocatable registers (the target's GPR count minus the stack
// pointer, which spec §4.2 says is register 0 and is never allocated).
func New(n int, opt util.Options) *File {
	f := &File{opt: opt, retry: &util.Stack{}}
	for i := 1; i <= n; i++ {
		r := &Register{Id: i}
		f.regs = append(f.regs, r)
		f.order = append(f.order, r)
	}
	return f
}

// SetFlusher installs the callback used to write dirty registers back to memory.
func (f *File) SetFlusher(fn FlushFunc) {
	f.flusher = fn
}

// Registers returns every register in the file in id order, for diagnostics and for
// flushanddiscardallreg's full sweep.
func (f *File) Registers() []*Register {
	return f.regs
}

// ---------------------
// ----- ordering  -----
// ---------------------

func (f *File) indexInOrder(r *Register) int {
	for i, o := range f.order {
		if o == r {
			return i
		}
	}
	return -1
}

// setToBottom moves r to the most-recently-used end, done whenever r is touched.
func (f *File) setToBottom(r *Register) {
	i := f.indexInOrder(r)
	if i < 0 || i == len(f.order)-1 {
		return
	}
	f.order = append(f.order[:i], f.order[i+1:]...)
	f.order = append(f.order, r)
}

// setToTop moves r to the least-recently-used end, done when r is discarded so it becomes the
// next allocation candidate.
func (f *File) setToTop(r *Register) {
	i := f.indexInOrder(r)
	if i <= 0 {
		return
	}
	f.order = append(f.order[:i], f.order[i+1:]...)
	f.order = append([]*Register{r}, f.order...)
}

// ---------------------
// ----- classify  -----
// ---------------------

// IsCritical reports whether flushing r (if dirty) requires no further register allocation:
// free, clean, readonly-bound, stack-local-bound with no bitselect and not a dereference
// (excluding this/retvar), or bound to the return address / ancestor-frame pointer / global or
// string region (spec §4.2).
func (r *Register) IsCritical() bool {
	if r.Free() {
		return true
	}
	if !r.Dirty {
		return true
	}
	switch r.Tenant {
	case TenantReturnAddress, TenantFuncLevel, TenantGlobalRegionAddr, TenantStringRegionAddr:
		return true
	case TenantVariable:
		if r.V.Readonly() {
			return true
		}
		if r.V.Region == variable.RegionLocals && r.Bitselect == 0 && !r.V.IsDereference {
			return true
		}
		return false
	default:
		return false
	}
}
