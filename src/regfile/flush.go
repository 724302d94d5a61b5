package regfile

import "vslcore/src/variable"

// PredeclaredHook is invoked after a dirty, predeclared Variable register (spec §4.9) is
// flushed, so the call sequencer can emit the write-through callback invocation. Kept separate
// from FlushFunc because not every File user (e.g. a bare allocator test) needs it.
type PredeclaredHook func(r *Register) error

// SetPredeclaredHook installs the write-through callback hook.
func (f *File) SetPredeclaredHook(h PredeclaredHook) {
	f.predeclared = h
}

// FlushReg flushes r if dirty, per spec §4.2's flushreg. For a bit-selected register the actual
// merge-under-mask is the Flusher's job (it receives r, including its Bitselect field, and knows
// to read-modify-write); File's part is just sequencing: flush, clear dirty, leave the tenant
// bound so discard decisions stay with the caller.
func (f *File) FlushReg(r *Register) error {
	wasDirty := r.Dirty
	if err := f.flushRegister(r); err != nil {
		return err
	}
	if wasDirty && r.Tenant == TenantVariable && r.V != nil && r.V.IsPredeclared && r.V.Callback != 0 && f.predeclared != nil {
		if err := f.predeclared(r); err != nil {
			return err
		}
	}
	return nil
}

// DiscardMode selects one of flushanddiscardallreg's five behaviors (spec §4.2).
type DiscardMode int

const (
	// DiscardFlushAndDiscardAll flushes every dirty register and clears every tenant.
	DiscardFlushAndDiscardAll DiscardMode = iota
	// DiscardFlushOnly flushes dirty registers but leaves bindings intact, for a conditional
	// branch where both arms must observe the same register state afterwards.
	DiscardFlushOnly
	// DiscardLocalsOnly discards locals-region bindings without flushing them, used on block
	// exit where the locals are about to go out of scope and their values no longer matter.
	DiscardLocalsOnly
	// DiscardLocalsKeepReturnAddress is DiscardLocalsOnly but preserves a TenantReturnAddress
	// binding, used on function return.
	DiscardLocalsKeepReturnAddress
	// DiscardLocalsKeepFuncLevel is DiscardLocalsOnly but preserves TenantFuncLevel bindings,
	// used immediately before a frame-pointer restore.
	DiscardLocalsKeepFuncLevel
)

// FlushAndDiscardAll implements spec §4.2's flushanddiscardallreg and its five flag modes. After
// DiscardFlushAndDiscardAll, spec §8 invariant 4 holds: no register has a non-null tenant.
func (f *File) FlushAndDiscardAll(mode DiscardMode) error {
	for _, r := range f.regs {
		switch mode {
		case DiscardFlushAndDiscardAll:
			if err := f.FlushReg(r); err != nil {
				return err
			}
			r.clear()
			f.setToTop(r)
		case DiscardFlushOnly:
			if err := f.FlushReg(r); err != nil {
				return err
			}
		case DiscardLocalsOnly, DiscardLocalsKeepReturnAddress, DiscardLocalsKeepFuncLevel:
			if mode == DiscardLocalsKeepReturnAddress && r.Tenant == TenantReturnAddress {
				continue
			}
			if mode == DiscardLocalsKeepFuncLevel && r.Tenant == TenantFuncLevel {
				continue
			}
			if r.Tenant == TenantVariable && r.V != nil && r.V.Region == variable.RegionLocals {
				r.clear()
				f.setToTop(r)
			}
		}
	}
	return nil
}
