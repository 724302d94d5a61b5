package regfile

import "vslcore/src/util"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// AllocFlag tells Alloc how strict the caller is about avoiding recursive allocation.
type AllocFlag int

const (
	// AllocAny accepts either a critical or non-critical register; a non-critical, dirty,
	// variable-bound register may be flushed (possibly triggering further allocation) to make
	// room.
	AllocAny AllocFlag = iota
	// AllocCriticalOnly demands a register whose reuse needs no further allocation — used while
	// already inside a flush, to prevent runaway recursion (spec §4.2: "this prevents recursive
	// allocation during a flush").
	AllocCriticalOnly
)

// minCriticalRegisters is the invariant spec §4.2 states holds at every allocator entry point:
// "at least two unlocked critical registers exist".
const minCriticalRegisters = 2

// ---------------------
// ----- functions -----
// ---------------------

// InsureThereIsEnoughCriticalReg promotes non-critical registers to critical (by flushing them)
// until at least minCriticalRegisters unlocked critical registers exist, corresponding to
// insurethereisenoughcriticalreg in the original source.
func (f *File) InsureThereIsEnoughCriticalReg() error {
	f.retry.Reset()
	for {
		n := f.countUnlockedCritical()
		if n >= minCriticalRegisters {
			return nil
		}
		promoted := false
		for _, r := range f.order {
			if r.Locked || r.Reserved || r.IsCritical() {
				continue
			}
			if err := f.flushRegister(r); err != nil {
				return err
			}
			f.retry.Push(r)
			promoted = true
			break
		}
		if !promoted || f.retry.Size() > len(f.order) {
			return util.NewError(util.ErrResource, 0, 0,
				"register exhaustion: cannot free enough critical registers")
		}
		util.Log.Debugf("regfile: promoted register %v to critical (retry depth %d), %d unlocked critical remain",
			f.retry.Peek(), f.retry.Size(), f.countUnlockedCritical())
	}
}

func (f *File) countUnlockedCritical() int {
	n := 0
	for _, r := range f.order {
		if !r.Locked && !r.Reserved && r.IsCritical() {
			n++
		}
	}
	return n
}

// Alloc scans the ring from the LRU end and returns a register ready for a new binding,
// following the allocation algorithm of spec §4.2. It fails with a resource error
// (register-exhaustion) if every slot is locked or reserved.
func (f *File) Alloc(flag AllocFlag) (*Register, error) {
	// AllocCriticalOnly is requested from inside a flush already in progress
	// (src/memory, src/stackframe scratch allocations); running the promotion
	// loop here would let it flush the very register whose flush is underway,
	// recursing back into Alloc. The original's allocreg skips this step for
	// exactly that reason ("I should not be calling
	// insurethereisenoughcriticalreg() when flag == CRITICALREG").
	if flag == AllocAny {
		if err := f.InsureThereIsEnoughCriticalReg(); err != nil {
			return nil, err
		}
	}

	for _, r := range f.order {
		if r.Locked || r.Reserved {
			continue
		}

		if r.Free() {
			f.setToBottom(r)
			return r, nil
		}

		if r.IsSingleton() {
			if err := f.flushRegister(r); err != nil {
				return nil, err
			}
			r.clear()
			f.setToBottom(r)
			return r, nil
		}

		// TenantVariable.
		if !r.IsCritical() && flag == AllocCriticalOnly {
			// Skip: reusing this slot now would itself trigger allocation.
			continue
		}
		if err := f.flushRegister(r); err != nil {
			return nil, err
		}
		r.clear()
		f.setToBottom(r)
		return r, nil
	}

	util.Log.Warnf("regfile: register exhaustion, %d registers all locked or reserved", len(f.order))
	return nil, util.NewError(util.ErrResource, 0, 0, "register exhaustion: no unlocked register available")
}

// Lock marks r locked, preventing the allocator from reusing or flushing it until Unlock.
func (f *File) Lock(r *Register) {
	r.Locked = true
}

// Unlock clears a register's lock.
func (f *File) Unlock(r *Register) {
	r.Locked = false
}

// Reserve marks r reserved for an inline-assembly physical-register operand (spec §4.7). A
// reserved register is skipped by the allocator exactly like a locked one.
func (f *File) Reserve(r *Register) {
	r.Reserved = true
}

// Release clears a register's reservation.
func (f *File) Release(r *Register) {
	r.Reserved = false
}

// Touch moves r to the most-recently-used end without changing its binding; call this whenever
// an already-allocated register is read or written again.
func (f *File) Touch(r *Register) {
	f.setToBottom(r)
}

func (f *File) flushRegister(r *Register) error {
	if !r.Dirty {
		return nil
	}
	if f.flusher == nil {
		r.Dirty = false
		return nil
	}
	if err := f.flusher(r); err != nil {
		return err
	}
	r.Dirty = false
	return nil
}
