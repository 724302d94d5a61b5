package regfile

import "vslcore/src/variable"

// BindVariable allocates a register (per flag) and binds it to hold v at [offset, offset+size)
// under bitselect, the common path memory.getregforvar drives after deciding a fresh load is
// needed.
func (f *File) BindVariable(flag AllocFlag, v *variable.Variable, offset, size int, bitselect uint64) (*Register, error) {
	r, err := f.Alloc(flag)
	if err != nil {
		return nil, err
	}
	r.Tenant = TenantVariable
	r.V = v
	r.Offset = offset
	r.Size = size
	r.Bitselect = bitselect
	return r, nil
}

// BindSingleton allocates a register and binds it to one of the per-function singleton roles
// (return address, global/string region, this, retvar). funcLevel is only meaningful for
// TenantFuncLevel.
func (f *File) BindSingleton(flag AllocFlag, tenant Tenant, funcLevel int) (*Register, error) {
	r, err := f.Alloc(flag)
	if err != nil {
		return nil, err
	}
	r.Tenant = tenant
	r.FuncLevel = funcLevel
	return r, nil
}

// Find returns an already-bound register matching tenant/funcLevel, if one exists — used by the
// stackframe engine to check for an existing ancestor-frame-pointer binding before allocating a
// new one (spec §4.3 step 3: "Search the register ring for an existing binding with the same
// funclevel").
func (f *File) Find(tenant Tenant, funcLevel int) *Register {
	for _, r := range f.regs {
		if r.Tenant != tenant {
			continue
		}
		if tenant == TenantFuncLevel && r.FuncLevel != funcLevel {
			continue
		}
		return r
	}
	return nil
}

// FindVariable returns an already-bound register holding exactly (v, offset, size, bitselect),
// if one exists.
func (f *File) FindVariable(v *variable.Variable, offset, size int, bitselect uint64) *Register {
	for _, r := range f.regs {
		if r.Tenant == TenantVariable && r.V == v && r.Offset == offset && r.Size == size && r.Bitselect == bitselect {
			return r
		}
	}
	return nil
}

// NearestFuncLevel returns the bound TenantFuncLevel register with the largest FuncLevel that is
// still ≤ level, used to start a walk partway up the ancestor chain (spec §4.3 step 3: "find the
// nearest smaller funclevel to start from"). ok is false if no such register exists.
func (f *File) NearestFuncLevel(level int) (r *Register, ok bool) {
	best := -1
	for _, cand := range f.regs {
		if cand.Tenant != TenantFuncLevel || cand.FuncLevel > level {
			continue
		}
		if cand.FuncLevel > best {
			best = cand.FuncLevel
			r = cand
			ok = true
		}
	}
	return r, ok
}

// MarkDirty marks r dirty (it now holds a value not yet written back to memory). Registers bound
// to a readonly Variable must never be marked dirty (spec §3 invariant 2).
func (f *File) MarkDirty(r *Register) {
	if r.Tenant == TenantVariable && r.V != nil && r.V.Readonly() {
		return
	}
	r.Dirty = true
}
