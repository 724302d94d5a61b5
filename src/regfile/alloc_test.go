package regfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vslcore/src/util"
	"vslcore/src/variable"
)

func testOptions() util.Options {
	return util.Defaults()
}

// globalVar returns a non-readonly, globals-region Variable: IsCritical's switch has no case for
// RegionGlobals, so a dirty binding to one of these is always non-critical, the same way a
// dirty dereference or ancestor-frame binding is (spec §4.2).
func globalVar(name string) *variable.Variable {
	return &variable.Variable{Name: name, Region: variable.RegionGlobals, Size: 8, TypeName: "int"}
}

func TestAllocReturnsFreeRegistersInLRUOrder(t *testing.T) {
	f := New(3, testOptions())

	r1, err := f.Alloc(AllocAny)
	require.NoError(t, err)
	r2, err := f.Alloc(AllocAny)
	require.NoError(t, err)
	r3, err := f.Alloc(AllocAny)
	require.NoError(t, err)

	assert.Equal(t, 1, r1.Id)
	assert.Equal(t, 2, r2.Id)
	assert.Equal(t, 3, r3.Id)
}

func TestAllocSkipsLockedAndReservedSlots(t *testing.T) {
	f := New(2, testOptions())
	f.regs[0].Locked = true
	f.regs[1].Reserved = true

	_, err := f.Alloc(AllocAny)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.ErrResource))
}

func TestAllocCriticalOnlySkipsPromotionLoop(t *testing.T) {
	// Ring of 2: r1 holds a dirty, non-critical (globals-region) binding; r2 is free. Only r2
	// is an unlocked critical register, so countUnlockedCritical() == 1 < minCriticalRegisters.
	// A caller asking for AllocCriticalOnly must still succeed by picking the free r2 directly,
	// without running InsureThereIsEnoughCriticalReg first — that promotion step would flush
	// r1, which is exactly the re-entrant flush the spec's "prevents recursive allocation during
	// a flush" guard exists to avoid (review: src/regfile/alloc.go:73).
	f := New(2, testOptions())
	v := globalVar("g")
	r1 := f.regs[0]
	r1.Tenant = TenantVariable
	r1.V = v
	r1.Dirty = true

	flushCalls := 0
	f.SetFlusher(func(r *Register) error {
		flushCalls++
		return nil
	})

	r, err := f.Alloc(AllocCriticalOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Id)
	assert.Equal(t, 0, flushCalls, "AllocCriticalOnly must not promote r1 to free up r2")
	assert.True(t, r1.Dirty, "r1's flush-in-progress binding must be untouched by a critical-only request")
}

func TestAllocAnyPromotesNonCriticalRegisterToSatisfyMinimum(t *testing.T) {
	// Same starting ring as above, but AllocAny is explicitly allowed to run the promotion step.
	// Promotion flushes r1 (clearing Dirty, but not its binding) to make it critical; the main
	// scan then reaches r1 first, finds it critical and reusable, and reuses it directly — one
	// flusher call total, and the returned register is the promoted r1 itself.
	f := New(2, testOptions())
	v := globalVar("g")
	r1 := f.regs[0]
	r1.Tenant = TenantVariable
	r1.V = v
	r1.Dirty = true

	flushCalls := 0
	f.SetFlusher(func(r *Register) error {
		flushCalls++
		assert.Same(t, r1, r)
		return nil
	})

	r, err := f.Alloc(AllocAny)
	require.NoError(t, err)
	assert.Same(t, r1, r)
	assert.Equal(t, 1, flushCalls)
	assert.True(t, r.Free(), "reused after promotion, the register's prior binding is cleared")
}

func TestAllocNestedCriticalOnlyAllocationDuringFlushTerminates(t *testing.T) {
	// Mirrors the scratch-register pattern src/memory's chunked-load and src/stackframe's
	// walk/emitIdScan use: a Flusher that itself needs a register mid-flush asks for
	// AllocCriticalOnly. Ring of 3: r1 and r2 are both dirty, non-critical (globals) bindings;
	// r3 is free. Promoting r1 to satisfy the minimum invokes the flusher while r1 is still
	// marked Dirty (flushRegister only clears Dirty after the flusher returns); the flusher's
	// own AllocCriticalOnly call must resolve to the free r3 without re-entering
	// InsureThereIsEnoughCriticalReg (which would try to flush r1 or r2 again, recursing).
	f := New(3, testOptions())
	v1, v2 := globalVar("g1"), globalVar("g2")
	r1, r2 := f.regs[0], f.regs[1]
	r1.Tenant, r1.V, r1.Dirty = TenantVariable, v1, true
	r2.Tenant, r2.V, r2.Dirty = TenantVariable, v2, true

	var nestedCalls int
	var scratch *Register
	f.SetFlusher(func(r *Register) error {
		nestedCalls++
		require.Less(t, nestedCalls, 3, "flusher must not be re-entered past the single promotion")
		got, err := f.Alloc(AllocCriticalOnly)
		require.NoError(t, err)
		scratch = got
		return nil
	})

	_, err := f.Alloc(AllocAny)
	require.NoError(t, err)

	assert.Equal(t, 1, nestedCalls)
	assert.Equal(t, 3, scratch.Id, "the nested critical-only alloc must land on the free register, not re-flush r1/r2")
	assert.NotSame(t, r1, scratch)
	assert.NotSame(t, r2, scratch)
}

func TestInsureThereIsEnoughCriticalRegResourceExhaustionWhenNothingCanBePromoted(t *testing.T) {
	f := New(2, testOptions())
	f.regs[0].Locked = true
	f.regs[1].Reserved = true

	err := f.InsureThereIsEnoughCriticalReg()
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.ErrResource))
}

func TestInsureThereIsEnoughCriticalRegNoopWhenAlreadySatisfied(t *testing.T) {
	f := New(2, testOptions())
	require.NoError(t, f.InsureThereIsEnoughCriticalReg())
}

func TestFlushAndDiscardAllClearsEveryTenant(t *testing.T) {
	f := New(3, testOptions())
	v := globalVar("g")
	r1 := f.regs[0]
	r1.Tenant, r1.V, r1.Dirty = TenantVariable, v, true
	r2 := f.regs[1]
	r2.Tenant = TenantReturnAddress

	flushed := 0
	f.SetFlusher(func(r *Register) error {
		flushed++
		return nil
	})

	require.NoError(t, f.FlushAndDiscardAll(DiscardFlushAndDiscardAll))
	assert.Equal(t, 1, flushed)
	for _, r := range f.regs {
		assert.True(t, r.Free(), "invariant 4: no register may have a non-null tenant after a full flush-and-discard")
	}
}

func TestFlushAndDiscardAllFlushOnlyKeepsBindings(t *testing.T) {
	f := New(2, testOptions())
	v := globalVar("g")
	r1 := f.regs[0]
	r1.Tenant, r1.V, r1.Dirty = TenantVariable, v, true

	flushed := 0
	f.SetFlusher(func(r *Register) error {
		flushed++
		return nil
	})

	require.NoError(t, f.FlushAndDiscardAll(DiscardFlushOnly))
	assert.Equal(t, 1, flushed)
	assert.False(t, r1.Dirty)
	assert.Equal(t, TenantVariable, r1.Tenant, "flush-only must not discard the binding")
}

func TestFlushAndDiscardAllLocalsOnlyDoesNotFlush(t *testing.T) {
	f := New(2, testOptions())
	local := &variable.Variable{Name: "l", Region: variable.RegionLocals, Size: 8, TypeName: "int"}
	r1 := f.regs[0]
	r1.Tenant, r1.V, r1.Dirty = TenantVariable, local, true

	flushed := 0
	f.SetFlusher(func(r *Register) error {
		flushed++
		return nil
	})

	require.NoError(t, f.FlushAndDiscardAll(DiscardLocalsOnly))
	assert.Equal(t, 0, flushed, "locals are discarded without flushing, their values are out of scope")
	assert.True(t, r1.Free())
}

func TestFlushAndDiscardAllKeepsReturnAddressAndFuncLevel(t *testing.T) {
	f := New(3, testOptions())
	ret := f.regs[0]
	ret.Tenant = TenantReturnAddress
	lvl := f.regs[1]
	lvl.Tenant = TenantFuncLevel
	lvl.FuncLevel = 1
	local := &variable.Variable{Name: "l", Region: variable.RegionLocals, Size: 8, TypeName: "int"}
	loc := f.regs[2]
	loc.Tenant, loc.V = TenantVariable, local

	require.NoError(t, f.FlushAndDiscardAll(DiscardLocalsKeepReturnAddress))
	assert.Equal(t, TenantReturnAddress, ret.Tenant)
	assert.True(t, loc.Free())

	lvl2 := New(2, testOptions())
	a := lvl2.regs[0]
	a.Tenant = TenantFuncLevel
	a.FuncLevel = 2
	b := lvl2.regs[1]
	b.Tenant, b.V = TenantVariable, local
	require.NoError(t, lvl2.FlushAndDiscardAll(DiscardLocalsKeepFuncLevel))
	assert.Equal(t, TenantFuncLevel, a.Tenant)
	assert.True(t, b.Free())
}

func TestDiscardOverlappingFlushesAndDiscardsIntersectingRange(t *testing.T) {
	f := New(2, testOptions())
	v := &variable.Variable{Name: "s", Region: variable.RegionLocals, Size: 8, TypeName: "int"}
	r1 := f.regs[0]
	r1.Tenant, r1.V, r1.Offset, r1.Size, r1.Dirty = TenantVariable, v, 0, 4, true

	flushed := 0
	f.SetFlusher(func(r *Register) error {
		flushed++
		return nil
	})

	require.NoError(t, f.DiscardOverlapping(v, 2, 4, 0, OverlapDiscardAfterFlush))
	assert.Equal(t, 1, flushed)
	assert.True(t, r1.Free())
}

func TestDiscardOverlappingFlushWithoutDiscardKeepsBinding(t *testing.T) {
	f := New(2, testOptions())
	v := &variable.Variable{Name: "s", Region: variable.RegionLocals, Size: 8, TypeName: "int"}
	r1 := f.regs[0]
	r1.Tenant, r1.V, r1.Offset, r1.Size, r1.Dirty = TenantVariable, v, 0, 4, true

	f.SetFlusher(func(r *Register) error { return nil })

	require.NoError(t, f.DiscardOverlapping(v, 0, 4, 0, OverlapFlushWithoutDiscard))
	assert.False(t, r1.Dirty)
	assert.Equal(t, TenantVariable, r1.Tenant)
}

func TestDiscardOverlappingExceptExactMatchPreservesTheMatch(t *testing.T) {
	f := New(2, testOptions())
	v := &variable.Variable{Name: "s", Region: variable.RegionLocals, Size: 8, TypeName: "int"}
	exact := f.regs[0]
	exact.Tenant, exact.V, exact.Offset, exact.Size = TenantVariable, v, 0, 4
	other := f.regs[1]
	other.Tenant, other.V, other.Offset, other.Size, other.Dirty = TenantVariable, v, 2, 4, true

	f.SetFlusher(func(r *Register) error { return nil })

	require.NoError(t, f.DiscardOverlapping(v, 0, 4, 0, OverlapDiscardExceptExactMatch))
	assert.Equal(t, TenantVariable, exact.Tenant, "the exact-matching binding must survive")
	assert.True(t, other.Free())
}

func TestBindVariableAndFindVariableRoundTrip(t *testing.T) {
	f := New(2, testOptions())
	v := &variable.Variable{Name: "l", Region: variable.RegionLocals, Size: 8, TypeName: "int"}

	r, err := f.BindVariable(AllocAny, v, 0, 8, 0)
	require.NoError(t, err)
	assert.Same(t, r, f.FindVariable(v, 0, 8, 0))
	assert.Nil(t, f.FindVariable(v, 0, 4, 0), "a different size must not match")
}

func TestMarkDirtyRefusesReadonlyBinding(t *testing.T) {
	f := New(2, testOptions())
	v := &variable.Variable{Name: "c", IsNumber: true, NumValue: 1}
	r, err := f.BindVariable(AllocAny, v, 0, 8, 0)
	require.NoError(t, err)

	f.MarkDirty(r)
	assert.False(t, r.Dirty, "spec §3 invariant 2: a readonly-variable binding is never dirty")
}
