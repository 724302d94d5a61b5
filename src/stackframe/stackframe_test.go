package stackframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vslcore/src/ir"
	"vslcore/src/regfile"
	"vslcore/src/util"
)

func testSetup() (util.Options, *regfile.File, *ir.Function) {
	opt := util.Defaults()
	fn := ir.NewFunction(1, "f", nil)
	regs := regfile.New(8, opt)
	return opt, regs, fn
}

func TestGetRegPtrToFuncStackframeLevelOneWalksParentField(t *testing.T) {
	opt, regs, fn := testSetup()
	parent := ir.NewFunction(2, "parent", nil)
	fn.Parent = parent

	e := New(opt, regs, fn)
	ref, err := e.GetRegPtrToFuncStackframe(1)
	require.NoError(t, err)
	require.False(t, ref.StackPointer)
	require.NotNil(t, ref.Reg)
	assert.Equal(t, regfile.TenantFuncLevel, ref.Reg.Tenant)
	assert.Equal(t, 1, ref.Reg.FuncLevel)
	assert.NotEmpty(t, fn.Instructions)
}

func TestGetRegPtrToFuncStackframeReusesExistingBinding(t *testing.T) {
	opt, regs, fn := testSetup()
	parent := ir.NewFunction(2, "parent", nil)
	fn.Parent = parent

	e := New(opt, regs, fn)
	first, err := e.GetRegPtrToFuncStackframe(1)
	require.NoError(t, err)
	before := len(fn.Instructions)

	second, err := e.GetRegPtrToFuncStackframe(1)
	require.NoError(t, err)
	assert.Equal(t, first.Reg, second.Reg)
	assert.Equal(t, before, len(fn.Instructions), "no new instructions emitted on a cache hit")
}

func TestGetRegPtrToFuncStackframeStackframeHolderTranslatesLevel(t *testing.T) {
	opt, regs, fn := testSetup()
	holder := ir.NewFunction(2, "holder", nil)
	holder.IsStackframeHolder = true
	fn.Parent = holder
	fn.StackframeHolder = holder

	e := New(opt, regs, fn)
	ref, err := e.GetRegPtrToFuncStackframe(1)
	require.NoError(t, err)
	assert.True(t, ref.StackPointer, "level <= holder level should resolve to the stack pointer directly")
}

func TestGetRegPtrToFuncStackframeIdScanOnAddressTakenAncestor(t *testing.T) {
	opt, regs, fn := testSetup()
	grandparent := ir.NewFunction(3, "gp", nil)
	parent := ir.NewFunction(2, "p", grandparent)
	parent.AddressTaken = true
	fn.Parent = parent

	e := New(opt, regs, fn)
	_, err := e.GetRegPtrToFuncStackframe(2)
	require.NoError(t, err)

	var sawAfip, sawLoop bool
	for _, in := range fn.Instructions {
		if in.Op == ir.OpAfip {
			sawAfip = true
		}
		if in.Op == ir.OpLabel {
			sawLoop = true
		}
	}
	assert.True(t, sawAfip, "id-scan should afip the target function's code address")
	assert.True(t, sawLoop, "id-scan should plant a loop label")
}

func TestCacheStackframePointersMarksRegistersDirtyAndSetsFlag(t *testing.T) {
	opt, regs, fn := testSetup()
	grandparent := ir.NewFunction(3, "gp", nil)
	parent := ir.NewFunction(2, "p", grandparent)
	fn.Parent = parent
	_, err := fn.CacheLevel(2, opt.SizeOfGPR, opt.MaxStackframePtrCache)
	require.NoError(t, err)

	e := New(opt, regs, fn)
	require.NoError(t, e.CacheStackframePointers())
	assert.True(t, fn.StackframePointerCachingDone)

	r := regs.Find(regfile.TenantFuncLevel, 2)
	require.NotNil(t, r)
	assert.True(t, r.Dirty)
}

func TestGetRegPtrToFuncStackframeUsesCacheAfterCachingDone(t *testing.T) {
	opt, regs, fn := testSetup()
	grandparent := ir.NewFunction(3, "gp", nil)
	parent := ir.NewFunction(2, "p", grandparent)
	fn.Parent = parent
	_, err := fn.CacheLevel(2, opt.SizeOfGPR, opt.MaxStackframePtrCache)
	require.NoError(t, err)

	e := New(opt, regs, fn)
	require.NoError(t, e.CacheStackframePointers())

	// Discard the cached binding so the next lookup must hit the cache-load path rather than
	// the already-bound-register short-circuit.
	require.NoError(t, regs.FlushAndDiscardAll(regfile.DiscardFlushAndDiscardAll))

	ref, err := e.GetRegPtrToFuncStackframe(2)
	require.NoError(t, err)
	require.False(t, ref.StackPointer)
	assert.Equal(t, regfile.TenantFuncLevel, ref.Reg.Tenant)
}

func TestSingletonPointersAreMemoizedPerFunction(t *testing.T) {
	opt, regs, fn := testSetup()
	e := New(opt, regs, fn)

	g1, err := e.GetRegPtrToGlobalRegion()
	require.NoError(t, err)
	g2, err := e.GetRegPtrToGlobalRegion()
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	s1, err := e.GetRegPtrToStringRegion()
	require.NoError(t, err)
	assert.NotSame(t, g1, s1)

	th, err := e.GetRegPtrToThis()
	require.NoError(t, err)
	rv, err := e.GetRegPtrToRetvar()
	require.NoError(t, err)
	assert.NotSame(t, th, rv)
}

func TestGetRegPtrToFuncStackframeInternalErrorMissingFromCache(t *testing.T) {
	opt, regs, fn := testSetup()
	fn.StackframePointerCachingDone = true
	e := New(opt, regs, fn)

	_, err := e.GetRegPtrToFuncStackframe(5)
	assert.Error(t, err)
	assert.True(t, util.IsKind(err, util.ErrInternal))
}
