package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vslcore/src/util"
)

func testStore() *Store {
	opt := util.Defaults()
	return NewStore(opt)
}

func TestDeclareLocalAdvancesOffsets(t *testing.T) {
	s := testStore()
	a, err := s.DeclareLocal(1, "a", "int", 8)
	require.NoError(t, err)
	b, err := s.DeclareLocal(1, "b", "int", 8)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Offset)
	assert.Equal(t, 8, b.Offset)
}

func TestDeclareLocalResourceExceeded(t *testing.T) {
	s := testStore()
	s.opt.MaxStackUsage = 8
	_, err := s.DeclareLocal(1, "a", "int", 8)
	require.NoError(t, err)
	_, err = s.DeclareLocal(1, "b", "int", 8)
	require.Error(t, err)
	assert.True(t, util.IsKind(err, util.ErrResource))
}

func TestNumberConstantDedup(t *testing.T) {
	s := testStore()
	a := s.NewNumberConstant(42, "int", 8)
	b := s.NewNumberConstant(42, "int", 8)
	c := s.NewNumberConstant(42, "float", 8)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.True(t, a.Readonly())
}

func TestStringConstantDedup(t *testing.T) {
	s := testStore()
	a := s.NewStringConstant("hello", 0)
	b := s.NewStringConstant("hello", 0)
	assert.Same(t, a, b)
	assert.True(t, a.Readonly())
}

func TestAddressOfMarksVolatileAndIsReadonly(t *testing.T) {
	s := testStore()
	v, err := s.DeclareLocal(1, "x", "int", 8)
	require.NoError(t, err)

	addr := s.AddressOf(v)
	assert.True(t, v.AlwaysVolatile)
	assert.True(t, addr.Readonly())
	assert.Equal(t, "&(x)", addr.Name)
}

func TestDereferenceMarksAlwaysVolatile(t *testing.T) {
	s := testStore()
	v, err := s.DeclareLocal(1, "p", "int", 8)
	require.NoError(t, err)

	deref := s.Dereference(v, "int", 8)
	assert.True(t, deref.AlwaysVolatile)
	assert.False(t, deref.Readonly())
}

func TestProcessVarOffsetIfAny(t *testing.T) {
	base, off, ok := ProcessVarOffsetIfAny("foo.16")
	assert.True(t, ok)
	assert.Equal(t, "foo", base)
	assert.Equal(t, 16, off)

	_, _, ok = ProcessVarOffsetIfAny("foo")
	assert.False(t, ok)

	_, _, ok = ProcessVarOffsetIfAny("foo.bar")
	assert.False(t, ok)
}

func TestGetVarDuplicateInvokesCopyCallback(t *testing.T) {
	s := testStore()
	src, err := s.DeclareLocal(1, "x", "int", 8)
	require.NoError(t, err)

	var gotDst, gotSrc *Variable
	dup, err := s.GetVarDuplicate(src, func(dst, src *Variable) error {
		gotDst, gotSrc = dst, src
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, dup, gotDst)
	assert.Same(t, src, gotSrc)
}

func TestFreeTempVarRelatedRecursesThroughDescendants(t *testing.T) {
	s := testStore()
	src, err := s.DeclareLocal(1, "x", "int", 8)
	require.NoError(t, err)
	dup, err := s.GetVarDuplicate(src, nil)
	require.NoError(t, err)
	child := s.AddressOf(dup)

	before := s.localsUsed[1]
	s.FreeTempVarRelated(dup)
	assert.Less(t, s.localsUsed[1], before)
	assert.Empty(t, s.tempDependents[dup])
	assert.Empty(t, s.tempDependents[child])
}
