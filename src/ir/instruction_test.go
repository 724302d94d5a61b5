package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLayout struct {
	locals map[int]int
	labels map[string]int
}

func (f *fakeLayout) LocalsSize(fn int) int                       { return f.locals[fn] }
func (f *fakeLayout) SharedRegionSize(fn int) int                 { return 0 }
func (f *fakeLayout) StackframePtrCacheSize(fn int) int           { return 0 }
func (f *fakeLayout) SharedRegionMemberOffset(fn int, m string) int { return 0 }
func (f *fakeLayout) FuncCodeOffset(fn int) int                   { return fn * 100 }
func (f *fakeLayout) GlobalRegionCodeOffset() int                 { return 1000 }
func (f *fakeLayout) StringRegionCodeOffset() int                 { return 2000 }
func (f *fakeLayout) LabelCodeOffset(name string) (int, bool) {
	v, ok := f.labels[name]
	return v, ok
}

func TestImmediateDescriptorResolve(t *testing.T) {
	layout := &fakeLayout{locals: map[int]int{1: 32}, labels: map[string]int{"L1": 7}}

	d := Lit(4).
		Add(ImmTerm{Kind: TermLocalsSize, Func: 1}).
		Add(ImmTerm{Kind: TermInstructionCodeOffset, Name: "L1"})

	v, err := d.Resolve(layout)
	require.NoError(t, err)
	assert.EqualValues(t, 4+32+7, v)
}

func TestImmediateDescriptorUnresolvedLabel(t *testing.T) {
	layout := &fakeLayout{labels: map[string]int{}}
	d := ImmediateDescriptor{Terms: []ImmTerm{{Kind: TermInstructionCodeOffset, Name: "missing"}}}
	_, err := d.Resolve(layout)
	assert.Error(t, err)
}

func TestCommentInstructionHasZeroSize(t *testing.T) {
	c := &Instruction{Op: OpComment, Reg: [3]int{-1, -1, -1}, Comment: "diagnostic"}
	other := &Instruction{Op: OpAdd, Reg: [3]int{1, 2, 3}}
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, 1, other.Size())
}

func TestFunctionEmitAndComment(t *testing.T) {
	fn := NewFunction(1, "f", nil)
	pos := fn.Emit(&Instruction{Op: OpAdd, Reg: [3]int{1, 2, 3}})
	assert.Equal(t, 0, pos)
	cpos := fn.EmitComment("note %d", 1)
	assert.Equal(t, 1, cpos)
	assert.Equal(t, 0, fn.Instructions[cpos].Size())
}

func TestCacheLevelOrderingAndLimit(t *testing.T) {
	fn := NewFunction(1, "f", nil)
	_, err := fn.CacheLevel(3, 8, 1024)
	require.NoError(t, err)
	_, err = fn.CacheLevel(1, 8, 1024)
	require.NoError(t, err)
	_, err = fn.CacheLevel(2, 8, 1024)
	require.NoError(t, err)

	var levels []int
	for _, c := range fn.CachedStackframes {
		levels = append(levels, c.Level)
	}
	assert.Equal(t, []int{1, 2, 3}, levels)
}

func TestCacheLevelResourceLimit(t *testing.T) {
	fn := NewFunction(1, "f", nil)
	_, err := fn.CacheLevel(1, 8, 8)
	require.NoError(t, err)
	_, err = fn.CacheLevel(2, 8, 8)
	assert.Error(t, err)
}

func TestLabelTableDefineAndRequireAllResolved(t *testing.T) {
	lt := NewLabelTable()
	lt.Use("L1", 3)
	require.Error(t, lt.RequireAllResolved())

	require.NoError(t, lt.Define("L1", 5))
	pos, ok := lt.Resolve("L1")
	assert.True(t, ok)
	assert.Equal(t, 5, pos)
	assert.NoError(t, lt.RequireAllResolved())
}

func TestLabelTableRedefinitionFails(t *testing.T) {
	lt := NewLabelTable()
	require.NoError(t, lt.Define("L1", 1))
	assert.Error(t, lt.Define("L1", 2))
}
