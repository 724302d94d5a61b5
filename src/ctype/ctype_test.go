package ctype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNativeResolverSizes(t *testing.T) {
	r := NewStaticResolver(Native(8))

	typ, ok := r.SearchType("int", 0)
	assert.True(t, ok)
	assert.Equal(t, 8, typ.Size)

	size, ok := r.SizeOfType("voidfnc", 0)
	assert.True(t, ok)
	assert.Equal(t, 8, size)

	_, ok = r.SearchType("nosuchtype", 0)
	assert.False(t, ok)
}

func TestTypeIsReadonly(t *testing.T) {
	native := Native(8)
	assert.True(t, native["void"].IsReadonly())
	assert.True(t, native["voidfnc"].IsReadonly())
	assert.False(t, native["int"].IsReadonly())
}

func TestStructMemberLookup(t *testing.T) {
	inner := &Type{Name: "int", Kind: KindInt, Size: 8}
	s := &Type{
		Name: "point",
		Kind: KindStruct,
		Size: 16,
		Members: []Member{
			{Name: "x", Offset: 0, Typ: inner},
			{Name: "y", Offset: 8, Typ: inner},
		},
	}

	m := s.Member("y")
	assert.NotNil(t, m)
	assert.Equal(t, 8, m.Offset)
	assert.Nil(t, s.Member("z"))
}
