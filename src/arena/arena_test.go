package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	name string
}

func TestArenaAllocAndGet(t *testing.T) {
	a := New[widget](0)
	id1 := a.Alloc(widget{name: "one"})
	id2 := a.Alloc(widget{name: "two"})

	require.NotEqual(t, id1, id2)
	assert.Equal(t, "one", a.Get(id1).name)
	assert.Equal(t, "two", a.Get(id2).name)
	assert.Equal(t, 2, a.Len())
}

func TestArenaGetInvalidIdPanics(t *testing.T) {
	a := New[widget](0)
	assert.Panics(t, func() { a.Get(0) })
	assert.Panics(t, func() { a.Get(99) })
}

func TestArenaAllIteratesInOrder(t *testing.T) {
	a := New[widget](0)
	a.Alloc(widget{name: "a"})
	a.Alloc(widget{name: "b"})
	a.Alloc(widget{name: "c"})

	var seen []string
	a.All(func(id Id, w *widget) bool {
		seen = append(seen, w.name)
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestArenaAllStopsEarly(t *testing.T) {
	a := New[widget](0)
	a.Alloc(widget{name: "a"})
	a.Alloc(widget{name: "b"})

	var count int
	a.All(func(id Id, w *widget) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestStringInternerDedup(t *testing.T) {
	si := NewStringInterner()
	i1 := si.Intern("hello")
	i2 := si.Intern("world")
	i3 := si.Intern("hello")

	assert.Equal(t, i1, i3)
	assert.NotEqual(t, i1, i2)
	assert.Equal(t, "hello", si.String(i1))
	assert.Equal(t, "world", si.String(i2))
	assert.Equal(t, 2, si.Len())
}
