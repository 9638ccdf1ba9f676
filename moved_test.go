package ctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMovedProxies(t *testing.T) {
	m := NewMovedProxies()
	a := NewProxyKey(3, Dynamic)
	b := NewProxyKey(3, Static)
	c := NewProxyKey(0, Standalone)

	assert.True(t, m.Insert(a))
	assert.True(t, m.Insert(b))
	assert.False(t, m.Insert(a))
	assert.True(t, m.Insert(c))
	assert.Equal(t, []ProxyKey{a, b, c}, m.Keys())
	assert.True(t, m.Contains(b))

	assert.True(t, m.Remove(a))
	assert.False(t, m.Remove(a))
	assert.Equal(t, []ProxyKey{c, b}, m.Keys())
	assert.False(t, m.Contains(a))
	assert.Equal(t, 2, m.Len())

	m.Clear()
	assert.True(t, m.IsEmpty())
	assert.False(t, m.Contains(b))
	assert.True(t, m.Insert(b))
}

func TestEnlargedProxies(t *testing.T) {
	e := NewEnlargedProxies()
	e.Reset(Dynamic, 16)
	e.Mark(NewProxyKey(9, Dynamic))
	e.Mark(NewProxyKey(2, Dynamic))
	e.Mark(NewProxyKey(2, Kinematic))
	e.Mark(NewProxyKey(100, Dynamic))

	assert.True(t, e.IsMarked(NewProxyKey(2, Dynamic)))
	assert.False(t, e.IsMarked(NewProxyKey(9, Kinematic)))
	assert.Equal(t, 3, e.Count(Dynamic))
	assert.Equal(t, 1, e.Count(Kinematic))

	var ids []ProxyId
	e.Each(Dynamic, func(id ProxyId) { ids = append(ids, id) })
	assert.Equal(t, []ProxyId{2, 9, 100}, ids)

	e.Reset(Dynamic, 4)
	assert.Equal(t, 0, e.Count(Dynamic))
	assert.Equal(t, 1, e.Count(Kinematic))
}
