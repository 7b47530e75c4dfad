package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InsertAndGet(t *testing.T) {
	c := New(2)
	k := Sum("x = 1")
	c.Insert(k, "x = 1")

	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "x = 1", v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ZeroCapacityTreatedAsOne(t *testing.T) {
	c := New(0)
	assert.Equal(t, 1, c.Capacity())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	k1, k2, k3 := Sum("a"), Sum("b"), Sum("c")

	c.Insert(k1, "a")
	c.Insert(k2, "b")
	// touch k1 so it becomes MRU, leaving k2 as LRU
	_, _ = c.Get(k1)
	c.Insert(k3, "c")

	_, ok1 := c.Get(k1)
	_, ok2 := c.Get(k2)
	_, ok3 := c.Get(k3)

	assert.True(t, ok1)
	assert.False(t, ok2, "k2 should have been evicted as least-recently-used")
	assert.True(t, ok3)
	assert.Equal(t, 2, c.Len())
}

func TestCache_InsertReplacesExisting(t *testing.T) {
	c := New(5)
	k := Sum("x")
	c.Insert(k, "x")
	c.Insert(k, "x (replaced)")
	assert.Equal(t, 1, c.Len())
	v, _ := c.Get(k)
	assert.Equal(t, "x (replaced)", v)
}

func TestCache_ClearAndLen(t *testing.T) {
	c := New(5)
	c.Insert(Sum("a"), "a")
	c.Insert(Sum("b"), "b")
	assert.Equal(t, 2, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSum_Deterministic(t *testing.T) {
	assert.Equal(t, Sum("same"), Sum("same"))
	assert.NotEqual(t, Sum("a"), Sum("b"))
}
