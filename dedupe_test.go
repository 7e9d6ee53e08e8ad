package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateCacheSuppressesWithinCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDuplicateCache(30 * time.Second)
	c.now = func() time.Time { return now }

	assert.False(t, c.CheckAndInsert("sig-a"))
	assert.True(t, c.CheckAndInsert("sig-a"))
	assert.True(t, c.Contains("sig-a"))
	assert.False(t, c.CheckAndInsert("sig-b"))
	assert.Equal(t, 2, c.Len())

	// Just inside the cooldown.
	now = now.Add(29 * time.Second)
	assert.True(t, c.CheckAndInsert("sig-a"))

	// Past the cooldown the signature is fresh again.
	now = now.Add(2 * time.Second)
	assert.False(t, c.CheckAndInsert("sig-a"))
	assert.False(t, c.Contains("sig-b"))
}

func TestDuplicateCachePurgeKeepsInsertionOrder(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewDuplicateCache(10 * time.Second)
	c.now = func() time.Time { return now }

	c.CheckAndInsert("old")
	now = now.Add(6 * time.Second)
	c.CheckAndInsert("newer")
	now = now.Add(6 * time.Second)

	// "old" is 12s stale, "newer" only 6s.
	assert.False(t, c.Contains("old"))
	assert.True(t, c.Contains("newer"))
	assert.Equal(t, 1, c.Len())
}

func TestDuplicateCacheDefaultCooldown(t *testing.T) {
	c := NewDuplicateCache(0)
	assert.Equal(t, DefaultDuplicateCooldown, c.cooldown)
	c = NewDuplicateCache(-time.Second)
	assert.Equal(t, DefaultDuplicateCooldown, c.cooldown)
}
