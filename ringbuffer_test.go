package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingBufferBeforeWrap(t *testing.T) {
	r := NewRingBuffer(10)
	r.Write(ramp(0, 4))

	snap := r.Snapshot()
	assert.Equal(t, ramp(0, 4), snap)
	assert.Equal(t, uint64(4), r.SamplesWritten())
	assert.InDelta(t, 0.4, r.Utilization(), 1e-9)
}

func TestRingBufferAfterWrap(t *testing.T) {
	r := NewRingBuffer(10)
	r.Write(ramp(0, 7))
	r.Write(ramp(7, 7))

	snap := r.Snapshot()
	assert.Len(t, snap, 10)
	// Oldest surviving sample first.
	assert.Equal(t, ramp(4, 10), snap)
	assert.Equal(t, uint64(14), r.SamplesWritten())
	assert.Equal(t, 1.0, r.Utilization())
}

func TestRingBufferWriteLargerThanBuffer(t *testing.T) {
	r := NewRingBuffer(5)
	r.Write(ramp(0, 12))

	snap := r.Snapshot()
	assert.Len(t, snap, 5)
	assert.Equal(t, ramp(7, 5), snap)
}

func TestRingBufferSnapshotIsACopy(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write(ramp(0, 4))
	snap := r.Snapshot()
	snap[0] = 999
	assert.Equal(t, ramp(0, 4), r.Snapshot())
}
