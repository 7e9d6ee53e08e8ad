package main

import "sync"

// RingBuffer holds the most recent bufferSeconds of mono audio. There is a
// single producer (the monitor's audio loop); scan workers take chronological
// snapshots. The mutex is held only for the copy in Write and Snapshot,
// never across I/O.
type RingBuffer struct {
	mu      sync.Mutex
	data    []float32
	cursor  int
	written uint64 // monotonic sample count
}

// NewRingBuffer allocates a buffer of size samples.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{data: make([]float32, size)}
}

// Size returns the fixed capacity in samples.
func (r *RingBuffer) Size() int {
	return len(r.data)
}

// Write appends samples, wrapping at the end of the buffer.
func (r *RingBuffer) Write(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(samples) > 0 {
		n := copy(r.data[r.cursor:], samples)
		r.cursor = (r.cursor + n) % len(r.data)
		r.written += uint64(n)
		samples = samples[n:]
	}
}

// Snapshot returns the buffer contents in chronological order: cursor to
// end, then start to cursor. Once the buffer has wrapped at least once the
// snapshot length always equals the buffer size.
func (r *RingBuffer) Snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.written < uint64(len(r.data)) {
		out := make([]float32, r.cursor)
		copy(out, r.data[:r.cursor])
		return out
	}
	out := make([]float32, len(r.data))
	n := copy(out, r.data[r.cursor:])
	copy(out[n:], r.data[:r.cursor])
	return out
}

// SamplesWritten returns the monotonic producer counter.
func (r *RingBuffer) SamplesWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Utilization reports the filled fraction, saturating at 1 once wrapped.
func (r *RingBuffer) Utilization() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.written >= uint64(len(r.data)) {
		return 1.0
	}
	return float64(r.written) / float64(len(r.data))
}
