package main

import (
	"sync"
	"time"
)

// Self-tuning constants for the scan scheduler. The control law is
// deliberately conservative: a stale Raspberry Pi under load should settle
// rather than oscillate.
const (
	scanBufferFactor   = 1.15
	maxDynamicScans    = 8
	maxScanInterval    = 8 * time.Second
	minScanInterval    = 1500 * time.Millisecond
	tunerCooldown      = 30 * time.Second
	tunerMinSamples    = 10
	highSkipRate       = 0.05
	fastFinishFraction = 0.60
	durationHistoryLen = 32
)

// scanTuner adapts the scan interval and the concurrent-scan ceiling to the
// observed scan durations and skip rate. The clock is injectable so the
// control law can be unit tested without sleeping.
type scanTuner struct {
	mu sync.Mutex

	interval      time.Duration
	minInterval   time.Duration
	maxConcurrent int

	durations []time.Duration
	completed uint64
	skipped   uint64

	lastAdjust time.Time
	now        func() time.Time
}

func newScanTuner(initialInterval time.Duration, initialMaxConcurrent int) *scanTuner {
	t := &scanTuner{
		interval:      initialInterval,
		minInterval:   minScanInterval,
		maxConcurrent: initialMaxConcurrent,
		now:           time.Now,
	}
	if t.maxConcurrent < 1 {
		t.maxConcurrent = 1
	}
	if t.maxConcurrent > maxDynamicScans {
		t.maxConcurrent = maxDynamicScans
	}
	return t
}

// Interval returns the current scan interval.
func (t *scanTuner) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// MaxConcurrent returns the current concurrent-scan ceiling.
func (t *scanTuner) MaxConcurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxConcurrent
}

// RecordSkip counts a scan that was not started because the ceiling was
// reached.
func (t *scanTuner) RecordSkip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// RecordScan feeds one completed scan duration into the history and, when
// enough history exists and the cooldown has expired, re-tunes.
func (t *scanTuner) RecordScan(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	t.durations = append(t.durations, d)
	if len(t.durations) > durationHistoryLen {
		t.durations = t.durations[1:]
	}

	if t.completed < tunerMinSamples {
		return
	}
	now := t.now()
	if !t.lastAdjust.IsZero() && now.Sub(t.lastAdjust) < tunerCooldown {
		return
	}
	t.adjustLocked(now)
}

func (t *scanTuner) adjustLocked(now time.Time) {
	mean := t.meanDurationLocked()

	// Interval follows the rolling mean with headroom, clamped to the
	// configured floor and the hard ceiling.
	optimal := time.Duration(float64(mean) * scanBufferFactor)
	if optimal < t.minInterval {
		optimal = t.minInterval
	}
	if optimal > maxScanInterval {
		optimal = maxScanInterval
	}

	attempts := t.completed + t.skipped
	skipRate := 0.0
	if attempts > 0 {
		skipRate = float64(t.skipped) / float64(attempts)
	}

	adjusted := false
	if optimal != t.interval {
		t.interval = optimal
		adjusted = true
	}
	if skipRate > highSkipRate && t.maxConcurrent < maxDynamicScans {
		t.maxConcurrent++
		adjusted = true
	} else if mean < time.Duration(float64(t.interval)*fastFinishFraction) && t.maxConcurrent > 1 {
		t.maxConcurrent--
		adjusted = true
	}
	if adjusted {
		t.lastAdjust = now
	}
}

func (t *scanTuner) meanDurationLocked() time.Duration {
	if len(t.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.durations {
		sum += d
	}
	return sum / time.Duration(len(t.durations))
}

// Stats returns completed count, skipped count and the rolling mean.
func (t *scanTuner) Stats() (completed, skipped uint64, mean time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.skipped, t.meanDurationLocked()
}
