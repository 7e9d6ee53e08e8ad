package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KR8MER/eas-station-sub002/same"
)

// fakeDriver records line values instead of touching a character device.
type fakeDriver struct {
	mu     sync.Mutex
	values []int
	failOn bool
	closed bool
}

func (d *fakeDriver) SetValue(v int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn {
		return errors.New("injected line failure")
	}
	d.values = append(d.values, v)
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDriver) last() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.values) == 0 {
		return -1
	}
	return d.values[len(d.values)-1]
}

// memAudit collects audit rows in memory.
type memAudit struct {
	mu        sync.Mutex
	events    []GPIOEvent
	updates   map[int64][2]string // id -> result, detail
	updatedAt map[int64]time.Time
	alerts    []AlertRecord
}

func newMemAudit() *memAudit {
	return &memAudit{
		updates:   make(map[int64][2]string),
		updatedAt: make(map[int64]time.Time),
	}
}

func (a *memAudit) RecordGPIOEvent(ev *GPIOEvent) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, *ev)
	return int64(len(a.events)), nil
}

func (a *memAudit) UpdateGPIOEvent(id int64, releasedAt time.Time, result, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates[id] = [2]string{result, detail}
	a.updatedAt[id] = releasedAt
	return nil
}

func (a *memAudit) RecordAlert(rec *AlertRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, *rec)
	return nil
}

func (a *memAudit) Close() error { return nil }

func testPinConfig(name string, activeHigh bool) GPIOPinConfig {
	return GPIOPinConfig{
		Name:            name,
		Chip:            "gpiochip0",
		Line:            17,
		ActiveHigh:      activeHigh,
		DebounceMS:      50,
		HoldSeconds:     5,
		WatchdogSeconds: 300,
	}
}

func newTestController(t *testing.T, cfgs []GPIOPinConfig, audit AuditSink) (*GPIOController, map[string]*fakeDriver) {
	t.Helper()
	drivers := make(map[string]*fakeDriver)
	ctl, err := NewGPIOController(cfgs, audit, func(c GPIOPinConfig) (PinDriver, error) {
		d := &fakeDriver{}
		drivers[c.Name] = d
		return d, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })
	return ctl, drivers
}

func TestGPIOActivateReleaseCycle(t *testing.T) {
	audit := newMemAudit()
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("siren", true)}, audit)

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	require.NoError(t, ctl.Activate("siren", "Tornado Warning", "sig-1", false))
	assert.Equal(t, 1, drivers["siren"].last())
	assert.Equal(t, PinActive, ctl.Status()[0].State)

	// A keyed pin refuses a second activation.
	err := ctl.Activate("siren", "Tornado Warning", "sig-1", false)
	assert.ErrorIs(t, err, same.ErrHardware)
	assert.Len(t, audit.events, 1)

	// Forced early release skips the hold wait and is audited as such.
	now = now.Add(2 * time.Second)
	require.NoError(t, ctl.Release("siren", "operator", true))
	assert.Equal(t, 0, drivers["siren"].last())
	assert.Equal(t, PinInactive, ctl.Status()[0].State)
	res := audit.updates[1]
	assert.Equal(t, "ok", res[0])
	assert.Equal(t, "operator", res[1])
}

func TestGPIOReleaseWaitsOutHold(t *testing.T) {
	audit := newMemAudit()
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("siren", true)}, audit)

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }
	var slept time.Duration
	ctl.sleep = func(d time.Duration) {
		slept += d
		now = now.Add(d)
	}

	activated := now
	require.NoError(t, ctl.Activate("siren", "Tornado Warning", "sig-1", false))

	// Deactivate at t=2s with a 5s hold: the release must block until the
	// hold is satisfied, then succeed.
	now = now.Add(2 * time.Second)
	require.NoError(t, ctl.Release("siren", "operator", false))
	assert.Equal(t, 3*time.Second, slept)
	assert.Equal(t, 0, drivers["siren"].last())
	assert.Equal(t, PinInactive, ctl.Status()[0].State)

	res := audit.updates[1]
	assert.Equal(t, "ok", res[0])
	assert.Equal(t, "operator", res[1])
	assert.GreaterOrEqual(t, audit.updatedAt[1].Sub(activated), 5*time.Second)
}

func TestGPIOReleaseWaitYieldsToForcedRelease(t *testing.T) {
	audit := newMemAudit()
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("siren", true)}, audit)

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }
	ctl.sleep = func(d time.Duration) {
		// While the deferred release waits, an operator forces the pin
		// off. The waiter must notice and not drive the line twice.
		require.NoError(t, ctl.Release("siren", "operator override", true))
		now = now.Add(d)
	}

	require.NoError(t, ctl.Activate("siren", "test", "", false))
	now = now.Add(time.Second)
	require.NoError(t, ctl.Release("siren", "EOM received", false))

	assert.Equal(t, []int{1, 0}, drivers["siren"].values)
	assert.Equal(t, "operator override", audit.updates[1][1])
}

func TestGPIOReleaseAfterHold(t *testing.T) {
	audit := newMemAudit()
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("relay", true)}, audit)

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	require.NoError(t, ctl.Activate("relay", "test", "", false))
	now = now.Add(6 * time.Second)
	require.NoError(t, ctl.Release("relay", "done", false))
	assert.Equal(t, 0, drivers["relay"].last())
}

func TestGPIOActiveLowPolarity(t *testing.T) {
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("relay", false)}, newMemAudit())

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	require.NoError(t, ctl.Activate("relay", "test", "", false))
	assert.Equal(t, 0, drivers["relay"].last())
	now = now.Add(10 * time.Second)
	require.NoError(t, ctl.Release("relay", "done", false))
	assert.Equal(t, 1, drivers["relay"].last())
}

func TestGPIODebounceRejectsRapidReactivation(t *testing.T) {
	ctl, _ := newTestController(t, []GPIOPinConfig{testPinConfig("relay", true)}, newMemAudit())

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	require.NoError(t, ctl.Activate("relay", "first", "", false))
	now = now.Add(10 * time.Second)
	require.NoError(t, ctl.Release("relay", "done", false))

	// 10ms later is inside the 50ms debounce window.
	now = now.Add(10 * time.Millisecond)
	err := ctl.Activate("relay", "again", "", false)
	assert.ErrorIs(t, err, same.ErrHardware)
	require.NoError(t, ctl.Activate("relay", "again", "", true))
}

func TestGPIOWatchdogForcesRelease(t *testing.T) {
	audit := newMemAudit()
	cfg := testPinConfig("stuck", true)
	cfg.WatchdogSeconds = 60
	ctl, drivers := newTestController(t, []GPIOPinConfig{cfg}, audit)

	var timedOut []string
	ctl.SetWatchdogCallback(func(pin string) { timedOut = append(timedOut, pin) })

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	require.NoError(t, ctl.Activate("stuck", "test", "", false))

	now = now.Add(59 * time.Second)
	ctl.checkWatchdogs()
	assert.Equal(t, 1, drivers["stuck"].last())

	now = now.Add(2 * time.Second)
	ctl.checkWatchdogs()
	assert.Equal(t, 0, drivers["stuck"].last())
	assert.Equal(t, PinWatchdogTimeout, ctl.Status()[0].State)
	assert.Equal(t, []string{"stuck"}, timedOut)
	assert.Equal(t, "watchdog_timeout", audit.updates[1][0])
}

func TestGPIODriverFailureSetsErrorState(t *testing.T) {
	audit := newMemAudit()
	ctl, drivers := newTestController(t, []GPIOPinConfig{testPinConfig("bad", true)}, audit)

	now := time.Unix(5000, 0)
	ctl.now = func() time.Time { return now }

	drivers["bad"].failOn = true
	err := ctl.Activate("bad", "test", "", false)
	assert.ErrorIs(t, err, same.ErrHardware)
	assert.Equal(t, PinError, ctl.Status()[0].State)
	assert.Equal(t, "error", audit.events[0].Result)
}

func TestGPIOUnknownPin(t *testing.T) {
	ctl, _ := newTestController(t, []GPIOPinConfig{testPinConfig("relay", true)}, newMemAudit())
	assert.ErrorIs(t, ctl.Activate("nope", "", "", false), same.ErrConfig)
	assert.ErrorIs(t, ctl.Release("nope", "", false), same.ErrConfig)
}

func TestGPIODuplicatePinName(t *testing.T) {
	_, err := NewGPIOController(
		[]GPIOPinConfig{testPinConfig("relay", true), testPinConfig("relay", false)},
		newMemAudit(),
		func(c GPIOPinConfig) (PinDriver, error) { return &fakeDriver{}, nil })
	assert.ErrorIs(t, err, same.ErrConfig)
}
