package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/KR8MER/eas-station-sub002/same"
)

// PinState is the lifecycle state of one controlled output.
type PinState string

const (
	PinInactive        PinState = "inactive"
	PinActive          PinState = "active"
	PinError           PinState = "error"
	PinWatchdogTimeout PinState = "watchdog_timeout"
)

// PinDriver abstracts the actual line so tests can run without a
// character device.
type PinDriver interface {
	SetValue(v int) error
	Close() error
}

// cdevDriver drives a real line through the gpio character device.
type cdevDriver struct {
	line *gpiocdev.Line
}

func newCdevDriver(chip string, offset int, initial int) (PinDriver, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("%w: requesting %s line %d: %v", same.ErrHardware, chip, offset, err)
	}
	return &cdevDriver{line: line}, nil
}

func (d *cdevDriver) SetValue(v int) error { return d.line.SetValue(v) }
func (d *cdevDriver) Close() error         { return d.line.Close() }

// gpioPin is one controlled output with its own lock, hold timing and
// watchdog bookkeeping.
type gpioPin struct {
	mu sync.Mutex

	name       string
	driver     PinDriver
	activeHigh bool
	debounce   time.Duration
	minHold    time.Duration
	watchdog   time.Duration

	state       PinState
	activatedAt time.Time
	lastChange  time.Time
	auditID     int64
	activations uint64
}

// GPIOController owns every configured pin. All transitions are audited;
// an audit write failure is logged and counted but never blocks the relay.
type GPIOController struct {
	mu    sync.Mutex
	pins  map[string]*gpioPin
	audit AuditSink
	now   func() time.Time
	sleep func(time.Duration)

	stop chan struct{}
	wg   sync.WaitGroup

	onWatchdogTimeout func(pin string)
}

// GPIOPinConfig is resolved from the yaml config; see Config.GPIO.
type GPIOPinConfig struct {
	Name            string `yaml:"name"`
	Chip            string `yaml:"chip"`
	Line            int    `yaml:"line"`
	ActiveHigh      bool   `yaml:"active_high"`
	DebounceMS      int    `yaml:"debounce_ms"`
	HoldSeconds     int    `yaml:"hold_seconds"`
	WatchdogSeconds int    `yaml:"watchdog_seconds"`
}

// NewGPIOController requests every configured line and starts the per-pin
// watchdog loop. Pins start released.
func NewGPIOController(cfgs []GPIOPinConfig, audit AuditSink, openDriver func(GPIOPinConfig) (PinDriver, error)) (*GPIOController, error) {
	if audit == nil {
		audit = nopAuditSink{}
	}
	if openDriver == nil {
		openDriver = func(c GPIOPinConfig) (PinDriver, error) {
			initial := 0
			if !c.ActiveHigh {
				initial = 1
			}
			return newCdevDriver(c.Chip, c.Line, initial)
		}
	}

	ctl := &GPIOController{
		pins:  make(map[string]*gpioPin),
		audit: audit,
		now:   time.Now,
		sleep: time.Sleep,
		stop:  make(chan struct{}),
	}
	for _, c := range cfgs {
		if _, dup := ctl.pins[c.Name]; dup {
			ctl.closeAll()
			return nil, fmt.Errorf("%w: duplicate GPIO pin name %q", same.ErrConfig, c.Name)
		}
		drv, err := openDriver(c)
		if err != nil {
			ctl.closeAll()
			return nil, err
		}
		ctl.pins[c.Name] = &gpioPin{
			name:       c.Name,
			driver:     drv,
			activeHigh: c.ActiveHigh,
			debounce:   time.Duration(c.DebounceMS) * time.Millisecond,
			minHold:    time.Duration(c.HoldSeconds) * time.Second,
			watchdog:   time.Duration(c.WatchdogSeconds) * time.Second,
			state:      PinInactive,
		}
	}

	ctl.wg.Add(1)
	go ctl.watchdogLoop()
	return ctl, nil
}

// SetWatchdogCallback registers a hook fired after a watchdog release, for
// metrics and operator notification.
func (g *GPIOController) SetWatchdogCallback(fn func(pin string)) {
	g.mu.Lock()
	g.onWatchdogTimeout = fn
	g.mu.Unlock()
}

func (g *GPIOController) pin(name string) (*gpioPin, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown GPIO pin %q", same.ErrConfig, name)
	}
	return p, nil
}

// Activate asserts the pin. A pin already active is refused, as are
// transitions inside the debounce window unless forced.
func (g *GPIOController) Activate(name, reason, alertSig string, force bool) error {
	p, err := g.pin(name)
	if err != nil {
		return err
	}
	now := g.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PinActive {
		return fmt.Errorf("%w: pin %s is already active", same.ErrHardware, name)
	}
	if !force && !p.lastChange.IsZero() && now.Sub(p.lastChange) < p.debounce {
		return fmt.Errorf("%w: pin %s changed %v ago, debounce %v", same.ErrHardware, name, now.Sub(p.lastChange), p.debounce)
	}

	if err := p.driver.SetValue(p.level(true)); err != nil {
		p.state = PinError
		g.auditRecord(&GPIOEvent{
			Pin: name, Action: "activate", Reason: reason, AlertSig: alertSig,
			RequestedAt: now, Result: "error", Detail: err.Error(),
		})
		return fmt.Errorf("%w: asserting pin %s: %v", same.ErrHardware, name, err)
	}

	p.state = PinActive
	p.activatedAt = now
	p.lastChange = now
	p.activations++
	p.auditID = g.auditRecord(&GPIOEvent{
		Pin: name, Action: "activate", Reason: reason, AlertSig: alertSig,
		RequestedAt: now, Result: "ok",
	})
	log.Printf("[GPIO] %s activated (%s)", name, reason)
	return nil
}

// Release clears the pin. A non-forced release before the minimum hold
// has elapsed blocks until the hold is satisfied, then drives the line
// inactive; a forced early release skips the wait and is audited as such.
func (g *GPIOController) Release(name, reason string, force bool) error {
	p, err := g.pin(name)
	if err != nil {
		return err
	}
	now := g.now()

	p.mu.Lock()
	if p.state != PinActive && p.state != PinWatchdogTimeout {
		p.mu.Unlock()
		return nil
	}
	held := now.Sub(p.activatedAt)
	if !force && held < p.minHold {
		// Wait out the remaining hold with the pin lock dropped so the
		// watchdog and forced releases are not blocked behind us.
		remaining := p.minHold - held
		p.mu.Unlock()
		log.Printf("[GPIO] %s held %v of minimum %v, release deferred %v", name, held, p.minHold, remaining)
		g.sleep(remaining)
		now = g.now()
		p.mu.Lock()
		if p.state != PinActive && p.state != PinWatchdogTimeout {
			// Someone released the pin while we waited.
			p.mu.Unlock()
			return nil
		}
		held = now.Sub(p.activatedAt)
	}
	defer p.mu.Unlock()

	action := "deactivate"
	if force && held < p.minHold {
		action = "force_release"
	}
	return g.releaseLocked(p, now, action, reason)
}

// releaseLocked drives the line inactive and closes the audit row. Caller
// holds p.mu.
func (g *GPIOController) releaseLocked(p *gpioPin, now time.Time, action, reason string) error {
	if err := p.driver.SetValue(p.level(false)); err != nil {
		p.state = PinError
		g.auditUpdate(p.auditID, now, "error", err.Error())
		return fmt.Errorf("%w: releasing pin %s: %v", same.ErrHardware, p.name, err)
	}
	result := "ok"
	if action == "watchdog_release" {
		p.state = PinWatchdogTimeout
		result = "watchdog_timeout"
	} else {
		p.state = PinInactive
	}
	p.lastChange = now
	g.auditUpdate(p.auditID, now, result, reason)
	log.Printf("[GPIO] %s released (%s, held %v)", p.name, action, now.Sub(p.activatedAt).Round(time.Millisecond))
	return nil
}

// level maps logical assertion to the electrical value for this pin.
func (p *gpioPin) level(asserted bool) int {
	if asserted == p.activeHigh {
		return 1
	}
	return 0
}

// watchdogLoop wakes once a second and force-releases any pin held past
// its watchdog deadline. This is the last line of defense against a relay
// stuck keyed by a crashed caller.
func (g *GPIOController) watchdogLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.checkWatchdogs()
		}
	}
}

func (g *GPIOController) checkWatchdogs() {
	now := g.now()
	g.mu.Lock()
	pins := make([]*gpioPin, 0, len(g.pins))
	for _, p := range g.pins {
		pins = append(pins, p)
	}
	cb := g.onWatchdogTimeout
	g.mu.Unlock()

	for _, p := range pins {
		p.mu.Lock()
		expired := p.state == PinActive && p.watchdog > 0 && now.Sub(p.activatedAt) >= p.watchdog
		if expired {
			log.Printf("[GPIO] %s watchdog expired after %v, forcing release", p.name, p.watchdog)
			if err := g.releaseLocked(p, now, "watchdog_release", fmt.Sprintf("%v", same.ErrWatchdogTimeout)); err != nil {
				log.Printf("[GPIO] %s watchdog release failed: %v", p.name, err)
			}
		}
		p.mu.Unlock()
		if expired && cb != nil {
			cb(p.name)
		}
	}
}

// PinStatus is the externally visible snapshot of one pin.
type PinStatus struct {
	Name        string    `json:"name"`
	State       PinState  `json:"state"`
	ActivatedAt time.Time `json:"activated_at,omitempty"`
	Activations uint64    `json:"activations"`
}

// Status snapshots every pin.
func (g *GPIOController) Status() []PinStatus {
	g.mu.Lock()
	pins := make([]*gpioPin, 0, len(g.pins))
	for _, p := range g.pins {
		pins = append(pins, p)
	}
	g.mu.Unlock()

	out := make([]PinStatus, 0, len(pins))
	for _, p := range pins {
		p.mu.Lock()
		st := PinStatus{Name: p.name, State: p.state, Activations: p.activations}
		if p.state == PinActive {
			st.ActivatedAt = p.activatedAt
		}
		p.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Close releases every active pin and frees the lines.
func (g *GPIOController) Close() error {
	close(g.stop)
	g.wg.Wait()

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for _, p := range g.pins {
		p.mu.Lock()
		if p.state == PinActive {
			if err := g.releaseLocked(p, now, "force_release", "shutdown"); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := p.driver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.mu.Unlock()
	}
	return firstErr
}

func (g *GPIOController) closeAll() {
	for _, p := range g.pins {
		p.driver.Close()
	}
}

// auditRecord writes the event, logging rather than failing on a storage
// error. Relay control must not depend on the disk.
func (g *GPIOController) auditRecord(ev *GPIOEvent) int64 {
	id, err := g.audit.RecordGPIOEvent(ev)
	if err != nil {
		log.Printf("[GPIO] audit write failed: %v", err)
		return 0
	}
	return id
}

func (g *GPIOController) auditUpdate(id int64, at time.Time, result, detail string) {
	if id == 0 {
		return
	}
	if err := g.audit.UpdateGPIOEvent(id, at, result, detail); err != nil {
		log.Printf("[GPIO] audit update failed: %v", err)
	}
}
