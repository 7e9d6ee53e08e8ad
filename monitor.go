package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/KR8MER/eas-station-sub002/same"
)

// Audio loop cadence. 20 ms chunks keep streaming-decoder latency low
// without burning CPU on tiny reads.
const monitorChunkMS = 20

// Watchdog timing: how often the stall check runs and how long the audio
// loop may go without a heartbeat before the source is forcibly reopened.
const (
	watchdogCheckInterval = 10 * time.Second
	DefaultWatchdogStall  = 60 * time.Second
)

// Alert is a decoded, deduplicated SAME activation crossing the monitor's
// outbound boundary.
type Alert struct {
	ID         string       `json:"id"`
	Header     *same.Header `json:"header"`
	Signature  string       `json:"signature"`
	Confidence float64      `json:"confidence"`
	Matched    []string     `json:"matched_fips"`
	Source     string       `json:"source"`
	DetectedAt time.Time    `json:"detected_at"`
	EOM        bool         `json:"eom"`
}

// AlertHandler receives forwarded alerts. Handlers run on the detecting
// goroutine; a panic inside a handler is recovered and logged so a broken
// consumer cannot take down monitoring.
type AlertHandler func(*Alert)

// MonitorOptions configures an EASMonitor.
type MonitorOptions struct {
	SourceFactory func() (AudioSource, error)
	SampleRate    int
	BufferSeconds int
	ScanInterval  time.Duration
	MaxConcurrent int
	WatchdogStall time.Duration

	ConfiguredFIPS     []string
	DuplicateCooldown  time.Duration
	PrefilterThreshold float64
	// SaveDir, when set, archives the ring snapshot behind every decoded
	// header, suppressed duplicates and filtered alerts included.
	SaveDir string

	Audit   AuditSink
	Metrics *Metrics
}

// EASMonitor runs the always-on pipeline: one audio loop feeding a ring
// buffer and the streaming decoder, periodic offline scans of ring
// snapshots, and a watchdog that reopens a stalled source. Detections from
// either path converge on handleHeader.
type EASMonitor struct {
	opts    MonitorOptions
	ring    *RingBuffer
	decoder *same.Decoder
	stream  *same.StreamingDecoder
	tuner   *scanTuner
	filter  *ScanPrefilter
	dedupe  *DuplicateCache

	sem         *semaphore.Weighted
	activeScans int64
	heartbeat   int64 // unix nanos of last audio read
	restarts    uint64

	mu       sync.Mutex
	source   AudioSource
	handlers []AlertHandler

	lastAlert   *Alert
	startedAt   time.Time
	scanArchive *snapshotArchiver
}

// NewEASMonitor wires the pipeline but does not start it; call Run.
func NewEASMonitor(opts MonitorOptions) (*EASMonitor, error) {
	if opts.SourceFactory == nil {
		return nil, fmt.Errorf("%w: monitor needs an audio source", same.ErrConfig)
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: monitor sample rate %d", same.ErrConfig, opts.SampleRate)
	}
	if opts.BufferSeconds <= 0 {
		opts.BufferSeconds = 12
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 3 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.WatchdogStall <= 0 {
		opts.WatchdogStall = DefaultWatchdogStall
	}
	if opts.Audit == nil {
		opts.Audit = nopAuditSink{}
	}
	if _, err := NormalizeFIPSList(opts.ConfiguredFIPS); err != nil {
		return nil, err
	}

	m := &EASMonitor{
		opts:    opts,
		ring:    NewRingBuffer(opts.BufferSeconds * opts.SampleRate),
		decoder: &same.Decoder{FIPSLookup: FIPSDescriptions()},
		tuner:   newScanTuner(opts.ScanInterval, opts.MaxConcurrent),
		filter:  NewScanPrefilter(opts.SampleRate, opts.PrefilterThreshold),
		dedupe:  NewDuplicateCache(opts.DuplicateCooldown),
		sem:     semaphore.NewWeighted(maxDynamicScans),
	}
	m.stream = same.NewStreamingDecoder(opts.SampleRate, func(raw string, confidence float64, ts time.Time, _ []float64) {
		if m.opts.Metrics != nil {
			m.opts.Metrics.StreamingHeaders.Inc()
		}
		m.handleHeader(raw, confidence, "streaming")
	})
	if opts.SaveDir != "" {
		m.scanArchive = &snapshotArchiver{dir: opts.SaveDir, sampleRate: opts.SampleRate}
	}
	return m, nil
}

// AddHandler registers an alert consumer. Must be called before Run.
func (m *EASMonitor) AddHandler(h AlertHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Run blocks until the context is cancelled. The audio loop, scan
// scheduler and watchdog run as separate goroutines; Run returns after all
// three have stopped.
func (m *EASMonitor) Run(ctx context.Context) error {
	src, err := m.opts.SourceFactory()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.source = src
	m.startedAt = time.Now()
	m.mu.Unlock()
	atomic.StoreInt64(&m.heartbeat, time.Now().UnixNano())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); m.audioLoop(ctx) }()
	go func() { defer wg.Done(); m.scanLoop(ctx) }()
	go func() { defer wg.Done(); m.watchdogLoop(ctx) }()
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source != nil {
		return m.source.Close()
	}
	return nil
}

// audioLoop reads fixed chunks from the source into the ring buffer and
// the streaming decoder, stamping the heartbeat on every read.
func (m *EASMonitor) audioLoop(ctx context.Context) {
	chunk := m.opts.SampleRate * monitorChunkMS / 1000
	for ctx.Err() == nil {
		m.mu.Lock()
		src := m.source
		m.mu.Unlock()
		if src == nil {
			// Watchdog is mid-restart; back off briefly.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		samples, err := src.ReadAudio(chunk)
		if len(samples) > 0 {
			atomic.StoreInt64(&m.heartbeat, time.Now().UnixNano())
			m.ring.Write(samples)
			m.stream.ProcessSamples(samples)
			if mm := m.opts.Metrics; mm != nil {
				mm.SamplesIngested.Add(float64(len(samples)))
				mm.BufferUtilized.Set(m.ring.Utilization())
				synced := 0.0
				if m.stream.Stats().Synced {
					synced = 1
				}
				mm.StreamingSynced.Set(synced)
			}
		}
		if err != nil {
			log.Printf("[Monitor] audio source %s: %v, reopening", src.Name(), err)
			m.restartSource()
		}
	}
}

// scanLoop fires offline decode scans at the tuner's interval, skipping
// when the dynamic ceiling is busy.
func (m *EASMonitor) scanLoop(ctx context.Context) {
	timer := time.NewTimer(m.tuner.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		interval := m.tuner.Interval()
		timer.Reset(interval)
		if mm := m.opts.Metrics; mm != nil {
			mm.ScanInterval.Set(interval.Seconds())
		}

		if int(atomic.LoadInt64(&m.activeScans)) >= m.tuner.MaxConcurrent() || !m.sem.TryAcquire(1) {
			m.tuner.RecordSkip()
			if mm := m.opts.Metrics; mm != nil {
				mm.ScansSkipped.Inc()
			}
			continue
		}
		// Counted before the worker starts so the ceiling check above
		// never races the goroutine's own bookkeeping.
		atomic.AddInt64(&m.activeScans, 1)
		go m.runScan()
	}
}

// runScan decodes one chronological ring snapshot. The caller acquired a
// semaphore slot and incremented activeScans; both are released here.
func (m *EASMonitor) runScan() {
	defer m.sem.Release(1)
	defer atomic.AddInt64(&m.activeScans, -1)
	if mm := m.opts.Metrics; mm != nil {
		mm.ScansActive.Inc()
		defer mm.ScansActive.Dec()
	}

	start := time.Now()
	snapshot := m.ring.Snapshot()
	if len(snapshot) == 0 || !m.filter.Interesting(snapshot) {
		m.tuner.RecordScan(time.Since(start))
		if mm := m.opts.Metrics; mm != nil {
			mm.ScansPerformed.Inc()
			mm.ScanDuration.Observe(time.Since(start).Seconds())
		}
		return
	}

	samples := make([]float64, len(snapshot))
	for i, s := range snapshot {
		samples[i] = float64(s)
	}
	result := m.decoder.DecodeSamples(samples, m.opts.SampleRate)

	elapsed := time.Since(start)
	m.tuner.RecordScan(elapsed)
	if mm := m.opts.Metrics; mm != nil {
		mm.ScansPerformed.Inc()
		mm.ScanDuration.Observe(elapsed.Seconds())
	}

	for _, h := range result.Headers {
		m.handleHeader(h.Raw, result.Confidence(), "scan")
		// Archive every decoded header, duplicates and filtered alerts
		// included; the recording is evidence either way.
		if m.scanArchive != nil && !h.EOM {
			if path, err := m.scanArchive.save(snapshot, h); err != nil {
				log.Printf("[Monitor] snapshot archive failed: %v", err)
			} else {
				log.Printf("[Monitor] snapshot archived to %s", path)
			}
		}
	}
}

// handleHeader is the convergence point for the streaming and scan paths:
// parse, dedupe, FIPS-match, audit, forward. Returns true when the alert
// was forwarded to handlers.
func (m *EASMonitor) handleHeader(raw string, confidence float64, source string) bool {
	hdr, err := same.ParseHeader(raw, FIPSDescriptions())
	if err != nil {
		log.Printf("[Monitor] unparseable header %q: %v", raw, err)
		return false
	}
	sig := same.Signature(raw)
	now := time.Now()

	if mm := m.opts.Metrics; mm != nil && !hdr.EOM {
		mm.AlertsDetected.Inc()
		mm.AlertConfidence.Set(confidence)
	}

	if m.dedupe.CheckAndInsert(sig) {
		if mm := m.opts.Metrics; mm != nil && !hdr.EOM {
			mm.AlertsSuppressed.Inc()
		}
		return false
	}

	alert := &Alert{
		ID:         uuid.New().String(),
		Header:     hdr,
		Signature:  sig,
		Confidence: confidence,
		Source:     source,
		DetectedAt: now,
		EOM:        hdr.EOM,
	}

	status := "forwarded"
	if !hdr.EOM {
		matched, err := MatchFIPS(hdr.LocationCodes(), m.opts.ConfiguredFIPS)
		if err != nil {
			log.Printf("[Monitor] FIPS match failed for %q: %v", raw, err)
			return false
		}
		alert.Matched = matched
		if len(m.opts.ConfiguredFIPS) > 0 && len(matched) == 0 {
			status = "filtered"
			if mm := m.opts.Metrics; mm != nil {
				mm.AlertsFiltered.Inc()
			}
		}
	}

	m.recordAlert(alert, status, now)

	if status == "filtered" {
		log.Printf("[Monitor] %s for %v does not cover this station, dropped",
			hdr.EventDescription(), hdr.LocationCodes())
		return false
	}

	if mm := m.opts.Metrics; mm != nil && !hdr.EOM {
		mm.AlertsForwarded.Inc()
	}
	m.mu.Lock()
	if !hdr.EOM {
		m.lastAlert = alert
	}
	handlers := make([]AlertHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	label := hdr.Event
	if hdr.EOM {
		label = "EOM"
	}
	log.Printf("[Monitor] %s alert: %s conf=%.2f matched=%v src=%s",
		label, raw, confidence, alert.Matched, source)
	for _, h := range handlers {
		m.dispatch(h, alert)
	}
	return !hdr.EOM
}

func (m *EASMonitor) recordAlert(alert *Alert, status string, now time.Time) {
	if alert.Header.EOM {
		return
	}
	rec := &AlertRecord{
		Signature:  alert.Signature,
		Raw:        alert.Header.Raw,
		Originator: alert.Header.Originator,
		Event:      alert.Header.Event,
		Locations:  alert.Header.LocationCodes(),
		Confidence: alert.Confidence,
		Status:     status,
		Source:     alert.Source,
		DecodedAt:  now,
	}
	if err := m.opts.Audit.RecordAlert(rec); err != nil {
		log.Printf("[Monitor] alert audit failed: %v", err)
	}
}

// dispatch isolates handler panics from the pipeline.
func (m *EASMonitor) dispatch(h AlertHandler, alert *Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Monitor] alert handler panic: %v", r)
		}
	}()
	h(alert)
}

// watchdogLoop reopens the source when the audio loop stops stamping the
// heartbeat.
func (m *EASMonitor) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		last := time.Unix(0, atomic.LoadInt64(&m.heartbeat))
		if stall := time.Since(last); stall > m.opts.WatchdogStall {
			log.Printf("[Monitor] no audio for %v (limit %v): %v",
				stall.Round(time.Second), m.opts.WatchdogStall, same.ErrWatchdogTimeout)
			m.restartSource()
		}
	}
}

// restartSource closes and reopens the audio source and resets streaming
// decoder state, since bit sync is meaningless across a gap.
func (m *EASMonitor) restartSource() {
	m.mu.Lock()
	old := m.source
	m.source = nil
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	src, err := m.opts.SourceFactory()
	if err != nil {
		log.Printf("[Monitor] source reopen failed: %v", err)
		return
	}
	m.stream.Reset()
	atomic.AddUint64(&m.restarts, 1)
	atomic.StoreInt64(&m.heartbeat, time.Now().UnixNano())
	if mm := m.opts.Metrics; mm != nil {
		mm.SourceRestarts.Inc()
	}

	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
	log.Printf("[Monitor] audio source reopened: %s", src.Name())
}

// MonitorStatus is the JSON snapshot served by the status API.
type MonitorStatus struct {
	Running           bool                 `json:"running"`
	Source            string               `json:"source"`
	StartedAt         time.Time            `json:"started_at"`
	SamplesIngested   uint64               `json:"samples_ingested"`
	BufferUtilization float64              `json:"buffer_utilization"`
	ScanInterval      float64              `json:"scan_interval_seconds"`
	MaxConcurrent     int                  `json:"max_concurrent_scans"`
	ActiveScans       int                  `json:"active_scans"`
	ScansCompleted    uint64               `json:"scans_completed"`
	ScansSkipped      uint64               `json:"scans_skipped"`
	MeanScanSeconds   float64              `json:"mean_scan_seconds"`
	SourceRestarts    uint64               `json:"source_restarts"`
	Streaming         same.StreamingStats  `json:"streaming"`
	DuplicatesCached  int                  `json:"duplicates_cached"`
	LastAlert         *Alert               `json:"last_alert,omitempty"`
}

// Status snapshots the pipeline for operators.
func (m *EASMonitor) Status() MonitorStatus {
	m.mu.Lock()
	src := m.source
	last := m.lastAlert
	started := m.startedAt
	m.mu.Unlock()

	completed, skipped, mean := m.tuner.Stats()
	st := MonitorStatus{
		Running:           src != nil,
		StartedAt:         started,
		SamplesIngested:   m.ring.SamplesWritten(),
		BufferUtilization: m.ring.Utilization(),
		ScanInterval:      m.tuner.Interval().Seconds(),
		MaxConcurrent:     m.tuner.MaxConcurrent(),
		ActiveScans:       int(atomic.LoadInt64(&m.activeScans)),
		ScansCompleted:    completed,
		ScansSkipped:      skipped,
		MeanScanSeconds:   mean.Seconds(),
		SourceRestarts:    atomic.LoadUint64(&m.restarts),
		Streaming:         m.stream.Stats(),
		DuplicatesCached:  m.dedupe.Len(),
		LastAlert:         last,
	}
	if src != nil {
		st.Source = src.Name()
	}
	return st
}
