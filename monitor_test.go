package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KR8MER/eas-station-sub002/same"
)

// stubSource feeds silence forever; ReadAudio never errors.
type stubSource struct {
	name string
}

func (s *stubSource) Name() string    { return s.name }
func (s *stubSource) SampleRate() int { return 16000 }
func (s *stubSource) ReadAudio(n int) ([]float32, error) {
	time.Sleep(time.Millisecond)
	return make([]float32, n), nil
}
func (s *stubSource) Close() error { return nil }

func newTestMonitor(t *testing.T, opts MonitorOptions) *EASMonitor {
	t.Helper()
	if opts.SourceFactory == nil {
		opts.SourceFactory = func() (AudioSource, error) {
			return &stubSource{name: "stub"}, nil
		}
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.ScanInterval == 0 {
		opts.ScanInterval = time.Hour
	}
	m, err := NewEASMonitor(opts)
	require.NoError(t, err)
	return m
}

// renderHeaderAudio renders the three header bursts of a TOR activation as
// monitor-rate float samples, returning the exact header text with them.
func renderHeaderAudio(t *testing.T, rate int) ([]float32, string) {
	t.Helper()
	issue := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)
	text, err := same.FormatHeader("WXR", "TOR", []string{"039137"}, 30*time.Minute, issue, "KMRO/EAS")
	require.NoError(t, err)

	pcm := same.NewModulator(rate).RenderMessage(text)
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out, text
}

// startScan mirrors scanLoop's admission bookkeeping for a directly driven
// scan.
func startScan(t *testing.T, m *EASMonitor) {
	t.Helper()
	require.True(t, m.sem.TryAcquire(1))
	atomic.AddInt64(&m.activeScans, 1)
	m.runScan()
}

func TestMonitorScanDecodesBufferedBurst(t *testing.T) {
	rate := 16000
	m := newTestMonitor(t, MonitorOptions{
		SampleRate:        rate,
		BufferSeconds:     12,
		ConfiguredFIPS:    []string{"039137"},
		DuplicateCooldown: time.Hour,
	})
	var alerts []*Alert
	m.AddHandler(func(a *Alert) { alerts = append(alerts, a) })

	// A 30 s stream with the burst sequence in its tail: the 12 s ring
	// keeps the window that holds the complete sequence.
	audio, text := renderHeaderAudio(t, rate)
	m.ring.Write(make([]float32, 18*rate))
	m.ring.Write(audio)
	m.ring.Write(make([]float32, 30*rate-18*rate-len(audio)))

	startScan(t, m)

	require.Len(t, alerts, 1)
	assert.Equal(t, "TOR", alerts[0].Header.Event)
	assert.Equal(t, text, alerts[0].Header.Raw)
	assert.Equal(t, []string{"039137"}, alerts[0].Matched)
	assert.Equal(t, "scan", alerts[0].Source)

	assert.Zero(t, atomic.LoadInt64(&m.activeScans))
	completed, _, _ := m.tuner.Stats()
	assert.Equal(t, uint64(1), completed)
}

func TestMonitorScanArchivesSuppressedDuplicate(t *testing.T) {
	rate := 16000
	dir := t.TempDir()
	m := newTestMonitor(t, MonitorOptions{
		SampleRate:        rate,
		DuplicateCooldown: time.Hour,
		SaveDir:           dir,
	})
	var alerts []*Alert
	m.AddHandler(func(a *Alert) { alerts = append(alerts, a) })

	audio, text := renderHeaderAudio(t, rate)
	m.ring.Write(audio)
	// The same activation was already seen: the scan's header is a
	// duplicate and must not be forwarded, but the audio is still kept.
	m.dedupe.CheckAndInsert(same.Signature(text))

	startScan(t, m)

	assert.Empty(t, alerts)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_WXR-TOR_rx.wav"),
		"unexpected archive name %s", entries[0].Name())
}

func TestMonitorRestartSourceResetsStreaming(t *testing.T) {
	var opened int32
	m := newTestMonitor(t, MonitorOptions{
		SourceFactory: func() (AudioSource, error) {
			return &stubSource{name: fmt.Sprintf("stub-%d", atomic.AddInt32(&opened, 1))}, nil
		},
	})
	src, err := m.opts.SourceFactory()
	require.NoError(t, err)
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()

	m.stream.ProcessSamples(make([]float32, 4096))
	require.NotZero(t, m.stream.Stats().SamplesProcessed)

	m.restartSource()

	st := m.Status()
	assert.True(t, st.Running)
	assert.Equal(t, uint64(1), st.SourceRestarts)
	assert.Equal(t, "stub-2", st.Source)
	assert.Zero(t, st.Streaming.SamplesProcessed)
}

func TestMonitorScanCeilingSkips(t *testing.T) {
	m := newTestMonitor(t, MonitorOptions{
		ScanInterval:  20 * time.Millisecond,
		MaxConcurrent: 1,
	})
	// Ceiling occupied: every firing must be skipped, no worker created.
	atomic.StoreInt64(&m.activeScans, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	m.scanLoop(ctx)

	completed, skipped, _ := m.tuner.Stats()
	assert.Zero(t, completed)
	assert.GreaterOrEqual(t, skipped, uint64(1))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.activeScans))
}

func TestMonitorStreamingDetectsFromWAVSource(t *testing.T) {
	path, text := writeActivationWAV(t, t.TempDir())

	m := newTestMonitor(t, MonitorOptions{
		SourceFactory: func() (AudioSource, error) {
			src, err := NewWAVFileSource(path, true)
			if err != nil {
				return nil, err
			}
			src.sleep = func(time.Duration) {} // no real-time pacing in tests
			return src, nil
		},
		SampleRate:        same.PreferredDecodeRate,
		ConfiguredFIPS:    []string{"039137"},
		DuplicateCooldown: time.Hour,
	})
	alerts := make(chan *Alert, 8)
	m.AddHandler(func(a *Alert) {
		select {
		case alerts <- a:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var alert *Alert
	select {
	case alert = <-alerts:
	case <-time.After(15 * time.Second):
		t.Fatal("no alert detected from WAV source")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, text, alert.Header.Raw)
	assert.Equal(t, "streaming", alert.Source)
	assert.Equal(t, []string{"039137"}, alert.Matched)
	assert.False(t, alert.EOM)
}
