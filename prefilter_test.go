package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KR8MER/eas-station-sub002/same"
)

func toneSnapshot(freq float64, sampleRate int, seconds float64) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestPrefilterPassesFSKTone(t *testing.T) {
	p := NewScanPrefilter(16000, 0)
	assert.True(t, p.Interesting(toneSnapshot(same.MarkFreq, 16000, 3)))
	assert.True(t, p.Interesting(toneSnapshot(same.SpaceFreq, 16000, 3)))
}

func TestPrefilterPassesAttentionTone(t *testing.T) {
	p := NewScanPrefilter(16000, 0)
	assert.True(t, p.Interesting(toneSnapshot(AttentionToneLow, 16000, 3)))
	assert.True(t, p.Interesting(toneSnapshot(AttentionToneHigh, 16000, 3)))
}

func TestPrefilterRejectsOffBandTone(t *testing.T) {
	// A strong tone well away from both pairs carries essentially no
	// energy in the watched bins.
	p := NewScanPrefilter(16000, 0)
	assert.False(t, p.Interesting(toneSnapshot(3000, 16000, 3)))
}

func TestPrefilterRejectsSilence(t *testing.T) {
	p := NewScanPrefilter(16000, 0)
	assert.False(t, p.Interesting(make([]float32, 16000*3)))
}

func TestPrefilterRejectsShortSnapshot(t *testing.T) {
	p := NewScanPrefilter(16000, 0)
	assert.False(t, p.Interesting(toneSnapshot(same.MarkFreq, 16000, 0.5)))
}

func TestPrefilterPassesRealHeader(t *testing.T) {
	mod := same.NewModulator(16000)
	pcm := mod.RenderBurst("ZCZC-WXR-RWT-039137+0030-0701430-KMRO/EAS-")
	snapshot := make([]float32, len(pcm))
	for i, s := range pcm {
		snapshot[i] = float32(s) / 32768.0
	}
	// Pad to the pre-filter window if the burst came up short.
	for len(snapshot) < 16000*2 {
		snapshot = append(snapshot, snapshot...)
	}
	p := NewScanPrefilter(16000, 0)
	assert.True(t, p.Interesting(snapshot))
}
