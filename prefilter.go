package main

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/KR8MER/eas-station-sub002/same"
)

// DefaultPrefilterThreshold is the fraction of total spectral energy that
// must appear near either the attention-tone pair or the FSK tone pair for
// a snapshot to be worth a full decode. Heuristic, tuned against recorded
// activations; exposed in configuration.
const DefaultPrefilterThreshold = 0.001

// prefilterSeconds is how much of the snapshot head the pre-filter
// examines.
const prefilterSeconds = 2.0

// prefilterBinWidth is the half-width in Hz of the band summed around each
// tone of interest.
const prefilterBinWidth = 15.0

// ScanPrefilter is the cheap gate in front of every scan worker: an FFT of
// the first couple of seconds of the snapshot, Hann windowed, with the
// energy near 853/960 Hz (EBS attention pair) and near the SAME mark/space
// tones compared against the total. Snapshots that fail both checks are
// discarded without running the decoder.
type ScanPrefilter struct {
	sampleRate int
	threshold  float64
	fftLen     int
	fft        *fourier.FFT
	window     []float64
	buf        []float64
}

// NewScanPrefilter builds a pre-filter for the monitor sample rate.
func NewScanPrefilter(sampleRate int, threshold float64) *ScanPrefilter {
	if threshold <= 0 {
		threshold = DefaultPrefilterThreshold
	}
	n := int(prefilterSeconds * float64(sampleRate))
	// Round down to a power of two for the FFT.
	fftLen := 1
	for fftLen*2 <= n {
		fftLen *= 2
	}
	p := &ScanPrefilter{
		sampleRate: sampleRate,
		threshold:  threshold,
		fftLen:     fftLen,
		fft:        fourier.NewFFT(fftLen),
		window:     make([]float64, fftLen),
		buf:        make([]float64, fftLen),
	}
	for i := range p.window {
		p.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftLen-1)))
	}
	return p
}

// Interesting reports whether the snapshot head carries enough energy in
// the attention-tone or FSK bins to justify a decode.
func (p *ScanPrefilter) Interesting(snapshot []float32) bool {
	if len(snapshot) < p.fftLen {
		return false
	}
	for i := 0; i < p.fftLen; i++ {
		p.buf[i] = float64(snapshot[i]) * p.window[i]
	}
	coeffs := p.fft.Coefficients(nil, p.buf)

	power := make([]float64, len(coeffs))
	var total float64
	for i, c := range coeffs {
		pw := real(c)*real(c) + imag(c)*imag(c)
		power[i] = pw
		total += pw
	}
	if total <= 0 {
		return false
	}

	bandPower := func(freq float64) float64 {
		binHz := float64(p.sampleRate) / float64(p.fftLen)
		lo := int((freq - prefilterBinWidth) / binHz)
		hi := int((freq+prefilterBinWidth)/binHz) + 1
		if lo < 0 {
			lo = 0
		}
		if hi > len(power) {
			hi = len(power)
		}
		var sum float64
		for i := lo; i < hi; i++ {
			sum += power[i]
		}
		return sum
	}

	attention := bandPower(AttentionToneLow) + bandPower(AttentionToneHigh)
	fsk := bandPower(same.MarkFreq) + bandPower(same.SpaceFreq)
	return attention/total >= p.threshold || fsk/total >= p.threshold
}
