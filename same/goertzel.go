package same

import "math"

// GoertzelPower computes the power of a single frequency bin over a block
// of samples. This is the classic single-bin DFT: far cheaper than a full
// FFT when only one or two frequencies matter.
func GoertzelPower(samples []float64, sampleRate int, frequency float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	k := math.Round(float64(len(samples)) * frequency / float64(sampleRate))
	omega := 2 * math.Pi * k / float64(len(samples))
	coeff := 2 * math.Cos(omega)

	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// goertzelBit decides one bit from a bit-length window by comparing mark
// and space tone power. The returned confidence is
// |mark-space| / (mark+space), in [0, 1].
func goertzelBit(window []float64, sampleRate int) (bit bool, confidence float64) {
	mark := GoertzelPower(window, sampleRate, MarkFreq)
	space := GoertzelPower(window, sampleRate, SpaceFreq)
	total := mark + space
	if total <= 0 {
		return false, 0
	}
	return mark > space, math.Abs(mark-space) / total
}
