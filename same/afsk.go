package same

import "math"

// SAME on-air constants. The rates are exact rationals; keeping them as
// ratios avoids cumulative timing slip in the modulator.
const (
	// BaudRate is 520 5/6 bits per second.
	BaudRate = 3125.0 / 6.0
	// MarkFreq is the bit-1 tone, 2083 1/3 Hz.
	MarkFreq = 6250.0 / 3.0
	// SpaceFreq is the bit-0 tone, 1562 1/2 Hz.
	SpaceFreq = 3125.0 / 2.0

	// PreambleByte is transmitted sixteen times before each burst to let
	// the receiver's clock recovery lock.
	PreambleByte  = 0xAB
	PreambleCount = 16

	// MaxMessageLen bounds the character accumulator of a single header.
	MaxMessageLen = 268

	// EOMText is the end-of-message marker, transmitted three times like a
	// header.
	EOMText = "NNNN"
)

// FrameByte8N1 frames one byte as start(0) + 8 data bits LSB-first +
// stop(1). This is the framing produced by modern certified encoders and is
// what the encoder emits.
func FrameByte8N1(b byte) []bool {
	bits := make([]bool, 0, 10)
	bits = append(bits, false)
	for i := 0; i < 8; i++ {
		bits = append(bits, b&(1<<i) != 0)
	}
	return append(bits, true)
}

// FrameByte7E1 frames one byte as start(0) + 7 data bits LSB-first + even
// parity + stop(1). Kept for legacy compatibility; the decoder accepts it
// but the encoder never produces it.
func FrameByte7E1(b byte) []bool {
	bits := make([]bool, 0, 10)
	bits = append(bits, false)
	parity := false
	for i := 0; i < 7; i++ {
		set := b&(1<<i) != 0
		bits = append(bits, set)
		if set {
			parity = !parity
		}
	}
	bits = append(bits, parity)
	return append(bits, true)
}

// frameText frames a whole payload 8N1, preceded by the preamble bytes.
func frameText(text string) []bool {
	bits := make([]bool, 0, (PreambleCount+len(text))*10)
	for i := 0; i < PreambleCount; i++ {
		bits = append(bits, FrameByte8N1(PreambleByte)...)
	}
	for i := 0; i < len(text); i++ {
		bits = append(bits, FrameByte8N1(text[i])...)
	}
	return bits
}

// Modulator renders framed bits as AFSK PCM. Sine phase is continuous
// across bit boundaries and bit timing uses fractional accumulation so the
// cumulative slip per bit is zero: each bit rounds to the nearest sample
// and the remainder carries into the next.
type Modulator struct {
	SampleRate int
	Amplitude  int16

	phase float64 // radians, carried across bits and bursts
	frac  float64 // fractional sample carry
}

// NewModulator returns a modulator at the given rate. Amplitude defaults to
// a conservative 0.75 of full scale when zero.
func NewModulator(sampleRate int) *Modulator {
	return &Modulator{SampleRate: sampleRate, Amplitude: 24576}
}

// RenderBits appends AFSK samples for the given bit sequence.
func (m *Modulator) RenderBits(bits []bool) []int16 {
	samplesPerBit := float64(m.SampleRate) / BaudRate
	out := make([]int16, 0, int(float64(len(bits))*samplesPerBit)+1)
	for _, bit := range bits {
		freq := SpaceFreq
		if bit {
			freq = MarkFreq
		}
		exact := samplesPerBit + m.frac
		n := int(math.Round(exact))
		m.frac = exact - float64(n)
		step := 2 * math.Pi * freq / float64(m.SampleRate)
		for i := 0; i < n; i++ {
			out = append(out, int16(float64(m.Amplitude)*math.Sin(m.phase)))
			m.phase += step
			if m.phase > 2*math.Pi {
				m.phase -= 2 * math.Pi
			}
		}
	}
	return out
}

// Silence returns n seconds of silence at the modulator rate.
func (m *Modulator) Silence(seconds float64) []int16 {
	return make([]int16, int(seconds*float64(m.SampleRate)))
}

// RenderBurst renders one burst: preamble + framed ASCII payload + CR.
func (m *Modulator) RenderBurst(text string) []int16 {
	return m.RenderBits(frameText(text + "\r"))
}

// RenderMessage renders the standard three bursts of a SAME message with
// one second of silence between them. The same call renders the EOM when
// given "NNNN".
func (m *Modulator) RenderMessage(text string) []int16 {
	var out []int16
	for burst := 0; burst < 3; burst++ {
		if burst > 0 {
			out = append(out, m.Silence(1.0)...)
		}
		out = append(out, m.RenderBurst(text)...)
	}
	return out
}
