package same

import (
	"math"
	"strings"
)

// Correlation/DLL demodulator constants (multimon-ng lineage). The DCD
// shift register holds recent correlation signs; the integrator is a
// bounded bit-decision accumulator; the sampling phase is a 16-bit
// accumulator advanced per evaluated sample and nudged toward bit center on
// each observed transition.
const (
	dcdSubsample  = 2
	integratorMax = 6
	dllGain       = 0.4
	dllMaxSlide   = 8192
	phaseWrap     = 0x10000
	phaseCenter   = 0x8000
)

// demodCore runs the sample-level correlation and clock recovery and emits
// one callback per recovered bit, with a per-bit confidence of
// |mark-space| / (mark+space).
type demodCore struct {
	sampleRate int
	corrLen    int

	markI, markQ   []float64
	spaceI, spaceQ []float64

	ring    []float64
	ringIdx int
	primed  int
	subCnt  int

	dcdShreg   uint32
	integrator int
	sphase     uint32
	sphaseInc  uint32

	samplesIn uint64

	bitSink func(bit bool, confidence float64)
}

func newDemodCore(sampleRate int, bitSink func(bool, float64)) *demodCore {
	d := &demodCore{
		sampleRate: sampleRate,
		corrLen:    int(float64(sampleRate)/BaudRate + 0.5),
		bitSink:    bitSink,
	}
	d.markI = make([]float64, d.corrLen)
	d.markQ = make([]float64, d.corrLen)
	d.spaceI = make([]float64, d.corrLen)
	d.spaceQ = make([]float64, d.corrLen)
	for i := 0; i < d.corrLen; i++ {
		t := float64(i) / float64(sampleRate)
		d.markI[i] = math.Cos(2 * math.Pi * MarkFreq * t)
		d.markQ[i] = math.Sin(2 * math.Pi * MarkFreq * t)
		d.spaceI[i] = math.Cos(2 * math.Pi * SpaceFreq * t)
		d.spaceQ[i] = math.Sin(2 * math.Pi * SpaceFreq * t)
	}
	d.ring = make([]float64, d.corrLen)
	d.sphaseInc = uint32(math.Round(phaseWrap * BaudRate * dcdSubsample / float64(sampleRate)))
	return d
}

func (d *demodCore) reset() {
	for i := range d.ring {
		d.ring[i] = 0
	}
	d.ringIdx = 0
	d.primed = 0
	d.subCnt = 0
	d.dcdShreg = 0
	d.integrator = 0
	d.sphase = 0
	d.samplesIn = 0
}

// processSample consumes one audio sample. Correlation is evaluated every
// dcdSubsample samples; the phase increment accounts for the decimation.
func (d *demodCore) processSample(sample float64) {
	d.samplesIn++
	d.ring[d.ringIdx] = sample
	d.ringIdx++
	if d.ringIdx == d.corrLen {
		d.ringIdx = 0
	}
	if d.primed < d.corrLen {
		d.primed++
		return
	}

	d.subCnt++
	if d.subCnt < dcdSubsample {
		return
	}
	d.subCnt = 0

	// Dot products of the trailing window against the four correlation
	// tables, oldest sample first.
	var mi, mq, si, sq float64
	j := d.ringIdx
	for i := 0; i < d.corrLen; i++ {
		x := d.ring[j]
		mi += x * d.markI[i]
		mq += x * d.markQ[i]
		si += x * d.spaceI[i]
		sq += x * d.spaceQ[i]
		j++
		if j == d.corrLen {
			j = 0
		}
	}
	mark := mi*mi + mq*mq
	space := si*si + sq*sq
	corr := mark - space
	total := mark + space
	confidence := 0.0
	if total > 0 {
		confidence = math.Abs(corr) / total
	}

	cur := corr > 0
	d.dcdShreg <<= 1
	if cur {
		d.dcdShreg |= 1
		if d.integrator < integratorMax {
			d.integrator++
		}
	} else if d.integrator > -integratorMax {
		d.integrator--
	}

	// A transition between consecutive correlation signs nudges the
	// sampling phase toward center (DLL), sliding at most dllMaxSlide of
	// the 16-bit phase range per adjustment.
	if (d.dcdShreg^(d.dcdShreg>>1))&1 == 1 {
		err := int32(d.sphase) - phaseCenter
		adj := int32(float64(err) * dllGain)
		if adj > dllMaxSlide {
			adj = dllMaxSlide
		} else if adj < -dllMaxSlide {
			adj = -dllMaxSlide
		}
		d.sphase = uint32(int32(d.sphase)-adj) & 0xFFFF
	}

	d.sphase += d.sphaseInc
	if d.sphase >= phaseWrap {
		d.sphase &= 0xFFFF
		d.bitSink(d.integrator > 0, confidence)
	}
}

// Framed preamble patterns, oldest bit in the highest position. Both the
// modern 8N1 and legacy 7E1 framings of 0xAB are accepted for sync.
const (
	preambleFrame8N1 = 0x1AB // 0 11010101 1, LSB-first data
	preambleFrame7E1 = 0x1A9 // 0 1101010 0 1, even parity
)

// byteAssembler turns the recovered bit stream into framed bytes and
// captures complete SAME messages. Sync is acquired on a framed preamble
// byte; an undecodable frame drops sync until the next preamble.
type byteAssembler struct {
	reg      uint16
	bitCount int
	synced   bool

	inMessage bool
	msg       []byte
	msgConf   []float64

	bits      uint64
	frames    uint64
	frameErrs uint64
	bytesOut  uint64

	onMessage func(raw string, bitConf []float64)
}

func newByteAssembler(onMessage func(string, []float64)) *byteAssembler {
	return &byteAssembler{
		msg:       make([]byte, 0, MaxMessageLen),
		onMessage: onMessage,
	}
}

func (a *byteAssembler) reset() {
	a.reg = 0
	a.bitCount = 0
	a.synced = false
	a.inMessage = false
	a.msg = a.msg[:0]
	a.msgConf = a.msgConf[:0]
}

func (a *byteAssembler) loseSync() {
	a.synced = false
	a.bitCount = 0
	a.inMessage = false
	a.msg = a.msg[:0]
	a.msgConf = a.msgConf[:0]
}

func (a *byteAssembler) pushBit(bit bool, confidence float64) {
	a.bits++
	a.reg <<= 1
	if bit {
		a.reg |= 1
	}
	a.reg &= 0x3FF

	if !a.synced {
		if a.reg == preambleFrame8N1 || a.reg == preambleFrame7E1 {
			a.synced = true
			a.bitCount = 0
		}
		return
	}

	if a.inMessage {
		a.msgConf = append(a.msgConf, confidence)
	}

	a.bitCount++
	if a.bitCount < 10 {
		return
	}
	a.bitCount = 0

	b, ok := decodeFrame(a.reg)
	a.frames++
	if !ok {
		a.frameErrs++
		a.loseSync()
		return
	}
	a.bytesOut++
	a.handleByte(b)
}

func (a *byteAssembler) handleByte(b byte) {
	switch {
	case b == PreambleByte:
		// Preamble continues; discard any partial capture.
		a.inMessage = false
		a.msg = a.msg[:0]
		a.msgConf = a.msgConf[:0]
	case b == '\r' || b == '\n':
		if a.inMessage {
			a.emit()
		}
	case !a.inMessage && (b == 'Z' || b == 'N'):
		a.inMessage = true
		a.msg = append(a.msg[:0], b)
		a.msgConf = a.msgConf[:0]
	case a.inMessage:
		a.msg = append(a.msg, b)
		if len(a.msg) >= MaxMessageLen {
			a.emit()
		}
	}
}

func (a *byteAssembler) emit() {
	raw := string(a.msg)
	a.inMessage = false
	a.msg = a.msg[:0]
	if strings.HasPrefix(raw, "ZCZC") || strings.HasPrefix(raw, "NNNN") {
		conf := make([]float64, len(a.msgConf))
		copy(conf, a.msgConf)
		a.onMessage(raw, conf)
	}
	a.msgConf = a.msgConf[:0]
}

// validPayloadByte reports whether b may appear in a SAME payload:
// printable ASCII, CR or LF.
func validPayloadByte(b byte) bool {
	return (b >= 32 && b <= 126) || b == '\r' || b == '\n'
}

// decodeFrame decodes a ten-bit character frame, trying 8N1 first and
// falling back to 7E1. A frame is accepted when start and stop bits are
// valid, parity holds (7E1), and the byte is a legal payload or preamble
// byte.
func decodeFrame(f uint16) (byte, bool) {
	if f&0x200 != 0 || f&1 != 1 {
		return 0, false
	}

	// 8N1: data bits LSB-first in positions 8..1.
	var v byte
	for i := 0; i < 8; i++ {
		if f&(1<<uint(8-i)) != 0 {
			v |= 1 << uint(i)
		}
	}
	if validPayloadByte(v) || v == PreambleByte {
		return v, true
	}

	// 7E1: data bits in positions 8..2, even parity in position 1. A 7E1
	// character with parity bit set reads as a high byte under 8N1, which
	// fails the payload test above and lands here.
	var w byte
	ones := 0
	for i := 0; i < 7; i++ {
		if f&(1<<uint(8-i)) != 0 {
			w |= 1 << uint(i)
			ones++
		}
	}
	parity := f&2 != 0
	if (ones%2 == 1) == parity && (validPayloadByte(w) || w == PreambleByte&0x7F) {
		return w, true
	}
	return 0, false
}

// demodulator couples the sample-level core with the byte assembler. Both
// the offline and streaming decoders are built on it.
type demodulator struct {
	core *demodCore
	asm  *byteAssembler
}

func newDemodulator(sampleRate int, onMessage func(raw string, bitConf []float64)) *demodulator {
	d := &demodulator{}
	d.asm = newByteAssembler(onMessage)
	d.core = newDemodCore(sampleRate, d.asm.pushBit)
	return d
}

func (d *demodulator) process(samples []float64) {
	for _, s := range samples {
		d.core.processSample(s)
	}
}

func (d *demodulator) reset() {
	d.core.reset()
	d.asm.reset()
}
