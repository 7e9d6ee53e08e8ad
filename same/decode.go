package same

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// DecodeResult is the outcome of decoding one audio buffer.
type DecodeResult struct {
	RawText     string    `json:"raw_text"`
	Headers     []*Header `json:"headers"`
	BitCount    uint64    `json:"bit_count"`
	FrameCount  uint64    `json:"frame_count"`
	FrameErrors uint64    `json:"frame_errors"`
	Duration    float64   `json:"duration_seconds"`
	SampleRate  int       `json:"sample_rate"`

	MeanBitConfidence float64 `json:"mean_bit_confidence"`
	MinBitConfidence  float64 `json:"min_bit_confidence"`

	// Segments maps segment names (preamble, header, attention_tone,
	// eom) to approximate sample offsets, when located.
	Segments map[string]int `json:"segments,omitempty"`
}

// Confidence returns the headline confidence for the decode, which is the
// mean per-bit confidence bounded to [0, 1].
func (r *DecodeResult) Confidence() float64 {
	c := r.MeanBitConfidence
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// PreferredDecodeRate is the sample rate file decodes are resampled to when
// an external resampler is available.
const PreferredDecodeRate = 22050

// Decoder decodes SAME messages from captured audio. The zero value is
// usable; FIPSLookup adds location descriptions to parsed headers and
// FFmpegPath overrides the resampler binary name.
type Decoder struct {
	FIPSLookup map[string]string
	FFmpegPath string
}

func (d *Decoder) ffmpeg() string {
	if d.FFmpegPath != "" {
		return d.FFmpegPath
	}
	return "ffmpeg"
}

// DecodeFile decodes a WAV or compressed audio file. WAV files are read
// natively at their own rate; anything else (or a rate conversion request)
// goes through ffmpeg. A missing file maps to ErrInputMissing, a missing
// ffmpeg for a non-WAV input to ErrAudioUnavailable.
func (d *Decoder) DecodeFile(path string) (*DecodeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, path)
	}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInputMissing, path, err)
		}
		defer f.Close()
		samples, rate, err := DecodeWAV(f)
		if err == nil {
			return d.DecodeSamples(samples, rate), nil
		}
		// Fall through to ffmpeg for WAVs we cannot parse natively
		// (compressed codecs inside a RIFF container).
	}

	samples, err := d.resampleWithFFmpeg(path, PreferredDecodeRate)
	if err != nil {
		return nil, err
	}
	return d.DecodeSamples(samples, PreferredDecodeRate), nil
}

// resampleWithFFmpeg shells out to ffmpeg for decode + resample to mono
// s16le at the requested rate, reading the result from stdout.
func (d *Decoder) resampleWithFFmpeg(path string, rate int) ([]float64, error) {
	bin, err := exec.LookPath(d.ffmpeg())
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found and input requires conversion", ErrAudioUnavailable)
	}

	cmd := exec.Command(bin,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-f", "s16le", "-ac", "1", "-ar", fmt.Sprintf("%d", rate),
		"-")
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg failed: %v (%s)", ErrAudioUnavailable, err, strings.TrimSpace(errBuf.String()))
	}

	raw := out.Bytes()
	samples := make([]float64, len(raw)/2)
	for i := range samples {
		s := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		samples[i] = float64(s) / 32768.0
	}
	return samples, nil
}

// DecodeReader decodes a WAV stream. The reader is consumed fully.
func (d *Decoder) DecodeReader(r io.Reader) (*DecodeResult, error) {
	samples, rate, err := DecodeWAV(r)
	if err != nil {
		return nil, err
	}
	return d.DecodeSamples(samples, rate), nil
}

// decodedMessage is one complete message captured by either decode path.
type decodedMessage struct {
	raw  string
	conf []float64
	end  uint64 // sample offset where the message completed
}

// DecodeSamples runs the full offline decode: correlation + DLL primary
// path with two-of-three burst voting, then the Goertzel fallback with a
// baud sweep when the primary path finds nothing. A buffer with no
// detectable bursts yields a result with zero headers and no error.
func (d *Decoder) DecodeSamples(samples []float64, sampleRate int) *DecodeResult {
	result := &DecodeResult{
		SampleRate: sampleRate,
		Duration:   float64(len(samples)) / float64(sampleRate),
	}
	if len(samples) == 0 || sampleRate <= 0 {
		return result
	}

	var msgs []decodedMessage
	var core *demodCore
	dm := newDemodulator(sampleRate, func(raw string, conf []float64) {
		msgs = append(msgs, decodedMessage{raw: raw, conf: conf, end: core.samplesIn})
	})
	core = dm.core
	dm.process(samples)

	result.BitCount = dm.asm.bits
	result.FrameCount = dm.asm.frames
	result.FrameErrors = dm.asm.frameErrs

	if len(msgs) == 0 {
		var gBits, gFrames, gErrs uint64
		msgs, gBits, gFrames, gErrs = d.goertzelFallback(samples, sampleRate)
		result.BitCount += gBits
		result.FrameCount += gFrames
		result.FrameErrors += gErrs
	}
	if len(msgs) == 0 {
		return result
	}

	d.assemble(result, msgs, sampleRate)
	return result
}

// assemble votes bursts, parses headers and fills confidences and segments.
func (d *Decoder) assemble(result *DecodeResult, msgs []decodedMessage, sampleRate int) {
	var zczc, eom []decodedMessage
	for _, m := range msgs {
		if strings.HasPrefix(m.raw, "NNNN") {
			eom = append(eom, m)
		} else {
			zczc = append(zczc, m)
		}
	}

	var texts []string
	if len(zczc) > 0 {
		voted := voteMessages(zczc)
		texts = append(texts, voted)
		if h, err := ParseHeader(voted, d.FIPSLookup); err == nil {
			result.Headers = append(result.Headers, h)
		} else if len(zczc) > 1 {
			// Voting produced garbage; try the individual bursts.
			for _, m := range zczc {
				if h, err := ParseHeader(m.raw, d.FIPSLookup); err == nil {
					result.Headers = append(result.Headers, h)
					texts[0] = m.raw
					break
				}
			}
		}
	}
	if len(eom) > 0 {
		texts = append(texts, "NNNN")
		result.Headers = append(result.Headers, &Header{Raw: "NNNN", EOM: true})
	}
	result.RawText = strings.Join(texts, "\n")

	// Per-bit confidence stats across all captured bursts.
	var sum float64
	var n int
	min := 1.0
	for _, m := range msgs {
		for _, c := range m.conf {
			sum += c
			n++
			if c < min {
				min = c
			}
		}
	}
	if n > 0 {
		result.MeanBitConfidence = sum / float64(n)
		result.MinBitConfidence = min
		for i := range result.Headers {
			if !result.Headers[i].EOM {
				result.Headers[i].Confidence = result.Confidence()
			}
		}
	}

	result.Segments = d.locateSegments(msgs, zczc, eom, sampleRate)
}

// locateSegments derives approximate sample offsets for the message parts.
// Burst starts are estimated by backing off the framed message length from
// the completion offset.
func (d *Decoder) locateSegments(msgs, zczc, eom []decodedMessage, sampleRate int) map[string]int {
	segments := make(map[string]int)
	burstSamples := func(m decodedMessage) int {
		bitsPer := (PreambleCount + len(m.raw) + 1) * 10
		return int(float64(bitsPer) * float64(sampleRate) / BaudRate)
	}
	if len(zczc) > 0 {
		start := int(zczc[0].end) - burstSamples(zczc[0])
		if start < 0 {
			start = 0
		}
		segments["preamble"] = start
		segments["header"] = start + int(float64(PreambleCount*10)*float64(sampleRate)/BaudRate)
	}
	if len(eom) > 0 {
		start := int(eom[0].end) - burstSamples(eom[0])
		if start < 0 {
			start = 0
		}
		segments["eom"] = start
	}
	return segments
}

// voteMessages applies two-of-three (or better) majority voting across
// repeated bursts of the same message: if any text repeats, it wins;
// otherwise bytes are voted positionally over bursts of the modal length.
func voteMessages(msgs []decodedMessage) string {
	if len(msgs) == 1 {
		return msgs[0].raw
	}

	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.raw]++
	}
	best, bestN := "", 0
	for text, n := range counts {
		if n > bestN || (n == bestN && text < best) {
			best, bestN = text, n
		}
	}
	if bestN >= 2 {
		return best
	}

	// No two bursts agree verbatim; vote byte-by-byte over the modal
	// length group.
	lengths := make(map[int]int)
	for _, m := range msgs {
		lengths[len(m.raw)]++
	}
	modal, modalN := 0, 0
	for l, n := range lengths {
		if n > modalN || (n == modalN && l > modal) {
			modal, modalN = l, n
		}
	}
	var group []string
	for _, m := range msgs {
		if len(m.raw) == modal {
			group = append(group, m.raw)
		}
	}
	if len(group) == 1 {
		return group[0]
	}

	out := make([]byte, modal)
	for i := 0; i < modal; i++ {
		tally := make(map[byte]int)
		for _, text := range group {
			tally[text[i]]++
		}
		var keys []byte
		for b := range tally {
			keys = append(keys, b)
		}
		sort.Slice(keys, func(a, b int) bool {
			if tally[keys[a]] != tally[keys[b]] {
				return tally[keys[a]] > tally[keys[b]]
			}
			return keys[a] < keys[b]
		})
		out[i] = keys[0]
	}
	return string(out)
}

// Baud sweep factors for the Goertzel fallback, per side: 0.5% to 4% in
// eight steps.
var baudSweep = []float64{0.005, -0.005, 0.01, -0.01, 0.02, -0.02, 0.04, -0.04}

// goertzelFallback slices the audio into bit-length windows and decides
// each bit by Goertzel mark/space power, then frame-scans the bit stream.
// If the base baud yields no header it sweeps the baud rate and keeps the
// candidate scoring highest by frames - 2*frameErrors + 500*headers.
func (d *Decoder) goertzelFallback(samples []float64, sampleRate int) (msgs []decodedMessage, bits, frames, frameErrs uint64) {
	type candidate struct {
		msgs   []decodedMessage
		bits   uint64
		frames uint64
		errs   uint64
		score  int64
	}

	run := func(baud float64) candidate {
		var c candidate
		asm := newByteAssembler(func(raw string, conf []float64) {
			c.msgs = append(c.msgs, decodedMessage{raw: raw, conf: conf})
		})
		samplesPerBit := float64(sampleRate) / baud
		var pos, frac float64
		for pos+samplesPerBit <= float64(len(samples)) {
			exact := samplesPerBit + frac
			n := int(exact)
			frac = exact - float64(n)
			start := int(pos)
			end := start + n
			if end > len(samples) {
				break
			}
			bit, conf := goertzelBit(samples[start:end], sampleRate)
			asm.pushBit(bit, conf)
			pos += float64(n)
		}
		c.bits = asm.bits
		c.frames = asm.frames
		c.errs = asm.frameErrs
		headers := 0
		for _, m := range c.msgs {
			if ValidateHeaderText(m.raw) == nil {
				headers++
			}
		}
		c.score = int64(c.frames) - 2*int64(c.errs) + 500*int64(headers)
		return c
	}

	best := run(BaudRate)
	if len(best.msgs) == 0 {
		for _, f := range baudSweep {
			c := run(BaudRate * (1 + f))
			if c.score > best.score {
				best = c
			}
		}
	}
	return best.msgs, best.bits, best.frames, best.errs
}
