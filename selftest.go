package main

import (
	"fmt"
	"log"
	"time"

	"github.com/KR8MER/eas-station-sub002/same"
)

// SelfTestResult is the outcome of running one recording through the full
// offline pipeline: decode, signature, duplicate check, FIPS match.
type SelfTestResult struct {
	File       string        `json:"file"`
	Status     string        `json:"status"` // forwarded, filtered, duplicate_suppressed, decode_error
	Raw        string        `json:"raw,omitempty"`
	Event      string        `json:"event,omitempty"`
	Confidence float64       `json:"confidence"`
	Matched    []string      `json:"matched_fips,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Err        string        `json:"error,omitempty"`
}

// SelfTester exercises the decode and disposition pipeline against
// recorded activations without touching audio hardware or GPIO. The
// duplicate cache is shared across the run, so feeding the same recording
// twice demonstrates suppression.
type SelfTester struct {
	decoder        *same.Decoder
	dedupe         *DuplicateCache
	configuredFIPS []string
}

// NewSelfTester builds a tester with the station's configured FIPS codes.
func NewSelfTester(configuredFIPS []string, ffmpegPath string) *SelfTester {
	return &SelfTester{
		decoder:        &same.Decoder{FIPSLookup: FIPSDescriptions(), FFmpegPath: ffmpegPath},
		dedupe:         NewDuplicateCache(0),
		configuredFIPS: configuredFIPS,
	}
}

// RunFile pushes one recording through the pipeline.
func (t *SelfTester) RunFile(path string) SelfTestResult {
	start := time.Now()
	res := SelfTestResult{File: path}

	decoded, err := t.decoder.DecodeFile(path)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Status = "decode_error"
		res.Err = err.Error()
		return res
	}
	var hdr *same.Header
	for _, h := range decoded.Headers {
		if !h.EOM {
			hdr = h
			break
		}
	}
	if hdr == nil {
		res.Status = "decode_error"
		res.Err = "no SAME header found"
		return res
	}

	res.Raw = hdr.Raw
	res.Event = hdr.EventDescription()
	res.Confidence = decoded.Confidence()

	if t.dedupe.CheckAndInsert(same.Signature(hdr.Raw)) {
		res.Status = "duplicate_suppressed"
		return res
	}

	matched, err := MatchFIPS(hdr.LocationCodes(), t.configuredFIPS)
	if err != nil {
		res.Status = "decode_error"
		res.Err = err.Error()
		return res
	}
	res.Matched = matched
	if len(t.configuredFIPS) > 0 && len(matched) == 0 {
		res.Status = "filtered"
		return res
	}
	res.Status = "forwarded"
	return res
}

// Run processes every file and logs a one-line verdict each, returning the
// full results and whether everything decoded.
func (t *SelfTester) Run(files []string) ([]SelfTestResult, bool) {
	ok := true
	results := make([]SelfTestResult, 0, len(files))
	for _, f := range files {
		r := t.RunFile(f)
		results = append(results, r)
		switch r.Status {
		case "decode_error":
			ok = false
			log.Printf("[SelfTest] %s: DECODE ERROR (%s)", f, r.Err)
		case "forwarded":
			log.Printf("[SelfTest] %s: %s conf=%.2f matched=%v (%v)",
				f, r.Event, r.Confidence, r.Matched, r.Elapsed.Round(time.Millisecond))
		default:
			log.Printf("[SelfTest] %s: %s (%s)", f, r.Status, r.Raw)
		}
	}
	return results, ok
}

// SelfTestSynthetic renders a known header with the encoder and decodes it
// back, verifying the codec end to end with no external files. Returns an
// error describing the first mismatch.
func SelfTestSynthetic() error {
	issue := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)
	text, err := same.FormatHeader("WXR", "TOR", []string{"039137", "039003"}, 30*time.Minute, issue, "KMRO/EAS")
	if err != nil {
		return err
	}

	mod := same.NewModulator(same.PreferredDecodeRate)
	pcm := mod.RenderMessage(text)
	pcm = append(pcm, mod.Silence(1.0)...)
	pcm = append(pcm, mod.RenderMessage(same.EOMText)...)

	samples := make([]float64, len(pcm))
	for i, s := range pcm {
		samples[i] = float64(s) / 32768.0
	}
	dec := &same.Decoder{FIPSLookup: FIPSDescriptions()}
	result := dec.DecodeSamples(samples, same.PreferredDecodeRate)

	var got *same.Header
	eom := false
	for _, h := range result.Headers {
		if h.EOM {
			eom = true
		} else {
			got = h
		}
	}
	if got == nil {
		return fmt.Errorf("synthetic loopback decoded no header")
	}
	if got.Raw != text {
		return fmt.Errorf("synthetic loopback mismatch: sent %q got %q", text, got.Raw)
	}
	if !eom {
		return fmt.Errorf("synthetic loopback missed EOM")
	}
	if c := result.Confidence(); c < 0.9 {
		return fmt.Errorf("synthetic loopback confidence %.2f below 0.9", c)
	}
	log.Printf("[SelfTest] synthetic loopback ok: %s conf=%.2f", got.Raw, result.Confidence())
	return nil
}
