package same

import (
	"sync"
	"time"
)

// MessageCallback receives each completed SAME message from the streaming
// decoder: raw header text, headline confidence, the wall-clock time of
// completion and the per-bit confidence history of the message.
type MessageCallback func(raw string, confidence float64, ts time.Time, bitConfidence []float64)

// StreamingStats is a snapshot of streaming decoder counters.
type StreamingStats struct {
	SamplesProcessed uint64 `json:"samples_processed"`
	BitsDecoded      uint64 `json:"bits_decoded"`
	BytesDecoded     uint64 `json:"bytes_decoded"`
	FrameErrors      uint64 `json:"frame_errors"`
	MessagesDetected uint64 `json:"messages_detected"`
	Synced           bool   `json:"synced"`
}

// StreamingDecoder is the stateful online variant of the offline decoder's
// primary path: the same correlation + DLL state machine, fed sample by
// sample from a live audio stream. One goroutine feeds ProcessSamples;
// Stats and Reset may be called concurrently from others (a status server,
// a watchdog). It never mutates the caller's sample buffers.
type StreamingDecoder struct {
	mu       sync.Mutex // guards dm state and messages
	dm       *demodulator
	callback MessageCallback

	messages uint64
	now      func() time.Time // injectable clock for tests
}

// NewStreamingDecoder creates a streaming decoder for the given rate.
func NewStreamingDecoder(sampleRate int, cb MessageCallback) *StreamingDecoder {
	s := &StreamingDecoder{callback: cb, now: time.Now}
	s.dm = newDemodulator(sampleRate, s.onMessage)
	return s
}

func (s *StreamingDecoder) onMessage(raw string, bitConf []float64) {
	s.messages++
	if s.callback == nil {
		return
	}
	var sum float64
	for _, c := range bitConf {
		sum += c
	}
	confidence := 0.0
	if len(bitConf) > 0 {
		confidence = sum / float64(len(bitConf))
	}
	if confidence > 1 {
		confidence = 1
	}
	s.callback(raw, confidence, s.now().UTC(), bitConf)
}

// ProcessSamples consumes a block of mono float samples in [-1, 1].
// Completed messages are delivered to the callback on this goroutine with
// the decoder lock held; the callback must not call back into the decoder.
func (s *StreamingDecoder) ProcessSamples(chunk []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range chunk {
		s.dm.core.processSample(float64(v))
	}
}

// Reset clears all demodulator registers and counters; the next message
// requires a fresh preamble sync. Safe against a concurrent ProcessSamples.
func (s *StreamingDecoder) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dm.reset()
	s.messages = 0
}

// Stats returns a snapshot of the decoder counters.
func (s *StreamingDecoder) Stats() StreamingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamingStats{
		SamplesProcessed: s.dm.core.samplesIn,
		BitsDecoded:      s.dm.asm.bits,
		BytesDecoded:     s.dm.asm.bytesOut,
		FrameErrors:      s.dm.asm.frameErrs,
		MessagesDetected: s.messages,
		Synced:           s.dm.asm.synced,
	}
}
