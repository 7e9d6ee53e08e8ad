package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/KR8MER/eas-station-sub002/same"
)

// AudioSource is the monitor's input abstraction. ReadAudio blocks until up
// to n mono float32 samples in [-1,1] at SampleRate are available. io.EOF
// means the source is exhausted; any other error means the source needs to
// be reopened.
type AudioSource interface {
	Name() string
	SampleRate() int
	ReadAudio(n int) ([]float32, error)
	Close() error
}

// WAVFileSource replays a recorded WAV file as if it were live audio,
// pacing reads to real time and optionally looping. Used for bench testing
// the full monitor pipeline against recorded activations.
type WAVFileSource struct {
	name       string
	sampleRate int
	samples    []float32
	pos        int
	loop       bool

	started time.Time
	served  int64
	sleep   func(time.Duration)
}

// NewWAVFileSource loads the file into memory up front; activation
// recordings are a few minutes of mono PCM at most.
func NewWAVFileSource(path string, loop bool) (*WAVFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", same.ErrInputMissing, path)
		}
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: %s has no audio format", same.ErrBadFraming, path)
	}

	ch := buf.Format.NumChannels
	scale := float32(int64(1) << (dec.BitDepth - 1))
	samples := make([]float32, 0, len(buf.Data)/ch)
	for i := 0; i+ch <= len(buf.Data); i += ch {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += float32(buf.Data[i+c]) / scale
		}
		samples = append(samples, sum/float32(ch))
	}

	return &WAVFileSource{
		name:       path,
		sampleRate: buf.Format.SampleRate,
		samples:    samples,
		loop:       loop,
		sleep:      time.Sleep,
	}, nil
}

func (s *WAVFileSource) Name() string    { return s.name }
func (s *WAVFileSource) SampleRate() int { return s.sampleRate }

// ReadAudio returns the next n samples, sleeping as needed so the file
// plays out at wall-clock speed.
func (s *WAVFileSource) ReadAudio(n int) ([]float32, error) {
	if s.pos >= len(s.samples) {
		if !s.loop {
			return nil, io.EOF
		}
		s.pos = 0
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}

	end := s.pos + n
	if end > len(s.samples) {
		end = len(s.samples)
	}
	out := make([]float32, end-s.pos)
	copy(out, s.samples[s.pos:end])
	s.pos = end
	s.served += int64(len(out))

	// Pace to real time: sleep off any lead over the wall clock.
	elapsed := time.Since(s.started)
	audioTime := time.Duration(s.served) * time.Second / time.Duration(s.sampleRate)
	if lead := audioTime - elapsed; lead > 0 {
		s.sleep(lead)
	}
	return out, nil
}

func (s *WAVFileSource) Close() error { return nil }

// HTTPStreamSource reads a continuous signed 16-bit little-endian mono PCM
// stream over HTTP, the format icecast relays and the ka9q-radio pcm
// endpoints emit.
type HTTPStreamSource struct {
	url        string
	sampleRate int
	resp       *http.Response
	body       io.Reader
	buf        []byte
}

// NewHTTPStreamSource opens the stream. The sample rate is declared in
// configuration; raw PCM carries no header to learn it from.
func NewHTTPStreamSource(url string, sampleRate int) (*HTTPStreamSource, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", same.ErrAudioUnavailable, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", same.ErrAudioUnavailable, url, resp.Status)
	}
	return &HTTPStreamSource{
		url:        url,
		sampleRate: sampleRate,
		resp:       resp,
		body:       resp.Body,
	}, nil
}

func (s *HTTPStreamSource) Name() string    { return s.url }
func (s *HTTPStreamSource) SampleRate() int { return s.sampleRate }

func (s *HTTPStreamSource) ReadAudio(n int) ([]float32, error) {
	need := n * 2
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	raw := s.buf[:need]
	read, err := io.ReadFull(s.body, raw)
	if read == 0 && err != nil {
		return nil, err
	}
	read -= read % 2
	out := make([]float32, read/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if len(out) > 0 {
		return out, nil
	}
	return nil, err
}

func (s *HTTPStreamSource) Close() error {
	if s.resp != nil {
		return s.resp.Body.Close()
	}
	return nil
}
