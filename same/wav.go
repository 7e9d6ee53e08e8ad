package same

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Minimal RIFF/WAVE handling for in-memory decode buffers and scan
// snapshots. Archive files written to disk go through go-audio/wav in the
// station layer; this exists so the decoder can accept a reader and so
// snapshots never have to touch the filesystem.

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV renders mono 16-bit PCM samples as a complete WAV byte slice.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	buf := bytes.NewBuffer(make([]byte, 0, int(dataSize)+44))
	binary.Write(buf, binary.LittleEndian, &h)
	binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// DecodeWAV parses 16-bit PCM WAV data from a reader, downmixing to mono
// float64 in [-1, 1]. It walks RIFF chunks so extra chunks (LIST, fact)
// written by other tools are tolerated.
func DecodeWAV(r io.Reader) (samples []float64, sampleRate int, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrBadFraming)
	}

	var channels, bits int
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			fmtData := make([]byte, size)
			if _, err := io.ReadFull(r, fmtData); err != nil {
				return nil, 0, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(fmtData) < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrBadFraming)
			}
			audioFormat := binary.LittleEndian.Uint16(fmtData[0:2])
			if audioFormat != 1 {
				return nil, 0, fmt.Errorf("%w: unsupported WAV format %d (need PCM)", ErrAudioUnavailable, audioFormat)
			}
			channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrAudioUnavailable, bits)
			}
			if channels < 1 || channels > 2 {
				return nil, 0, fmt.Errorf("%w: unsupported channel count %d", ErrAudioUnavailable, channels)
			}
		case "data":
			if sampleRate == 0 {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrBadFraming)
			}
			raw := make([]byte, size)
			n, err := io.ReadFull(r, raw)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("reading data chunk: %w", err)
			}
			raw = raw[:n&^1]
			frameBytes := 2 * channels
			frames := len(raw) / frameBytes
			samples = make([]float64, frames)
			for i := 0; i < frames; i++ {
				var acc float64
				for c := 0; c < channels; c++ {
					s := int16(binary.LittleEndian.Uint16(raw[i*frameBytes+c*2:]))
					acc += float64(s)
				}
				samples[i] = acc / float64(channels) / 32768.0
			}
			return samples, sampleRate, nil
		default:
			// Skip unknown chunks (word aligned).
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("skipping %s chunk: %w", id, err)
			}
		}
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrBadFraming)
}

// Float32ToPCM converts a float32 snapshot to 16-bit PCM with clipping.
func Float32ToPCM(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
