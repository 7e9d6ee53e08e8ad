package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/KR8MER/eas-station-sub002/same"
)

// Attention tone frequencies. The two-tone pair is the legacy EBS
// attention signal; 1050 Hz is the NOAA Weather Radio alarm used when the
// originator is WXR.
const (
	AttentionToneLow  = 853.0
	AttentionToneHigh = 960.0
	AttentionToneNWS  = 1050.0

	attentionToneSeconds = 8.0
	broadcastAmplitude   = 20000
)

// BroadcastRequest describes one complete activation to render.
type BroadcastRequest struct {
	Originator string
	EventCode  string
	Locations  []string
	Purge      time.Duration
	Issue      time.Time
	Station    string

	// Narration is optional voice audio at the broadcaster sample rate,
	// inserted between the attention tone and the EOM bursts.
	Narration []int16

	// Play sends the rendered audio to the local sound device as well as
	// the archive.
	Play bool
}

// BroadcastResult reports what was rendered and where it went.
type BroadcastResult struct {
	ArchivePath string
	Duration    time.Duration
	HeaderText  string
	// Segments maps section name to starting sample offset.
	Segments map[string]int
}

// Broadcaster renders complete SAME activations: three header bursts, the
// attention tone, optional narration, and three EOM bursts. One broadcast
// runs at a time; an EAS activation must never overlap itself on air.
type Broadcaster struct {
	mu sync.Mutex

	sampleRate int
	archiveDir string
	playerPath string
	// tone overrides the per-originator attention tone choice: "ebs",
	// "nws", or "auto"/"" to decide from the header.
	tone string
	now  func() time.Time
}

// NewBroadcaster validates the archive directory up front so a
// misconfigured path fails at startup, not mid-alert.
func NewBroadcaster(sampleRate int, archiveDir, playerPath, attentionTone string) (*Broadcaster, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: broadcast sample rate %d", same.ErrConfig, sampleRate)
	}
	switch attentionTone {
	case "", "auto", "ebs", "nws":
	default:
		return nil, fmt.Errorf("%w: attention tone %q (want auto, ebs or nws)", same.ErrConfig, attentionTone)
	}
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating archive dir %s: %v", same.ErrStorage, archiveDir, err)
		}
	}
	log.Printf("[Broadcast] encoder ready: %d Hz, 8N1 framing, attention tone %s", sampleRate, toneLabel(attentionTone))
	return &Broadcaster{
		sampleRate: sampleRate,
		archiveDir: archiveDir,
		playerPath: playerPath,
		tone:       attentionTone,
		now:        time.Now,
	}, nil
}

func toneLabel(tone string) string {
	if tone == "" {
		return "auto"
	}
	return tone
}

// Broadcast renders and archives one activation. Blocks until rendering
// and playback complete.
func (b *Broadcaster) Broadcast(req *BroadcastRequest) (*BroadcastResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	locs := make([]string, 0, len(req.Locations))
	for _, code := range req.Locations {
		n, err := NormalizeFIPS(code)
		if err != nil {
			return nil, err
		}
		locs = append(locs, n)
	}
	headerText, err := same.FormatHeader(req.Originator, req.EventCode, locs, req.Purge, req.Issue, req.Station)
	if err != nil {
		return nil, err
	}

	mod := same.NewModulator(b.sampleRate)
	segments := make(map[string]int)
	var pcm []int16

	segments["headers"] = 0
	pcm = append(pcm, mod.RenderMessage(headerText)...)

	segments["attention"] = len(pcm)
	pcm = append(pcm, b.renderAttentionTone(req.Originator, req.EventCode)...)
	pcm = append(pcm, mod.Silence(1.0)...)

	if len(req.Narration) > 0 {
		segments["narration"] = len(pcm)
		pcm = append(pcm, req.Narration...)
		pcm = append(pcm, mod.Silence(1.0)...)
	}

	segments["eom"] = len(pcm)
	pcm = append(pcm, mod.RenderMessage(same.EOMText)...)

	result := &BroadcastResult{
		HeaderText: headerText,
		Duration:   time.Duration(len(pcm)) * time.Second / time.Duration(b.sampleRate),
		Segments:   segments,
	}

	if b.archiveDir != "" {
		path, err := b.archive(req, pcm)
		if err != nil {
			return nil, err
		}
		result.ArchivePath = path
	}

	if req.Play {
		if err := b.play(pcm); err != nil {
			return result, err
		}
	}

	log.Printf("[Broadcast] %s-%s rendered, %v, archived to %s",
		req.Originator, req.EventCode, result.Duration.Round(time.Millisecond), result.ArchivePath)
	return result, nil
}

// renderAttentionTone produces eight seconds of the attention signal
// appropriate for the originator: the 1050 Hz NWS alarm for WXR, the
// 853+960 Hz EBS pair otherwise.
func (b *Broadcaster) renderAttentionTone(originator, event string) []int16 {
	n := int(attentionToneSeconds * float64(b.sampleRate))
	out := make([]int16, n)
	kind := same.TonePolicy(originator, event)
	switch b.tone {
	case "ebs":
		kind = same.ToneEBS
	case "nws":
		kind = same.ToneNWS
	}
	switch kind {
	case same.ToneNWS:
		for i := range out {
			t := float64(i) / float64(b.sampleRate)
			out[i] = int16(broadcastAmplitude * math.Sin(2*math.Pi*AttentionToneNWS*t))
		}
	default:
		// Each tone at half amplitude so the sum stays in range.
		for i := range out {
			t := float64(i) / float64(b.sampleRate)
			v := 0.5*math.Sin(2*math.Pi*AttentionToneLow*t) + 0.5*math.Sin(2*math.Pi*AttentionToneHigh*t)
			out[i] = int16(broadcastAmplitude * v)
		}
	}
	return out
}

// archive writes the rendered activation as 16-bit mono WAV named
// YYYYMMDD_HHMMSS_<ORIG>-<EVENT>.wav in UTC.
func (b *Broadcaster) archive(req *BroadcastRequest, pcm []int16) (string, error) {
	name := fmt.Sprintf("%s_%s-%s.wav", b.now().UTC().Format("20060102_150405"), req.Originator, req.EventCode)
	path := filepath.Join(b.archiveDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: creating archive %s: %v", same.ErrStorage, path, err)
	}
	enc := wav.NewEncoder(f, b.sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: b.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(pcm)),
	}
	for i, s := range pcm {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return "", fmt.Errorf("%w: writing archive %s: %v", same.ErrStorage, path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: finalizing archive %s: %v", same.ErrStorage, path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: closing archive %s: %v", same.ErrStorage, path, err)
	}
	return path, nil
}

// play shells out to the configured player (aplay by default) feeding raw
// PCM on stdin.
func (b *Broadcaster) play(pcm []int16) error {
	player := b.playerPath
	if player == "" {
		player = "aplay"
	}
	bin, err := exec.LookPath(player)
	if err != nil {
		return fmt.Errorf("%w: audio player %q not found", same.ErrAudioUnavailable, player)
	}
	cmd := exec.Command(bin, "-q", "-f", "S16_LE", "-c", "1", "-r", fmt.Sprint(b.sampleRate), "-t", "raw", "-")
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		raw[i*2] = byte(s)
		raw[i*2+1] = byte(s >> 8)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", same.ErrAudioUnavailable, player, err)
	}
	if _, err := stdin.Write(raw); err != nil {
		stdin.Close()
		cmd.Wait()
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
