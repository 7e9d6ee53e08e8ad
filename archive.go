package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KR8MER/eas-station-sub002/same"
)

// snapshotArchiver writes the ring snapshot that produced a decoded header
// to disk, named like the broadcast archives so recordings from both
// directions sort together.
type snapshotArchiver struct {
	dir        string
	sampleRate int
	now        func() time.Time
}

func (a *snapshotArchiver) save(snapshot []float32, hdr *same.Header) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating %s: %v", same.ErrStorage, a.dir, err)
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	name := fmt.Sprintf("%s_%s-%s_rx.wav", now().UTC().Format("20060102_150405"), hdr.Originator, hdr.Event)
	path := filepath.Join(a.dir, name)
	data := same.EncodeWAV(same.Float32ToPCM(snapshot), a.sampleRate)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", same.ErrStorage, path, err)
	}
	return path, nil
}
