package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KR8MER/eas-station-sub002/same"
)

func TestBroadcastArchivesActivation(t *testing.T) {
	dir := t.TempDir()
	b, err := NewBroadcaster(16000, dir, "", "auto")
	require.NoError(t, err)
	b.now = func() time.Time {
		return time.Date(2026, 3, 11, 14, 31, 0, 0, time.UTC)
	}

	res, err := b.Broadcast(&BroadcastRequest{
		Originator: "WXR",
		EventCode:  "TOR",
		Locations:  []string{"39137", "039003"},
		Purge:      30 * time.Minute,
		Issue:      time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC),
		Station:    "KMRO/EAS",
	})
	require.NoError(t, err)

	assert.Equal(t, "ZCZC-WXR-TOR-039137-039003+0030-0701430-KMRO/EAS-", res.HeaderText)
	assert.Equal(t, filepath.Join(dir, "20260311_143100_WXR-TOR.wav"), res.ArchivePath)
	assert.Greater(t, res.Duration, 15*time.Second)

	// Sections appear in on-air order.
	assert.Equal(t, 0, res.Segments["headers"])
	assert.Greater(t, res.Segments["attention"], res.Segments["headers"])
	assert.Greater(t, res.Segments["eom"], res.Segments["attention"])
	_, hasNarration := res.Segments["narration"]
	assert.False(t, hasNarration)

	// The archived audio must decode back to the same activation.
	d := &same.Decoder{}
	decoded, err := d.DecodeFile(res.ArchivePath)
	require.NoError(t, err)
	var hdr *same.Header
	eom := false
	for _, h := range decoded.Headers {
		if h.EOM {
			eom = true
		} else {
			hdr = h
		}
	}
	require.NotNil(t, hdr)
	assert.Equal(t, res.HeaderText, hdr.Raw)
	assert.True(t, eom)
}

func TestBroadcastNarrationSegment(t *testing.T) {
	b, err := NewBroadcaster(16000, t.TempDir(), "", "auto")
	require.NoError(t, err)

	res, err := b.Broadcast(&BroadcastRequest{
		Originator: "EAS",
		EventCode:  "RWT",
		Locations:  []string{"039137"},
		Purge:      time.Hour,
		Issue:      time.Now().UTC(),
		Station:    "KMRO",
		Narration:  make([]int16, 16000*2),
	})
	require.NoError(t, err)
	narration, ok := res.Segments["narration"]
	require.True(t, ok)
	assert.Greater(t, narration, res.Segments["attention"])
	assert.Greater(t, res.Segments["eom"], narration)
}

func TestBroadcastRejectsBadRequest(t *testing.T) {
	b, err := NewBroadcaster(16000, "", "", "auto")
	require.NoError(t, err)

	_, err = b.Broadcast(&BroadcastRequest{
		Originator: "XXX",
		EventCode:  "TOR",
		Locations:  []string{"039137"},
		Purge:      time.Hour,
		Issue:      time.Now().UTC(),
		Station:    "KMRO",
	})
	assert.ErrorIs(t, err, same.ErrConfig)

	_, err = b.Broadcast(&BroadcastRequest{
		Originator: "EAS",
		EventCode:  "TOR",
		Locations:  []string{"no digits"},
		Purge:      time.Hour,
		Issue:      time.Now().UTC(),
		Station:    "KMRO",
	})
	assert.ErrorIs(t, err, same.ErrConfig)
}

func TestNewBroadcasterValidation(t *testing.T) {
	_, err := NewBroadcaster(0, "", "", "auto")
	assert.ErrorIs(t, err, same.ErrConfig)
	_, err = NewBroadcaster(16000, "", "", "chime")
	assert.ErrorIs(t, err, same.ErrConfig)
}
