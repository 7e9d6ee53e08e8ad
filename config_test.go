package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
station:
  callsign: KMRO
audio:
  source: http
  url: http://radio.local:8073/stream.pcm
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "KMRO", cfg.Station.Callsign)
	assert.Equal(t, "EAS", cfg.Station.Originator)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 12, cfg.Monitor.BufferSeconds)
	assert.Equal(t, 3*time.Second, cfg.Monitor.ScanInterval())
	assert.Equal(t, 2, cfg.Monitor.MaxConcurrentScans)
	assert.Equal(t, 30, cfg.Monitor.DuplicateCooldown)
	assert.Equal(t, DefaultPrefilterThreshold, cfg.Monitor.PrefilterThreshold)
	assert.Equal(t, 22050, cfg.Broadcast.SampleRate)
	assert.Equal(t, "data/broadcasts", cfg.Broadcast.ArchiveDir)
	assert.Equal(t, "eas", cfg.MQTT.TopicPrefix)
	assert.Equal(t, "KMRO", cfg.MQTT.Station)
	assert.Equal(t, "data/audit.db", cfg.Audit.Path)
	assert.Equal(t, 9600, cfg.LEDSign.Baud)
	assert.Equal(t, ":8090", cfg.Server.Listen)
}

func TestLoadConfigPinDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
gpio:
  enabled: true
  pins:
    - name: siren
      line: 17
`))
	require.NoError(t, err)
	require.Len(t, cfg.GPIO.Pins, 1)
	p := cfg.GPIO.Pins[0]
	assert.Equal(t, "gpiochip0", p.Chip)
	assert.Equal(t, 50, p.DebounceMS)
	assert.Equal(t, 5, p.HoldSeconds)
	assert.Equal(t, 300, p.WatchdogSeconds)
}

func TestLoadConfigRejections(t *testing.T) {
	cases := map[string]string{
		"missing callsign": `
audio:
  source: http
  url: http://x/stream
`,
		"long callsign": `
station:
  callsign: TOOLONGCALL
audio:
  source: http
  url: http://x/stream
`,
		"bad originator": `
station:
  callsign: KMRO
  originator: XYZ
audio:
  source: http
  url: http://x/stream
`,
		"bad fips": `
station:
  callsign: KMRO
  fips_codes: ["not a code"]
audio:
  source: http
  url: http://x/stream
`,
		"http without url": `
station:
  callsign: KMRO
audio:
  source: http
`,
		"wav without path": `
station:
  callsign: KMRO
audio:
  source: wav
`,
		"unknown source": `
station:
  callsign: KMRO
audio:
  source: alsa
`,
		"sample rate too low": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
  sample_rate: 4000
`,
		"buffer too small": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
monitor:
  buffer_seconds: 5
`,
		"too many scan workers": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
monitor:
  max_concurrent_scans: 99
`,
		"mqtt without broker": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
mqtt:
  enabled: true
`,
		"bad led sign mode": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
led_sign:
  enabled: true
  mode: usb
  device: /dev/ttyUSB0
`,
		"nameless gpio pin": `
station:
  callsign: KMRO
audio:
  source: http
  url: http://x/stream
gpio:
  enabled: true
  pins:
    - line: 17
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
