package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Station   StationConfig   `yaml:"station"`
	Audio     AudioConfig     `yaml:"audio"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Audit     AuditConfig     `yaml:"audit"`
	LEDSign   LEDSignConfig   `yaml:"led_sign"`
	Server    ServerConfig    `yaml:"server"`
}

// StationConfig identifies this station and its coverage area.
type StationConfig struct {
	// Callsign goes into the LLLLLLLL field of outgoing headers, padded
	// to eight characters.
	Callsign string `yaml:"callsign"`
	// Originator for outgoing activations: EAS, WXR, CIV, PEP or EAN.
	Originator string `yaml:"originator"`
	// FIPS codes this station serves; alerts covering none of them are
	// logged and dropped. Empty means forward everything.
	FIPSCodes []string `yaml:"fips_codes"`
}

// AudioConfig selects and shapes the monitored input.
type AudioConfig struct {
	// Source is "http" for a raw PCM stream or "wav" for a recording
	// replayed in a loop (bench setups).
	Source string `yaml:"source"`
	// URL of the s16le PCM stream when source is http.
	URL string `yaml:"url"`
	// Path of the WAV file when source is wav.
	Path string `yaml:"path"`
	// Loop replays the WAV file forever instead of stopping at EOF.
	Loop bool `yaml:"loop"`
	// SampleRate of the monitored stream in Hz.
	SampleRate int `yaml:"sample_rate"`
	// FFmpegPath overrides the ffmpeg binary used to resample non-WAV
	// recordings for self-test runs.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// MonitorConfig tunes the always-on pipeline.
type MonitorConfig struct {
	BufferSeconds      int     `yaml:"buffer_seconds"`
	ScanIntervalSec    float64 `yaml:"scan_interval"`
	MaxConcurrentScans int     `yaml:"max_concurrent_scans"`
	DuplicateCooldown  int     `yaml:"duplicate_cooldown"`
	WatchdogSeconds    int     `yaml:"watchdog_seconds"`
	PrefilterThreshold float64 `yaml:"prefilter_threshold"`
	// SaveDir archives the audio behind each decoded alert, duplicates
	// and filtered alerts included.
	SaveDir string `yaml:"save_dir"`
}

// BroadcastConfig shapes outgoing activations.
type BroadcastConfig struct {
	SampleRate int    `yaml:"sample_rate"`
	ArchiveDir string `yaml:"archive_dir"`
	// Player is the command fed raw PCM for local playback; empty
	// disables playback and the activation is archive-only.
	Player string `yaml:"player"`
	Play   bool   `yaml:"play"`
	// AttentionTone selects the tone after the header bursts: "auto"
	// picks by originator, "ebs" forces the 853+960 Hz pair, "nws" the
	// single 1050 Hz tone.
	AttentionTone string `yaml:"attention_tone"`
}

// GPIOConfig lists the relay outputs.
type GPIOConfig struct {
	Enabled bool            `yaml:"enabled"`
	Pins    []GPIOPinConfig `yaml:"pins"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Station     string        `yaml:"station"`
	TLS         MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS settings for MQTT connections.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// AuditConfig selects the audit database.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LEDSignConfig drives the studio message sign.
type LEDSignConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // serial or tcp
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
}

// ServerConfig contains the status/metrics HTTP listener.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoadConfig reads, parses, defaults and validates the configuration.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Station.Originator == "" {
		c.Station.Originator = "EAS"
	}
	if c.Audio.Source == "" {
		c.Audio.Source = "http"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Monitor.BufferSeconds == 0 {
		c.Monitor.BufferSeconds = 12
	}
	if c.Monitor.ScanIntervalSec == 0 {
		c.Monitor.ScanIntervalSec = 3
	}
	if c.Monitor.MaxConcurrentScans == 0 {
		c.Monitor.MaxConcurrentScans = 2
	}
	if c.Monitor.DuplicateCooldown == 0 {
		c.Monitor.DuplicateCooldown = 30
	}
	if c.Monitor.WatchdogSeconds == 0 {
		c.Monitor.WatchdogSeconds = 60
	}
	if c.Monitor.PrefilterThreshold == 0 {
		c.Monitor.PrefilterThreshold = DefaultPrefilterThreshold
	}
	if c.Broadcast.SampleRate == 0 {
		c.Broadcast.SampleRate = 22050
	}
	if c.Broadcast.ArchiveDir == "" {
		c.Broadcast.ArchiveDir = "data/broadcasts"
	}
	if c.Broadcast.AttentionTone == "" {
		c.Broadcast.AttentionTone = "auto"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "eas"
	}
	if c.MQTT.Station == "" {
		c.MQTT.Station = c.Station.Callsign
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "data/audit.db"
	}
	if c.LEDSign.Baud == 0 {
		c.LEDSign.Baud = 9600
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}
	for i := range c.GPIO.Pins {
		p := &c.GPIO.Pins[i]
		if p.Chip == "" {
			p.Chip = "gpiochip0"
		}
		if p.DebounceMS == 0 {
			p.DebounceMS = 50
		}
		if p.HoldSeconds == 0 {
			p.HoldSeconds = 5
		}
		if p.WatchdogSeconds == 0 {
			p.WatchdogSeconds = 300
		}
	}
}

// Validate rejects configurations that would fail at activation time
// rather than startup.
func (c *Config) Validate() error {
	if c.Station.Callsign == "" {
		return fmt.Errorf("station.callsign is required")
	}
	if len(c.Station.Callsign) > 8 {
		return fmt.Errorf("station.callsign %q exceeds 8 characters", c.Station.Callsign)
	}
	switch c.Station.Originator {
	case "EAS", "WXR", "CIV", "PEP", "EAN":
	default:
		return fmt.Errorf("station.originator %q is not a valid SAME originator", c.Station.Originator)
	}
	if _, err := NormalizeFIPSList(c.Station.FIPSCodes); err != nil {
		return fmt.Errorf("station.fips_codes: %w", err)
	}

	switch c.Audio.Source {
	case "http":
		if c.Audio.URL == "" {
			return fmt.Errorf("audio.url is required when audio.source is http")
		}
	case "wav":
		if c.Audio.Path == "" {
			return fmt.Errorf("audio.path is required when audio.source is wav")
		}
	default:
		return fmt.Errorf("audio.source %q is not supported (want http or wav)", c.Audio.Source)
	}
	if c.Audio.SampleRate < 8000 {
		return fmt.Errorf("audio.sample_rate %d is below the 8000 Hz minimum for SAME tones", c.Audio.SampleRate)
	}

	if c.Monitor.BufferSeconds < 10 {
		return fmt.Errorf("monitor.buffer_seconds %d cannot hold a full three-burst header (need >= 10)", c.Monitor.BufferSeconds)
	}
	if c.Monitor.MaxConcurrentScans < 1 || c.Monitor.MaxConcurrentScans > maxDynamicScans {
		return fmt.Errorf("monitor.max_concurrent_scans %d out of range 1..%d", c.Monitor.MaxConcurrentScans, maxDynamicScans)
	}

	switch c.Broadcast.AttentionTone {
	case "auto", "ebs", "nws":
	default:
		return fmt.Errorf("broadcast.attention_tone %q is not supported (want auto, ebs or nws)", c.Broadcast.AttentionTone)
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled")
	}
	if c.LEDSign.Enabled {
		if c.LEDSign.Mode != "serial" && c.LEDSign.Mode != "tcp" {
			return fmt.Errorf("led_sign.mode %q is not supported (want serial or tcp)", c.LEDSign.Mode)
		}
		if c.LEDSign.Device == "" {
			return fmt.Errorf("led_sign.device is required when led_sign.enabled")
		}
	}
	for _, p := range c.GPIO.Pins {
		if p.Name == "" {
			return fmt.Errorf("gpio pin with no name")
		}
		if p.Line < 0 {
			return fmt.Errorf("gpio pin %s: line %d is negative", p.Name, p.Line)
		}
	}
	return nil
}

// ScanInterval returns the configured interval as a duration.
func (m *MonitorConfig) ScanInterval() time.Duration {
	return time.Duration(m.ScanIntervalSec * float64(time.Second))
}
