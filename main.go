package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

func main() {
	// Record start time for uptime tracking
	StartTime = time.Now()

	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	selfTest := flag.Bool("self-test", false, "Run the decode pipeline against the WAV files given as arguments and exit")
	flag.Parse()

	// Set global debug mode - check environment variable first, then CLI flag
	DebugMode = *debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("Debug mode enabled")
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *selfTest {
		runSelfTest(config, flag.Args())
		return
	}

	// Audit sink first: everything downstream records into it.
	var audit AuditSink = nopAuditSink{}
	if config.Audit.Enabled {
		sink, err := NewSQLiteAuditSink(config.Audit.Path)
		if err != nil {
			log.Fatalf("Failed to open audit database: %v", err)
		}
		defer sink.Close()
		audit = sink
	}

	metrics := NewMetrics()

	// Declared ahead of the GPIO controller: the watchdog callback closes
	// over it, and the broker may come up after the pins do.
	var mqttPub *MQTTPublisher

	var gpio *GPIOController
	if config.GPIO.Enabled {
		gpio, err = NewGPIOController(config.GPIO.Pins, audit, nil)
		if err != nil {
			log.Fatalf("Failed to initialize GPIO: %v", err)
		}
		defer gpio.Close()
		gpio.SetWatchdogCallback(func(pin string) {
			metrics.GPIOWatchdogTimeouts.WithLabelValues(pin).Inc()
			if mqttPub != nil {
				mqttPub.PublishGPIO(pin, "watchdog_timeout", "held past watchdog limit")
			}
		})
		log.Printf("GPIO: %d pin(s) ready", len(config.GPIO.Pins))
	}

	if config.MQTT.Enabled {
		mqttPub, err = NewMQTTPublisher(&config.MQTT)
		if err != nil {
			// The broker being down must not stop monitoring; the
			// publisher keeps retrying in the background once up.
			log.Printf("MQTT: initial connect failed: %v (alerts will not be published)", err)
		} else {
			defer mqttPub.Close()
		}
	}

	var sign *LEDSignClient
	if config.LEDSign.Enabled {
		sign, err = NewLEDSignClient(config.LEDSign.Mode, config.LEDSign.Device, config.LEDSign.Baud)
		if err != nil {
			log.Fatalf("Failed to initialize LED sign: %v", err)
		}
	}

	broadcaster, err := NewBroadcaster(config.Broadcast.SampleRate, config.Broadcast.ArchiveDir,
		config.Broadcast.Player, config.Broadcast.AttentionTone)
	if err != nil {
		log.Fatalf("Failed to initialize broadcaster: %v", err)
	}

	monitor, err := NewEASMonitor(MonitorOptions{
		SourceFactory:      audioSourceFactory(config),
		SampleRate:         config.Audio.SampleRate,
		BufferSeconds:      config.Monitor.BufferSeconds,
		ScanInterval:       config.Monitor.ScanInterval(),
		MaxConcurrent:      config.Monitor.MaxConcurrentScans,
		WatchdogStall:      time.Duration(config.Monitor.WatchdogSeconds) * time.Second,
		ConfiguredFIPS:     config.Station.FIPSCodes,
		DuplicateCooldown:  time.Duration(config.Monitor.DuplicateCooldown) * time.Second,
		PrefilterThreshold: config.Monitor.PrefilterThreshold,
		SaveDir:            config.Monitor.SaveDir,
		Audit:              audit,
		Metrics:            metrics,
	})
	if err != nil {
		log.Fatalf("Failed to initialize monitor: %v", err)
	}

	monitor.AddHandler(stationActivationHandler(config, gpio, broadcaster, metrics, mqttPub))
	if mqttPub != nil {
		monitor.AddHandler(mqttPub.PublishAlert)
	}
	if sign != nil {
		monitor.AddHandler(sign.ShowAlert)
	}

	var status *StatusServer
	if config.Server.Enabled {
		status = NewStatusServer(config.Server.Listen, config.Station.Callsign, monitor, gpio)
		monitor.AddHandler(status.BroadcastAlert)
		status.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down...")
		cancel()
		if status != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			status.Shutdown(shutdownCtx)
		}
	}()

	log.Printf("EAS station %s monitoring %s for %v",
		config.Station.Callsign, config.Audio.Source, config.Station.FIPSCodes)
	if err := monitor.Run(ctx); err != nil {
		log.Fatalf("Monitor failed: %v", err)
	}
}

// audioSourceFactory builds the reopen function the monitor's watchdog
// uses, so a stalled stream can be torn down and dialed fresh.
func audioSourceFactory(config *Config) func() (AudioSource, error) {
	switch config.Audio.Source {
	case "wav":
		return func() (AudioSource, error) {
			return NewWAVFileSource(config.Audio.Path, config.Audio.Loop)
		}
	default:
		return func() (AudioSource, error) {
			return NewHTTPStreamSource(config.Audio.URL, config.Audio.SampleRate)
		}
	}
}

// stationActivationHandler is the activation side of the station: relay
// closure on a forwarded alert, release on EOM, and a rendered relay
// broadcast when playback is configured.
func stationActivationHandler(config *Config, gpio *GPIOController, broadcaster *Broadcaster, metrics *Metrics, mqttPub *MQTTPublisher) AlertHandler {
	return func(alert *Alert) {
		if alert.EOM {
			if gpio != nil {
				// Release blocks until the minimum hold is satisfied, so
				// an early EOM must not stall the detection goroutine.
				go func() {
					for _, pin := range config.GPIO.Pins {
						if err := gpio.Release(pin.Name, "EOM received", false); err != nil {
							log.Printf("GPIO: release %s on EOM: %v", pin.Name, err)
							continue
						}
						if mqttPub != nil {
							mqttPub.PublishGPIO(pin.Name, "inactive", "EOM received")
						}
					}
				}()
			}
			return
		}

		if gpio != nil {
			for _, pin := range config.GPIO.Pins {
				if err := gpio.Activate(pin.Name, alert.Header.EventDescription(), alert.Signature, false); err != nil {
					log.Printf("GPIO: activate %s: %v", pin.Name, err)
					continue
				}
				metrics.GPIOActivations.WithLabelValues(pin.Name).Inc()
				if mqttPub != nil {
					mqttPub.PublishGPIO(pin.Name, "active", alert.Header.EventDescription())
				}
			}
		}

		if config.Broadcast.Play {
			go func() {
				_, err := broadcaster.Broadcast(&BroadcastRequest{
					Originator: alert.Header.Originator,
					EventCode:  alert.Header.Event,
					Locations:  alert.Header.LocationCodes(),
					Purge:      alert.Header.Purge,
					Issue:      alert.Header.IssueTime(time.Now().UTC()),
					Station:    config.Station.Callsign,
					Play:       true,
				})
				if err != nil {
					log.Printf("Broadcast: relay failed: %v", err)
					return
				}
				metrics.Broadcasts.Inc()
			}()
		}
	}
}

// runSelfTest exercises the offline pipeline and exits non-zero on any
// decode failure.
func runSelfTest(config *Config, files []string) {
	log.Printf("Self-test: station %s, %d configured FIPS code(s)",
		config.Station.Callsign, len(config.Station.FIPSCodes))

	if err := SelfTestSynthetic(); err != nil {
		log.Fatalf("Self-test: synthetic loopback FAILED: %v", err)
	}

	if len(files) == 0 {
		log.Println("Self-test: no recordings given, synthetic loopback only")
		return
	}
	tester := NewSelfTester(config.Station.FIPSCodes, config.Audio.FFmpegPath)
	_, ok := tester.Run(files)
	if !ok {
		os.Exit(1)
	}
	log.Printf("Self-test: %d recording(s) processed", len(files))
}
