package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the monitor, the alert
// pipeline and the hardware outputs. Exposed on /metrics by the status
// server.
type Metrics struct {
	ScansPerformed prometheus.Counter
	ScansSkipped   prometheus.Counter
	ScanDuration   prometheus.Histogram
	ScansActive    prometheus.Gauge
	ScanInterval   prometheus.Gauge

	SamplesIngested  prometheus.Counter
	SourceRestarts   prometheus.Counter
	BufferUtilized   prometheus.Gauge
	StreamingSynced  prometheus.Gauge
	StreamingHeaders prometheus.Counter

	AlertsDetected   prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertsFiltered   prometheus.Counter
	AlertsForwarded  prometheus.Counter
	AlertConfidence  prometheus.Gauge

	GPIOActivations      *prometheus.CounterVec
	GPIOWatchdogTimeouts *prometheus.CounterVec

	Broadcasts prometheus.Counter
}

// NewMetrics registers every collector on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ScansPerformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_scans_performed_total",
			Help: "Offline decode scans completed",
		}),
		ScansSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_scans_skipped_total",
			Help: "Scans skipped because the concurrency ceiling was reached",
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eas_scan_duration_seconds",
			Help:    "Wall-clock duration of one offline decode scan",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ScansActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eas_scans_active",
			Help: "Scan workers currently running",
		}),
		ScanInterval: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eas_scan_interval_seconds",
			Help: "Current self-tuned scan interval",
		}),
		SamplesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_samples_ingested_total",
			Help: "Audio samples read from the source",
		}),
		SourceRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_source_restarts_total",
			Help: "Audio source restarts triggered by the watchdog or stream errors",
		}),
		BufferUtilized: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eas_buffer_utilization",
			Help: "Ring buffer fill fraction",
		}),
		StreamingSynced: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eas_streaming_synced",
			Help: "1 while the streaming decoder holds bit sync",
		}),
		StreamingHeaders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_streaming_headers_total",
			Help: "SAME headers seen by the streaming decoder",
		}),
		AlertsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_alerts_detected_total",
			Help: "Distinct alerts decoded (after burst voting)",
		}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_alerts_suppressed_total",
			Help: "Alerts dropped as duplicates within the cooldown",
		}),
		AlertsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_alerts_filtered_total",
			Help: "Alerts dropped because no configured FIPS code matched",
		}),
		AlertsForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_alerts_forwarded_total",
			Help: "Alerts handed to the activation callback",
		}),
		AlertConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eas_last_alert_confidence",
			Help: "Decode confidence of the most recent alert",
		}),
		GPIOActivations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eas_gpio_activations_total",
			Help: "Relay activations by pin",
		}, []string{"pin"}),
		GPIOWatchdogTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eas_gpio_watchdog_timeouts_total",
			Help: "Forced watchdog releases by pin",
		}, []string{"pin"}),
		Broadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eas_broadcasts_total",
			Help: "Complete SAME activations rendered",
		}),
	}
}
