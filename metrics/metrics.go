package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ScansTotal counts scans by result (ok, invalid, launch_error, setup_error).
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adscan",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Total number of page scans, labeled by result.",
	}, []string{"result"})

	// ScanDurationSeconds is end-to-end time per scan, including browser launch and release.
	ScanDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adscan",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end time to scan a page.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
	}, []string{"result"})

	// SlotsDetected is the number of candidates kept per scan.
	SlotsDetected = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adscan",
		Subsystem: "detector",
		Name:      "slots_detected",
		Help:      "Number of ad slot candidates kept per scan.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	})

	// NavigationsTotal counts page loads by outcome.
	NavigationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adscan",
		Subsystem: "browser",
		Name:      "navigations_total",
		Help:      "Total number of page loads, labeled by outcome.",
	}, []string{"outcome"})

	// BrowserSessionsInFlight is the number of browser processes currently alive.
	BrowserSessionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adscan",
		Subsystem: "browser",
		Name:      "sessions_in_flight",
		Help:      "Current number of live browser sessions.",
	})

	// ClassificationsTotal counts slot classifications by outcome.
	ClassificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adscan",
		Subsystem: "classifier",
		Name:      "classifications_total",
		Help:      "Total number of ad slot classifications, labeled by outcome.",
	}, []string{"outcome"})

	// InferenceDurationSeconds is the time spent waiting on the vision model.
	InferenceDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adscan",
		Subsystem: "classifier",
		Name:      "inference_duration_seconds",
		Help:      "Time to get an answer from the vision model.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"provider", "result"})

	// ReportSinkErrorsTotal counts failed deliveries to reporting sinks.
	ReportSinkErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adscan",
		Subsystem: "reporting",
		Name:      "sink_errors_total",
		Help:      "Total number of scan reports a sink failed to accept.",
	}, []string{"sink"})
)

// Register registers scanner metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ScansTotal,
			ScanDurationSeconds,
			SlotsDetected,
			NavigationsTotal,
			BrowserSessionsInFlight,
			ClassificationsTotal,
			InferenceDurationSeconds,
			ReportSinkErrorsTotal,
		)
	})
}
