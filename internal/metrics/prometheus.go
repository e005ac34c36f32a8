package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the voice safety SDK.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Recording window metrics
	WindowsStarted   prometheus.Counter
	WindowsFlushed   prometheus.Counter
	WindowsDiscarded *prometheus.CounterVec
	WindowDuration   prometheus.Histogram
	WindowPeak       prometheus.Histogram
	PauseEvents      prometheus.Counter
	RecorderState    prometheus.Gauge
	SamplesDropped   prometheus.Counter

	// Upload metrics
	UploadRequests  prometheus.Counter
	UploadSuccesses prometheus.Counter
	UploadFailures  *prometheus.CounterVec
	UploadDuration  prometheus.Histogram
	UploadSize      prometheus.Histogram
	UploadsInFlight prometheus.Gauge
	Violations      *prometheus.CounterVec

	// Remote policy metrics
	ConfigFetches      *prometheus.CounterVec
	SamplingRate       prometheus.Gauge
	IntermissionLength prometheus.Gauge

	// Presence metrics
	PresenceCalls *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all collectors on reg. A nil reg gets a fresh registry
// that also carries the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Recording window metrics
		WindowsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_windows_started_total",
			Help: "Total number of recording windows started",
		}),
		WindowsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_windows_flushed_total",
			Help: "Total number of recording windows handed to the uploader",
		}),
		WindowsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_windows_discarded_total",
			Help: "Total number of recording windows discarded without upload",
		}, []string{"reason"}),
		WindowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicesafe_window_active_seconds",
			Help:    "Active capture time of finalized windows",
			Buckets: prometheus.LinearBuckets(1, 1, 15), // 1s to 15s
		}),
		WindowPeak: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicesafe_window_peak",
			Help:    "Peak absolute sample value of finalized windows",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 9), // 0.005 to ~1.3
		}),
		PauseEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_pause_events_total",
			Help: "Total number of times an active window was paused",
		}),
		RecorderState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicesafe_recorder_state",
			Help: "Current recorder state (0 idle, 1 recording, 2 paused)",
		}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_samples_dropped_total",
			Help: "Total number of captured samples dropped on buffer overflow",
		}),

		// Upload metrics
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_upload_requests_total",
			Help: "Total number of window uploads dispatched",
		}),
		UploadSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicesafe_upload_successes_total",
			Help: "Total number of window uploads that returned a verdict",
		}),
		UploadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_upload_failures_total",
			Help: "Total number of failed window uploads",
		}, []string{"kind"}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicesafe_upload_duration_seconds",
			Help:    "Duration of window uploads",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicesafe_upload_size_bytes",
			Help:    "Size of uploaded WAV payloads",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		UploadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicesafe_uploads_in_flight",
			Help: "Current number of uploads awaiting a verdict",
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_violations_total",
			Help: "Total number of violating verdicts, by forwarded action",
		}, []string{"action"}),

		// Remote policy metrics
		ConfigFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_config_fetches_total",
			Help: "Total number of remote config fetches",
		}, []string{"result"}),
		SamplingRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicesafe_sampling_rate",
			Help: "Sampling rate currently in effect",
		}),
		IntermissionLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicesafe_intermission_seconds",
			Help: "Intermission currently in effect, -1 when sampling is disabled",
		}),

		// Presence metrics
		PresenceCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_presence_calls_total",
			Help: "Total number of player session calls",
		}, []string{"op", "result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_http_requests_total",
			Help: "Total number of status API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicesafe_http_request_duration_seconds",
			Help:    "Duration of status API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesafe_http_errors_total",
			Help: "Total number of status API errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordWindowStarted increments the windows started counter
func (m *Metrics) RecordWindowStarted() {
	if m == nil {
		return
	}
	m.WindowsStarted.Inc()
}

// RecordWindowFlushed records a window handed to the uploader
func (m *Metrics) RecordWindowFlushed(activeSeconds float64, peak float32) {
	if m == nil {
		return
	}
	m.WindowsFlushed.Inc()
	m.WindowDuration.Observe(activeSeconds)
	m.WindowPeak.Observe(float64(peak))
}

// RecordWindowDiscarded records a window dropped for reason
func (m *Metrics) RecordWindowDiscarded(reason string, activeSeconds float64) {
	if m == nil {
		return
	}
	m.WindowsDiscarded.WithLabelValues(reason).Inc()
	m.WindowDuration.Observe(activeSeconds)
}

// RecordPause increments the pause events counter
func (m *Metrics) RecordPause() {
	if m == nil {
		return
	}
	m.PauseEvents.Inc()
}

// SetRecorderState sets the current recorder state
func (m *Metrics) SetRecorderState(state int) {
	if m == nil {
		return
	}
	m.RecorderState.Set(float64(state))
}

// RecordSamplesDropped adds to the dropped samples counter
func (m *Metrics) RecordSamplesDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SamplesDropped.Add(float64(n))
}

// RecordUploadStarted records a dispatched upload
func (m *Metrics) RecordUploadStarted(sizeBytes int) {
	if m == nil {
		return
	}
	m.UploadRequests.Inc()
	m.UploadSize.Observe(float64(sizeBytes))
	m.UploadsInFlight.Inc()
}

// RecordUploadSuccess records an upload that returned a verdict
func (m *Metrics) RecordUploadSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadsInFlight.Dec()
	m.UploadSuccesses.Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordUploadFailure records a failed upload
func (m *Metrics) RecordUploadFailure(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UploadsInFlight.Dec()
	m.UploadFailures.WithLabelValues(kind).Inc()
	m.UploadDuration.Observe(durationSeconds)
}

// RecordViolation records a violating verdict
func (m *Metrics) RecordViolation(action string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(action).Inc()
}

// RecordConfigFetch records a remote config fetch and the values now in effect
func (m *Metrics) RecordConfigFetch(ok bool, samplingRate, intermissionSeconds float64) {
	if m == nil {
		return
	}
	if !ok {
		m.ConfigFetches.WithLabelValues("failure").Inc()
		return
	}
	m.ConfigFetches.WithLabelValues("success").Inc()
	m.SamplingRate.Set(samplingRate)
	m.IntermissionLength.Set(intermissionSeconds)
}

// RecordPresenceCall records a player session call
func (m *Metrics) RecordPresenceCall(op string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.PresenceCalls.WithLabelValues(op, result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
