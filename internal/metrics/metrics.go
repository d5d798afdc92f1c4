// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livecaption"

// Metrics holds every collector. It implements the observer interfaces of
// transport, session and videodelay.
type Metrics struct {
	registry *prometheus.Registry

	// Transport
	ChunksSent        prometheus.Counter
	ChunkBytes        prometheus.Histogram
	EventsReceived    *prometheus.CounterVec
	MalformedPayloads prometheus.Counter

	// Captions
	CaptionsScheduled *prometheus.CounterVec
	StaleCaptions     prometheus.Counter

	// Video
	FramesCaptured   prometheus.Counter
	TextureOverflows prometheus.Counter

	// Sessions
	SpeechActive   prometheus.Gauge
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
}

// New creates all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_sent_total",
			Help:      "Total number of audio chunks queued to the backend",
		}),
		ChunkBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_chunk_bytes",
			Help:      "Encoded size of audio chunk messages",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 8), // 1KB to 128KB
		}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of backend events by type",
		}, []string{"type"}),
		MalformedPayloads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Total number of inbound payloads that failed to parse",
		}),

		CaptionsScheduled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_scheduled_total",
			Help:      "Total number of caption updates scheduled by stream",
		}, []string{"kind"}),
		StaleCaptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_stale_dropped_total",
			Help:      "Total number of scheduled live updates superseded before display",
		}),

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_captured_total",
			Help:      "Total number of video frames captured into textures",
		}),
		TextureOverflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_texture_overflow_total",
			Help:      "Total number of textures allocated beyond the pool",
		}),

		SpeechActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_active",
			Help:      "1 while the captured audio contains speech",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of capture sessions",
		}),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of capture sessions started",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ChunkSent(bytes int) {
	m.ChunksSent.Inc()
	m.ChunkBytes.Observe(float64(bytes))
}

func (m *Metrics) EventReceived(eventType string) { m.EventsReceived.WithLabelValues(eventType).Inc() }
func (m *Metrics) Malformed()                     { m.MalformedPayloads.Inc() }
func (m *Metrics) Scheduled(kind string)          { m.CaptionsScheduled.WithLabelValues(kind).Inc() }
func (m *Metrics) StaleDropped()                  { m.StaleCaptions.Inc() }
func (m *Metrics) FrameCaptured()                 { m.FramesCaptured.Inc() }
func (m *Metrics) TextureOverflow()               { m.TextureOverflows.Inc() }

func (m *Metrics) SpeechActivity(active bool) {
	if active {
		m.SpeechActive.Set(1)
	} else {
		m.SpeechActive.Set(0)
	}
}

// SessionStarted and SessionEnded track the active session gauge.
func (m *Metrics) SessionStarted() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() { m.ActiveSessions.Dec() }
