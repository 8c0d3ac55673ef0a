package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice microphone
// controller.
type Metrics struct {
	// Control loop metrics
	TicksTotal    prometheus.Counter
	DeviceState   prometheus.Gauge
	LinkConnected prometheus.Gauge

	// Link metrics
	LinkConnects    prometheus.Counter
	LinkDisconnects prometheus.Counter

	// VAD metrics
	BlocksSampled prometheus.Counter
	SpeechBlocks  prometheus.Counter
	Utterances    prometheus.Counter

	// Recording metrics
	RecordingsStarted   prometheus.Counter
	RecordingsValid     prometheus.Counter
	RecordingsDiscarded prometheus.Counter
	RecordingsAborted   prometheus.Counter
	RecordingDuration   prometheus.Histogram
	RecordingSamples    prometheus.Histogram

	// Transport metrics
	ChunksSent        prometheus.Counter
	BytesSent         prometheus.Counter
	SendAborts        prometheus.Counter
	TransportDuration prometheus.Histogram
	ReceiveTimeouts   prometheus.Counter
	PayloadBytes      prometheus.Histogram

	// Command metrics
	CommandsReceived *prometheus.CounterVec

	// Playback metrics
	Playbacks prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_ticks_total",
			Help: "Total number of control loop ticks",
		}),
		DeviceState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemic_device_state",
			Help: "Current device state ordinal (0=disconnected..4=playing)",
		}),
		LinkConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemic_link_connected",
			Help: "Whether the wireless link is currently connected (0/1)",
		}),

		LinkConnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_link_connects_total",
			Help: "Total number of link connect events",
		}),
		LinkDisconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_link_disconnects_total",
			Help: "Total number of link disconnect events",
		}),

		BlocksSampled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_audio_blocks_sampled_total",
			Help: "Total number of microphone blocks sampled",
		}),
		SpeechBlocks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_vad_speech_blocks_total",
			Help: "Total number of blocks classified as speech",
		}),
		Utterances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_vad_utterances_total",
			Help: "Total number of speech-start edges detected",
		}),

		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_recordings_started_total",
			Help: "Total number of recording sessions started",
		}),
		RecordingsValid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_recordings_valid_total",
			Help: "Total number of recordings that passed the validity gate",
		}),
		RecordingsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_recordings_discarded_total",
			Help: "Total number of recordings discarded as too short",
		}),
		RecordingsAborted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_recordings_aborted_total",
			Help: "Total number of recordings aborted by cancel or disconnect",
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemic_recording_duration_seconds",
			Help:    "Duration of finished recording sessions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~25s
		}),
		RecordingSamples: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemic_recording_samples",
			Help:    "Sample count of finished recording sessions",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10), // 1k to ~1M samples
		}),

		ChunksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_transport_chunks_sent_total",
			Help: "Total number of payload chunks sent over the link",
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_transport_bytes_sent_total",
			Help: "Total payload bytes sent over the link",
		}),
		SendAborts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_transport_send_aborts_total",
			Help: "Total number of sends aborted by link loss",
		}),
		TransportDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemic_transport_send_duration_seconds",
			Help:    "Time spent streaming one recording to the host",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ReceiveTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_transport_receive_timeouts_total",
			Help: "Total number of inbound payload receptions that timed out",
		}),
		PayloadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemic_transport_payload_bytes",
			Help:    "Size of received host audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		CommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemic_commands_received_total",
			Help: "Total number of host commands received",
		}, []string{"command"}),

		Playbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemic_playbacks_total",
			Help: "Total number of audio playbacks completed",
		}),
	}
}

// RecordTick increments the tick counter and records the current state.
func (m *Metrics) RecordTick(stateOrdinal uint8) {
	m.TicksTotal.Inc()
	m.DeviceState.Set(float64(stateOrdinal))
}

// RecordLinkChange records a connect or disconnect edge.
func (m *Metrics) RecordLinkChange(connected bool) {
	if connected {
		m.LinkConnects.Inc()
		m.LinkConnected.Set(1)
	} else {
		m.LinkDisconnects.Inc()
		m.LinkConnected.Set(0)
	}
}

// RecordBlock records one sampled block and its VAD classification.
func (m *Metrics) RecordBlock(isSpeech bool) {
	m.BlocksSampled.Inc()
	if isSpeech {
		m.SpeechBlocks.Inc()
	}
}

// RecordRecordingFinished records the outcome of a finished session.
func (m *Metrics) RecordRecordingFinished(valid bool, durationSeconds float64, samples int) {
	if valid {
		m.RecordingsValid.Inc()
		m.RecordingDuration.Observe(durationSeconds)
		m.RecordingSamples.Observe(float64(samples))
	} else {
		m.RecordingsDiscarded.Inc()
	}
}

// RecordCommand records one received host command by name.
func (m *Metrics) RecordCommand(name string) {
	m.CommandsReceived.WithLabelValues(name).Inc()
}
