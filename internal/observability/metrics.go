package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_calls_total",
		Help: "Total number of calls handled",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_transcript_events_total",
		Help: "Transcript events received from the recognition service",
	}, []string{"kind"}) // partial, final, speech_final, suppressed

	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_generation_requests_total",
		Help: "Total dialogue generation requests",
	}, []string{"status"})

	generationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_generation_latency_seconds",
		Help:    "Dialogue generation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_synthesis_requests_total",
		Help: "Total speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebridge_synthesis_latency_seconds",
		Help:    "Speech synthesis latency to first frame in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_frames_sent_total",
		Help: "Outbound audio frames sent to the telephony leg",
	})

	droppedData = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_dropped_bytes_total",
		Help: "Bytes dropped by bounded queues and buffers",
	}, []string{"queue"}) // inbound_audio, synthesis_buffer

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"})
)

// Metrics tracks the timings of a single call.
type Metrics struct {
	mu                  sync.Mutex
	startTime           time.Time
	generationStartTime time.Time
	synthesisStartTime  time.Time
}

// NewCallMetrics creates a metrics tracker for one call and records the
// call start.
func NewCallMetrics() *Metrics {
	activeCalls.Inc()
	totalCalls.Inc()
	return &Metrics{startTime: time.Now()}
}

// RecordCallEnd records the end of the call.
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTranscriptEvent counts a recognition event by kind.
func (m *Metrics) RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordGenerationStart marks the start of one dialogue generation.
func (m *Metrics) RecordGenerationStart() {
	m.mu.Lock()
	m.generationStartTime = time.Now()
	m.mu.Unlock()
}

// RecordGenerationEnd records one dialogue generation outcome.
func (m *Metrics) RecordGenerationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.generationStartTime.IsZero() {
		generationLatency.Observe(time.Since(m.generationStartTime).Seconds())
	}
	generationRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordSynthesisStart marks the start of one synthesis playback.
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records one synthesis playback outcome.
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.synthesisStartTime.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStartTime).Seconds())
	}
	synthesisRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordFrameSent counts one outbound frame.
func (m *Metrics) RecordFrameSent() {
	framesSent.Inc()
}

// RecordDrop counts bytes discarded by a bounded queue or buffer.
func (m *Metrics) RecordDrop(queue string, bytes int) {
	droppedData.WithLabelValues(queue).Add(float64(bytes))
}

// RecordError counts an error by type and component.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes counts relayed audio bytes by direction ("in"/"out").
func (m *Metrics) RecordAudioBytes(direction string, n int64) {
	audioBytes.WithLabelValues(direction).Add(float64(n))
}

// UpdateCircuitBreakerState publishes a circuit breaker state change.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
