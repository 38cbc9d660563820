package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics are process-wide Prometheus collectors, supplementing the
// in-core per-turn struct below with the aggregate view an operator
// dashboard needs.
var promMetrics = struct {
	stageDuration *prometheus.HistogramVec
	turnsTotal    prometheus.Counter
	errorsTotal   *prometheus.CounterVec
	bargeInsTotal prometheus.Counter
}{
	stageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency within a turn (turn, llm, tts, tool_execution)",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"}),
	turnsTotal: promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_turns_total",
		Help: "Total turns completed",
	}),
	errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage"}),
	bargeInsTotal: promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_barge_ins_total",
		Help: "Total barge-in interruptions",
	}),
}

// ObserveStageDuration records a stage's latency into the process-wide
// histogram. The pipeline observes "turn", "llm", "tts" and
// "tool_execution"; "stt" is not observed.
func ObserveStageDuration(stage string, d time.Duration) {
	promMetrics.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveError increments the process-wide error counter for stage.
func ObserveError(stage string) {
	promMetrics.errorsTotal.WithLabelValues(stage).Inc()
}

// TurnMetrics holds the per-stage timing stack for one in-flight turn:
// turn start, first LLM token, first TTS byte, emitted as
// TurnCompleteData on turn completion. Aggregation beyond a single turn
// lives in promMetrics above, not in this struct.
type TurnMetrics struct {
	TurnStart      time.Time
	FirstLLMToken  time.Time
	FirstTTSByte   time.Time
	ToolCallCount  int
}

// Complete computes the final TurnCompleteData payload for turnEnd.
func (m *TurnMetrics) Complete(turnEnd time.Time) TurnCompleteData {
	var d TurnCompleteData
	if !m.FirstLLMToken.IsZero() {
		d.FirstLLMTokenMs = m.FirstLLMToken.Sub(m.TurnStart).Milliseconds()
	}
	if !m.FirstTTSByte.IsZero() {
		d.FirstTTSByteMs = m.FirstTTSByte.Sub(m.TurnStart).Milliseconds()
	}
	d.TurnDurationMs = turnEnd.Sub(m.TurnStart).Milliseconds()
	return d
}

// SessionMetrics holds rolling, session-scoped counters the Session
// exposes to its caller.
type SessionMetrics struct {
	mu        sync.Mutex
	TurnCount int
}

// NewSessionMetrics returns a zeroed counter set.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{}
}

// IncrementTurnCount is called once per turn_complete and must strictly
// increase across turn_complete events in a session.
func (m *SessionMetrics) IncrementTurnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TurnCount++
	promMetrics.turnsTotal.Inc()
	return m.TurnCount
}
