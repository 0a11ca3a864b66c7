package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the admission engine's collectors. Every method is safe
// on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	AttemptsTotal  *prometheus.CounterVec // result=granted|queued|already_queued|not_found|exhausted|canceled|error
	ConflictsTotal *prometheus.CounterVec // path=optimistic|pessimistic, kind=version|lock_timeout|deadlock
	RetriesTotal   prometheus.Counter

	OpLatencyMS *prometheus.HistogramVec // op=attempt|confirm|release|cancel|dispatch

	QueueTotal *prometheus.CounterVec // event=enqueued|promoted|completed|expired

	CorrelatorTotal   *prometheus.CounterVec // result=resolved|duplicate|timeout|canceled
	CorrelatorPending prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_attempts_total",
				Help: "Reservation attempts by outcome",
			},
			[]string{"result"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_conflicts_total",
				Help: "Retryable conflicts observed by locking path and kind",
			},
			[]string{"path", "kind"},
		),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admission_retries_total",
			Help: "Backoff retries performed",
		}),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_op_latency_ms",
				Help:    "Latency of admission operations (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms .. ~8s
			},
			[]string{"op"},
		),
		QueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waiting_queue_events_total",
				Help: "Waiting queue entry transitions",
			},
			[]string{"event"},
		),
		CorrelatorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "correlator_results_total",
				Help: "Correlated response outcomes",
			},
			[]string{"result"},
		),
		CorrelatorPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "correlator_pending",
			Help: "Requests waiting for a correlated response",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AttemptsTotal,
			m.ConflictsTotal,
			m.RetriesTotal,
			m.OpLatencyMS,
			m.QueueTotal,
			m.CorrelatorTotal,
			m.CorrelatorPending,
		)
	}
	return m
}

func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Conflict(path, kind string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(path, kind).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) ObserveLatency(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func (m *Metrics) Queue(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QueueTotal.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) Correlation(result string) {
	if m == nil {
		return
	}
	m.CorrelatorTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.CorrelatorPending.Set(float64(n))
}
