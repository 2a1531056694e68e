package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ttcflow"

// workerMetrics holds the Prometheus collectors of one worker. All methods
// accept a nil receiver so callers need not check whether metrics are enabled.
type workerMetrics struct {
	messagesTotal       *prometheus.CounterVec
	handlingSeconds     *prometheus.HistogramVec
	participantsCreated prometheus.Counter
	skippedWrites       prometheus.Counter
	dispatchTimeouts    prometheus.Counter
	reconnectAttempts   prometheus.Counter
	storeDegraded       prometheus.Gauge
}

func newWorkerMetrics(reg prometheus.Registerer, w *Worker) (*workerMetrics, error) {
	labels := prometheus.Labels{"transport_name": w.Conf.TransportName}

	m := &workerMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "messages_total",
			Help:        "Messages delivered to the worker, by stream and outcome.",
			ConstLabels: labels,
		}, []string{"stream", "outcome"}),
		handlingSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Name:        "message_handling_seconds",
			Help:        "Time spent handling one message, by stream.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"stream"}),
		participantsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "store",
			Name:        "participants_created_total",
			Help:        "Participants inserted by the control handler.",
			ConstLabels: labels,
		}),
		skippedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "store",
			Name:        "skipped_writes_total",
			Help:        "Control messages whose store write was skipped while degraded.",
			ConstLabels: labels,
		}),
		dispatchTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        "dispatch_timeouts_total",
			Help:        "Event hooks that exceeded the dispatch timeout.",
			ConstLabels: labels,
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "store",
			Name:        "reconnect_attempts_total",
			Help:        "Pings issued while the store was degraded.",
			ConstLabels: labels,
		}),
		storeDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "store",
			Name:        "degraded",
			Help:        "1 while the participant store is unreachable.",
			ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.handlingSeconds,
		m.participantsCreated,
		m.skippedWrites,
		m.dispatchTimeouts,
		m.reconnectAttempts,
		m.storeDegraded,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "running",
			Help:        "1 while the worker is running.",
			ConstLabels: labels,
		}, func() float64 {
			if w.State() == StateRunning {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "audit_retained",
			Help:        "Control messages held in the audit ring buffer.",
			ConstLabels: labels,
		}, func() float64 { return float64(w.audit.Len()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *workerMetrics) observe(stream string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(stream, string(outcome)).Inc()
	if outcome != OutcomeRejected {
		m.handlingSeconds.WithLabelValues(stream).Observe(d.Seconds())
	}
}

func (m *workerMetrics) participantCreated() {
	if m != nil {
		m.participantsCreated.Inc()
	}
}

func (m *workerMetrics) skippedWrite() {
	if m != nil {
		m.skippedWrites.Inc()
	}
}

func (m *workerMetrics) dispatchTimedOut() {
	if m != nil {
		m.dispatchTimeouts.Inc()
	}
}

func (m *workerMetrics) reconnectAttempt() {
	if m != nil {
		m.reconnectAttempts.Inc()
	}
}

func (m *workerMetrics) setDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.storeDegraded.Set(1)
		return
	}
	m.storeDegraded.Set(0)
}
