package runtime

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

const latencySampleSize = 256

// Stream names, used as log field values, metric labels and stats keys.
const (
	StreamControl = "control"
	StreamUser    = "user"
	StreamEvent   = "event"
)

// Outcome classifies what happened to one delivered message.
type Outcome string

const (
	// OutcomeProcessed means the handler ran and returned nil.
	OutcomeProcessed Outcome = "processed"
	// OutcomeFailed means the handler returned an error or panicked. The
	// message is still acknowledged.
	OutcomeFailed Outcome = "failed"
	// OutcomeDropped means the payload could not be decoded.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRejected means the message arrived while the worker was stopping.
	OutcomeRejected Outcome = "rejected"
)

// ErrNotRunning is returned by operations that need a running worker.
var ErrNotRunning = errors.New("ttcflow: worker is not running")

// Startup stages reported by StartupError.
const (
	StageState     = "state"
	StageStore     = "store"
	StageSubscribe = "subscribe"
)

// StartupError is returned by Start. The worker is left stopped with no
// subscription active and no store open.
type StartupError struct {
	Stage string
	Topic string
	Err   error
}

func (e *StartupError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("ttcflow: worker startup failed at %s (%s): %v", e.Stage, e.Topic, e.Err)
	}
	return fmt.Sprintf("ttcflow: worker startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// LatencyMetrics summarises recent handler durations.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// StreamStats are the counters of one consumed stream since the last Start.
type StreamStats struct {
	Stream            string         `json:"stream"`
	Topic             string         `json:"topic"`
	MessagesProcessed uint64         `json:"messages_processed"`
	MessagesFailed    uint64         `json:"messages_failed"`
	MessagesDropped   uint64         `json:"messages_dropped"`
	MessagesRejected  uint64         `json:"messages_rejected"`
	LastProcessedAt   time.Time      `json:"last_processed_at"`
	LastError         string         `json:"last_error,omitempty"`
	Latency           LatencyMetrics `json:"latency"`
}

// Stats is a point-in-time view of a worker.
type Stats struct {
	TransportName string        `json:"transport_name"`
	Transport     string        `json:"transport"`
	State         string        `json:"state"`
	Degraded      bool          `json:"degraded"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	AuditRetained int           `json:"audit_retained"`
	AuditTotal    uint64        `json:"audit_total"`
	Streams       []StreamStats `json:"streams"`
	CollectedAt   time.Time     `json:"collected_at"`
}

// Stream returns the stats of the named stream.
func (s Stats) Stream(name string) (StreamStats, bool) {
	return lo.Find(s.Streams, func(st StreamStats) bool { return st.Stream == name })
}

// Stats collects the worker's current state and per-stream counters.
func (w *Worker) Stats() Stats {
	return Stats{
		TransportName: w.Conf.TransportName,
		Transport:     w.capabilities.Name,
		State:         w.State().String(),
		Degraded:      w.Degraded(),
		StartedAt:     w.startedAt.Load(),
		AuditRetained: w.audit.Len(),
		AuditTotal:    w.audit.Total(),
		Streams:       w.stats.snapshot(),
		CollectedAt:   time.Now().UTC(),
	}
}

type streamCounter struct {
	stats   StreamStats
	total   int64
	latency *latencyWindow
}

type streamStats struct {
	mu      sync.Mutex
	order   []string
	streams map[string]*streamCounter
}

func newStreamStats() *streamStats {
	return &streamStats{streams: make(map[string]*streamCounter)}
}

func (s *streamStats) reset(streams []stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.streams = make(map[string]*streamCounter, len(streams))
	for _, st := range streams {
		s.order = append(s.order, st.name)
		s.streams[st.name] = &streamCounter{
			stats:   StreamStats{Stream: st.name, Topic: st.topic},
			latency: newLatencyWindow(latencySampleSize),
		}
	}
}

func (s *streamStats) record(name string, outcome Outcome, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.streams[name]
	if !ok {
		return
	}

	switch outcome {
	case OutcomeProcessed:
		c.stats.MessagesProcessed++
	case OutcomeFailed:
		c.stats.MessagesFailed++
	case OutcomeDropped:
		c.stats.MessagesDropped++
	case OutcomeRejected:
		c.stats.MessagesRejected++
		return
	}
	if err != nil {
		c.stats.LastError = err.Error()
	}
	c.stats.LastProcessedAt = time.Now().UTC()

	c.latency.Add(duration)
	c.total += int64(duration)
	snapshot := c.latency.Snapshot()
	if handled := c.stats.MessagesProcessed + c.stats.MessagesFailed + c.stats.MessagesDropped; handled > 0 {
		snapshot.AverageNs = c.total / int64(handled)
	}
	c.stats.Latency = snapshot
}

func (s *streamStats) snapshot() []StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.FilterMap(s.order, func(name string, _ int) (StreamStats, bool) {
		c, ok := s.streams[name]
		if !ok {
			return StreamStats{}, false
		}
		return c.stats, true
	})
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, 0, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples = append(samples, lw.samples[idx])
	}
	slices.Sort(samples)
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	metrics.AverageNs = lo.Sum(samples) / int64(len(samples))
	return metrics
}

// percentile expects sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	idx := int(quantile*float64(len(samples)-1) + 0.5)
	return samples[idx]
}
