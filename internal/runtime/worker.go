package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	errspkg "github.com/drblury/ttcflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
	"github.com/drblury/ttcflow/internal/runtime/store"
	"github.com/drblury/ttcflow/transport"
)

// Defaults applied when the configuration leaves a value at zero.
const (
	DefaultAuditCapacity            = 1000
	DefaultDispatchTimeout          = 2 * time.Second
	DefaultReconnectInitialInterval = 500 * time.Millisecond
	DefaultReconnectMaxInterval     = 30 * time.Second
)

// WorkerState is the lifecycle position of a Worker.
type WorkerState int32

const (
	StateStopped WorkerState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s WorkerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Application is the contract a bus worker fulfils. *Worker implements it;
// alternative workers can be swapped in behind the same lifecycle.
type Application interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HandleControl(ctx context.Context, msg messagepkg.Message) error
	HandleUserEvent(ctx context.Context, msg messagepkg.Message) error
	DispatchEvent(ctx context.Context, msg messagepkg.Message) error
}

var _ Application = (*Worker)(nil)

// UserEventHandler processes one user-event message. Errors and panics are
// logged by the worker and never reach the bus.
type UserEventHandler func(ctx context.Context, msg messagepkg.Message) error

// EventHook observes one transport event. It runs under the worker's
// dispatch timeout.
type EventHook func(ctx context.Context, msg messagepkg.Message) error

// WorkerDependencies holds the optional collaborators of a Worker. Leave
// fields nil to get the defaults.
type WorkerDependencies struct {
	// StoreOpener opens the participant store on every Start. Defaults to an
	// SQL store built from the configuration.
	StoreOpener store.Opener
	// UserEventHandler replaces the default handler, which logs the content.
	UserEventHandler UserEventHandler
	// EventHook observes messages on the event topic.
	EventHook EventHook
	// Hooks are called around every handled message.
	Hooks MessageHooks
	// Middlewares run after the default chain and the hooks.
	Middlewares []message.HandlerMiddleware
	// DisableDefaultMiddlewares skips the default middleware chain when true.
	DisableDefaultMiddlewares bool
	// MetricsRegistry receives the worker's collectors. A private registry is
	// created when nil.
	MetricsRegistry *prometheus.Registry
}

// Worker consumes the control, user-event and event streams of one transport
// name and maintains the participant store.
type Worker struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	subscriber   message.Subscriber
	capabilities transport.Capabilities

	openStore   store.Opener
	userHandler UserEventHandler
	eventHook   EventHook
	middlewares []message.HandlerMiddleware

	dispatchTimeout  time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	registry *prometheus.Registry
	metrics  *workerMetrics

	audit *auditLog
	stats *streamStats

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex
	state     atomic.Int32
	degraded  atomic.Bool

	storeMu sync.RWMutex
	store   store.Store

	runCtx    context.Context
	cancel    context.CancelFunc
	consumers sync.WaitGroup
	reconnect sync.WaitGroup
	// drained is closed once the goroutines of the last run have exited.
	drained   chan struct{}
	startedAt atomic.Pointer[time.Time]

	serverOnce sync.Once
}

// NewWorker validates the configuration and builds a stopped Worker consuming
// from tr's subscriber. The worker never closes the transport; its owner does.
func NewWorker(conf *configpkg.Config, log loggingpkg.ServiceLogger, tr transport.Transport, deps WorkerDependencies) (*Worker, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if conf.TransportName == "" {
		return nil, errspkg.ErrTransportNameRequired
	}
	if tr.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}

	w := &Worker{
		Conf:             conf,
		Logger:           log.With(loggingpkg.LogFields{"transport_name": conf.TransportName}),
		subscriber:       tr.Subscriber,
		capabilities:     tr.Capabilities,
		openStore:        deps.StoreOpener,
		userHandler:      deps.UserEventHandler,
		eventHook:        deps.EventHook,
		dispatchTimeout:  orDefault(conf.DispatchTimeout, DefaultDispatchTimeout),
		reconnectInitial: orDefault(conf.ReconnectInitialInterval, DefaultReconnectInitialInterval),
		reconnectMax:     orDefault(conf.ReconnectMaxInterval, DefaultReconnectMaxInterval),
		registry:         deps.MetricsRegistry,
		stats:            newStreamStats(),
	}

	capacity := conf.AuditCapacity
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	w.audit = newAuditLog(capacity)

	if w.openStore == nil {
		w.openStore = store.NewOpener(conf.Store, w.Logger)
	}
	if w.userHandler == nil {
		w.userHandler = w.logUserEvent
	}
	if w.eventHook == nil {
		w.eventHook = w.logEvent
	}

	if conf.MetricsEnabled {
		if w.registry == nil {
			w.registry = prometheus.NewRegistry()
		}
		metrics, err := newWorkerMetrics(w.registry, w)
		if err != nil {
			return nil, fmt.Errorf("register worker metrics: %w", err)
		}
		w.metrics = metrics
	}

	w.middlewares = w.buildMiddlewares(deps, deps.Hooks)

	if !w.capabilities.SupportsOrdering {
		w.Logger.Info("Transport does not guarantee in-order delivery", loggingpkg.LogFields{
			"transport": w.capabilities.Name,
		})
	}

	return w, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// State reports the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	old := WorkerState(w.state.Swap(int32(s)))
	if old != s {
		w.Logger.Debug("Worker state changed", loggingpkg.LogFields{"from": old.String(), "to": s.String()})
	}
}

// Degraded reports whether the participant store is currently unreachable.
func (w *Worker) Degraded() bool {
	return w.degraded.Load()
}

// Capabilities returns the capabilities of the transport the worker consumes from.
func (w *Worker) Capabilities() transport.Capabilities {
	return w.capabilities
}

// Gatherer exposes the worker's metrics, or nil when metrics are disabled.
func (w *Worker) Gatherer() prometheus.Gatherer {
	if w.registry == nil {
		return nil
	}
	return w.registry
}

// Record returns the control messages retained since the last Start, oldest first.
func (w *Worker) Record() []messagepkg.Message {
	return w.audit.Snapshot()
}

// RecordLen is the number of retained control messages.
func (w *Worker) RecordLen() int {
	return w.audit.Len()
}

// RecordTotal counts every control message handled since the last Start,
// including entries the ring buffer has already evicted.
func (w *Worker) RecordTotal() uint64 {
	return w.audit.Total()
}

// Participants lists the store contents. Only available while running.
func (w *Worker) Participants(ctx context.Context) ([]store.Participant, error) {
	st := w.currentStore()
	if st == nil {
		return nil, ErrNotRunning
	}
	return st.GetAll(ctx)
}

func (w *Worker) currentStore() store.Store {
	w.storeMu.RLock()
	defer w.storeMu.RUnlock()
	return w.store
}

func (w *Worker) setStore(st store.Store) {
	w.storeMu.Lock()
	w.store = st
	w.storeMu.Unlock()
}

// Start opens the store and subscribes to the worker's topics. On failure
// everything acquired so far is released, the worker stays stopped and the
// returned error is a *StartupError.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if state := w.State(); state != StateStopped {
		return &StartupError{Stage: StageState, Err: fmt.Errorf("%w: %s", errspkg.ErrWorkerNotStopped, state)}
	}
	if w.drained != nil {
		select {
		case <-w.drained:
		default:
			return &StartupError{Stage: StageState, Err: errspkg.ErrWorkerDraining}
		}
	}
	w.setState(StateStarting)

	st, err := w.openStore(ctx)
	if err != nil {
		w.setState(StateStopped)
		w.Logger.Error("Failed to open participant store", err, nil)
		return &StartupError{Stage: StageStore, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streams := w.streams()
	channels := make([]<-chan *message.Message, len(streams))
	for i, s := range streams {
		ch, err := w.subscriber.Subscribe(runCtx, s.topic)
		if err != nil {
			cancel()
			w.closeStore(st)
			w.setState(StateStopped)
			w.Logger.Error("Failed to subscribe", err, loggingpkg.LogFields{"topic": s.topic})
			return &StartupError{Stage: StageSubscribe, Topic: s.topic, Err: err}
		}
		channels[i] = ch
	}

	w.setStore(st)
	w.runCtx, w.cancel = runCtx, cancel
	w.audit.Reset()
	w.stats.reset(streams)
	w.degraded.Store(false)
	w.metrics.setDegraded(false)
	now := time.Now()
	w.startedAt.Store(&now)

	w.setState(StateRunning)
	for i, s := range streams {
		w.consumers.Add(1)
		go w.consume(runCtx, s, channels[i])
	}
	w.startTransportServer()

	w.Logger.Info("Worker started", loggingpkg.LogFields{
		"topics":    topicsOf(streams),
		"transport": w.capabilities.Name,
	})
	return nil
}

// Stop cancels every subscription, waits for in-flight handlers and closes
// the store. Stopping a stopped worker is a no-op. When ctx expires first the
// store is closed anyway and ctx's error is returned; Start then fails with
// ErrWorkerDraining until the abandoned handlers have returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.State() == StateStopped {
		return nil
	}
	w.setState(StateStopping)
	w.cancel()

	done := make(chan struct{})
	w.drained = done
	go func() {
		w.consumers.Wait()
		w.reconnect.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("waiting for handlers: %w", ctx.Err())
		w.Logger.Error("Stop deadline exceeded with handlers in flight", waitErr, nil)
	}

	st := w.currentStore()
	w.setStore(nil)
	w.closeStore(st)
	w.degraded.Store(false)
	w.metrics.setDegraded(false)
	w.startedAt.Store(nil)
	w.setState(StateStopped)

	w.Logger.Info("Worker stopped", loggingpkg.LogFields{"control_messages": w.audit.Total()})
	return waitErr
}

func (w *Worker) closeStore(st store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		w.Logger.Error("Failed to close participant store", err, nil)
	}
}

// startTransportServer starts the subscriber's own listener, if it has one,
// once every topic is subscribed.
func (w *Worker) startTransportServer() {
	srv, ok := w.subscriber.(transport.Server)
	if !ok {
		return
	}
	w.serverOnce.Do(func() {
		go func() {
			if err := srv.StartHTTPServer(); err != nil {
				w.Logger.Error("Transport server stopped", err, nil)
			}
		}()
	})
}
