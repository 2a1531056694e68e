// Package ttcflow runs a message bus worker that keeps a participant store in
// step with control messages. A worker is bound to one transport name and
// consumes three Watermill topics derived from it:
//
//   - <name>.control carries control messages. Each one is kept in a bounded
//     audit log, and when it holds program.group.number a participant with
//     that phone number is created if none exists yet.
//   - <name>.inbound carries user messages, handed once to the configured
//     UserEventHandler.
//   - <name>.event carries transport events, passed to the EventHook under a
//     dispatch timeout.
//
// Config is read from the environment with LoadConfig. BuildTransport turns
// it into a Watermill publisher and subscriber pair (channel, kafka,
// rabbitmq, nats, nats-jetstream, aws or http), NewWorker binds a Worker to
// that transport and Start opens the store and subscribes.
//
// # Lifecycle
//
// A Worker moves from stopped through starting to running, and back through
// stopping. Start on a worker that is not stopped fails with a StartupError.
// A failed Start leaves the worker stopped, with no subscription and no open
// store. Stop is a no-op on a stopped worker and may be followed by another
// Start.
//
// # Store availability
//
// When the store becomes unreachable while running, the worker turns
// degraded: control messages are still audited but store writes are skipped
// until a background ping with exponential backoff succeeds again.
//
// # Observability
//
// Every message passes a middleware chain adding a correlation ID, an
// OpenTelemetry span and a debug log line. MessageHooks observe each handled
// message. With metrics enabled the worker registers Prometheus collectors,
// and NewStatusServer exposes /healthz, /api/status and /metrics.
package ttcflow
