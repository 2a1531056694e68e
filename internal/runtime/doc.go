/*
Package runtime implements the ttcflow worker.

A Worker consumes three topics of one transport name from a Watermill
subscriber:

  - <transport_name>.control: control messages. HandleControl records each one
    in a bounded audit log and creates a participant for program.group.number
    unless one already exists.
  - <transport_name>.inbound: user events, passed to the UserEventHandler.
  - <transport_name>.event: transport events, passed to the EventHook under a
    dispatch timeout.

Each topic is consumed by its own goroutine, one message at a time in arrival
order. Every message is acknowledged once handled, whether or not the handler
succeeded. Messages arriving after Stop begins are nacked when the transport
redelivers nacked messages and discarded otherwise.

# Lifecycle

	stopped -> starting -> running -> stopping -> stopped

Start opens the participant store and subscribes; any failure leaves the
worker stopped and is reported as a *StartupError. Stop cancels the
subscriptions, waits for in-flight handlers and closes the store. Both can be
called repeatedly; a stopped worker can be started again.

# Degraded mode

When the store reports *store.StoreUnavailableError the worker keeps running
but skips participant writes, and pings the store with exponential backoff
until it answers.

# Handler chain

Every message passes the correlation ID, tracing and debug logging
middlewares, the MessageHooks and a panic recoverer before reaching its
handler. Stats and Prometheus metrics count each outcome; StatusServer
serves both over HTTP.

# Sub-packages

  - config/: environment configuration with validation
  - errors/: sentinel errors
  - ids/: ULID generation
  - logging/: logger interface and adapters
  - message/: decoded message view and wire codecs
  - store/: participant store on database/sql
*/
package runtime
