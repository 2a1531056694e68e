package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// stream binds a topic to the worker operation that handles it.
type stream struct {
	name   string
	topic  string
	handle func(ctx context.Context, msg messagepkg.Message) error
}

func (w *Worker) streams() []stream {
	return []stream{
		{name: StreamControl, topic: w.Conf.ControlTopic(), handle: w.HandleControl},
		{name: StreamUser, topic: w.Conf.InboundTopic(), handle: w.HandleUserEvent},
		{name: StreamEvent, topic: w.Conf.EventTopic(), handle: w.DispatchEvent},
	}
}

func topicsOf(streams []stream) []string {
	topics := make([]string, 0, len(streams))
	for _, s := range streams {
		topics = append(topics, s.topic)
	}
	return topics
}

// consume serves one subscription: messages are handled one at a time in
// arrival order until the subscription context is cancelled.
func (w *Worker) consume(ctx context.Context, s stream, msgs <-chan *message.Message) {
	defer w.consumers.Done()

	handler := w.handlerFor(s)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if ctx.Err() != nil || w.State() != StateRunning {
				w.reject(s, msg)
				continue
			}
			w.process(s, handler, msg)
		}
	}
}

// handlerFor decodes the bus message and calls the stream's operation,
// wrapped in the worker's middleware chain. The first middleware is the
// outermost.
func (w *Worker) handlerFor(s stream) message.HandlerFunc {
	var h message.HandlerFunc = func(msg *message.Message) ([]*message.Message, error) {
		decoded, err := messagepkg.Decode(msg)
		if err != nil {
			return nil, err
		}
		return nil, s.handle(context.WithoutCancel(msg.Context()), decoded)
	}
	for i := len(w.middlewares) - 1; i >= 0; i-- {
		h = w.middlewares[i](h)
	}
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata == nil {
			msg.Metadata = make(message.Metadata)
		}
		msg.Metadata.Set(metadataKeyStream, s.name)
		msg.Metadata.Set(metadataKeyTopic, s.topic)
		return h(msg)
	}
}

// process runs the handler and always acknowledges: a message that fails is
// logged and counted, never redelivered.
func (w *Worker) process(s stream, h message.HandlerFunc, msg *message.Message) {
	started := time.Now()
	_, err := h(msg)
	duration := time.Since(started)

	outcome := OutcomeProcessed
	var malformed *messagepkg.MalformedMessageError
	switch {
	case err == nil:
	case errors.As(err, &malformed):
		outcome = OutcomeDropped
		w.Logger.Error("Dropping malformed message", err, loggingpkg.LogFields{
			"stream":       s.name,
			"topic":        s.topic,
			"message_uuid": msg.UUID,
		})
	default:
		outcome = OutcomeFailed
		w.Logger.Error("Message handling failed", err, loggingpkg.LogFields{
			"stream":       s.name,
			"topic":        s.topic,
			"message_uuid": msg.UUID,
		})
	}

	w.stats.record(s.name, outcome, duration, err)
	w.metrics.observe(s.name, outcome, duration)
	msg.Ack()
}

// reject hands back a message that arrived after Stop began. Transports that
// redeliver on nack get it back later; the rest lose it.
func (w *Worker) reject(s stream, msg *message.Message) {
	w.stats.record(s.name, OutcomeRejected, 0, nil)
	w.metrics.observe(s.name, OutcomeRejected, 0)
	if w.capabilities.ShouldNackOnShutdown() {
		msg.Nack()
		return
	}
	w.Logger.Info("Discarding message received while stopping", loggingpkg.LogFields{
		"stream":       s.name,
		"topic":        s.topic,
		"message_uuid": msg.UUID,
	})
	msg.Ack()
}
