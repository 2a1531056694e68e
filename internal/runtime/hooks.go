package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// MessageContext provides information about one handled message to hooks.
type MessageContext struct {
	// Stream is "control", "user" or "event".
	Stream string
	// Topic is the topic the message was received from.
	Topic string
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// CorrelationID is set when the correlation middleware ran first.
	CorrelationID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when handling started.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnMessageDone and OnMessageError).
	Duration time.Duration
}

// MessageHooks defines callbacks around message handling.
// All hooks are optional; nil hooks are simply not called.
type MessageHooks struct {
	// OnMessageStart is called before the handler is invoked.
	OnMessageStart func(ctx MessageContext)

	// OnMessageDone is called when the handler returns nil.
	OnMessageDone func(ctx MessageContext)

	// OnMessageError is called when the handler returns an error or panics.
	OnMessageError func(ctx MessageContext, err error)
}

// Merge combines two MessageHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h MessageHooks) Merge(other MessageHooks) MessageHooks {
	return MessageHooks{
		OnMessageStart: chainHooks(h.OnMessageStart, other.OnMessageStart),
		OnMessageDone:  chainHooks(h.OnMessageDone, other.OnMessageDone),
		OnMessageError: chainErrorHooks(h.OnMessageError, other.OnMessageError),
	}
}

func chainHooks(a, b func(MessageContext)) func(MessageContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx MessageContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(MessageContext, error)) func(MessageContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx MessageContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func hooksMiddleware(hooks MessageHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			mc := MessageContext{
				Stream:        msg.Metadata.Get(metadataKeyStream),
				Topic:         msg.Metadata.Get(metadataKeyTopic),
				MessageUUID:   msg.UUID,
				CorrelationID: msg.Metadata.Get(metadataKeyCorrelationID),
				Metadata:      msg.Metadata,
				Context:       msg.Context(),
				StartedAt:     time.Now(),
			}

			if hooks.OnMessageStart != nil {
				hooks.OnMessageStart(mc)
			}

			msgs, err := h(msg)
			mc.Duration = time.Since(mc.StartedAt)

			if err != nil {
				if hooks.OnMessageError != nil {
					hooks.OnMessageError(mc, err)
				}
			} else if hooks.OnMessageDone != nil {
				hooks.OnMessageDone(mc)
			}

			return msgs, err
		}
	}
}

// LoggingHooks returns hooks that log message handling at debug level and
// failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) MessageHooks {
	return MessageHooks{
		OnMessageStart: func(ctx MessageContext) {
			logger.Debug("Message received", loggingpkg.LogFields{
				"stream":       ctx.Stream,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
			})
		},
		OnMessageDone: func(ctx MessageContext) {
			logger.Debug("Message handled", loggingpkg.LogFields{
				"stream":       ctx.Stream,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnMessageError: func(ctx MessageContext, err error) {
			logger.Error("Message handler returned an error", err, loggingpkg.LogFields{
				"stream":         ctx.Stream,
				"topic":          ctx.Topic,
				"message_uuid":   ctx.MessageUUID,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward message lifecycle events to
// counters of the caller's choosing.
func MetricsHooks(onStart, onDone, onError func(stream, topic string)) MessageHooks {
	return MessageHooks{
		OnMessageStart: func(ctx MessageContext) {
			if onStart != nil {
				onStart(ctx.Stream, ctx.Topic)
			}
		},
		OnMessageDone: func(ctx MessageContext) {
			if onDone != nil {
				onDone(ctx.Stream, ctx.Topic)
			}
		},
		OnMessageError: func(ctx MessageContext, err error) {
			if onError != nil {
				onError(ctx.Stream, ctx.Topic)
			}
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on handler errors.
func AlertingHooks(alertFunc func(ctx MessageContext, err error)) MessageHooks {
	return MessageHooks{
		OnMessageError: alertFunc,
	}
}
