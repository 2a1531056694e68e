package runtime

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/ttcflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
)

// Metadata keys the worker sets on every handled message.
const (
	metadataKeyCorrelationID = "correlation_id"
	metadataKeyStream        = "ttcflow_stream"
	metadataKeyTopic         = "ttcflow_topic"
)

const tracerName = "github.com/drblury/ttcflow"

// defaultMiddlewares is the chain applied to every stream, outermost first.
func (w *Worker) defaultMiddlewares() []message.HandlerMiddleware {
	return []message.HandlerMiddleware{
		CorrelationIDMiddleware(),
		TracerMiddleware(),
		LogMessagesMiddleware(w.Logger),
	}
}

// buildMiddlewares orders the chain: defaults, hooks, caller middlewares and
// finally the recoverer, so a panicking handler reaches the hooks as an error.
func (w *Worker) buildMiddlewares(deps WorkerDependencies, hooks MessageHooks) []message.HandlerMiddleware {
	var chain []message.HandlerMiddleware
	if !deps.DisableDefaultMiddlewares {
		chain = append(chain, w.defaultMiddlewares()...)
	}
	chain = append(chain, hooksMiddleware(hooks))
	chain = append(chain, deps.Middlewares...)
	return append(chain, middleware.Recoverer)
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(metadataKeyCorrelationID) == "" {
				msg.Metadata.Set(metadataKeyCorrelationID, idspkg.New())
			}
			return h(msg)
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span named
// after the stream.
func TracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			stream := msg.Metadata.Get(metadataKeyStream)
			ctx, span := otel.Tracer(tracerName).Start(
				msg.Context(),
				"ttcflow."+stream,
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("messaging.destination.name", msg.Metadata.Get(metadataKeyTopic)),
				attribute.String("ttcflow.correlation_id", msg.Metadata.Get(metadataKeyCorrelationID)),
			)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}
