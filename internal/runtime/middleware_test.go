package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	"github.com/drblury/ttcflow/transport"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	var seen string
	handler := CorrelationIDMiddleware()(func(msg *message.Message) ([]*message.Message, error) {
		seen = msg.Metadata.Get(metadataKeyCorrelationID)
		return nil, nil
	})

	_, err := handler(message.NewMessage("1", nil))
	require.NoError(t, err)
	assert.Len(t, seen, 26, "a ULID is generated when absent")

	msg := message.NewMessage("2", nil)
	msg.Metadata.Set(metadataKeyCorrelationID, "keep-me")
	_, err = handler(msg)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", seen)
}

func TestTracerMiddlewareSetsSpanContext(t *testing.T) {
	var spanCtx trace.SpanContext
	handlerErr := errors.New("failed")
	handler := TracerMiddleware()(func(msg *message.Message) ([]*message.Message, error) {
		spanCtx = trace.SpanContextFromContext(msg.Context())
		return nil, handlerErr
	})

	msg := message.NewMessage("1", nil)
	msg.Metadata.Set(metadataKeyStream, StreamEvent)
	msg.SetContext(context.Background())

	_, err := handler(msg)
	assert.ErrorIs(t, err, handlerErr)
	// The global provider is a no-op until one is installed, so the span
	// context stays invalid; the handler must still see a derived context.
	assert.False(t, spanCtx.IsValid())
	assert.NotNil(t, msg.Context())
}

func TestLogMessagesMiddlewarePassesThrough(t *testing.T) {
	called := false
	handler := LogMessagesMiddleware(loggingpkg.NewNopLogger())(func(*message.Message) ([]*message.Message, error) {
		called = true
		return nil, nil
	})

	_, err := handler(message.NewMessage("1", []byte("{}")))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestBuildMiddlewaresOrder(t *testing.T) {
	w, err := NewWorker(newTestConfig(t), loggingpkg.NewNopLogger(), transport.Transport{Subscriber: &recordingSubscriber{}}, WorkerDependencies{})
	require.NoError(t, err)

	var order []string
	tag := func(name string) message.HandlerMiddleware {
		return func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				order = append(order, name)
				return h(msg)
			}
		}
	}

	var hookErr error
	deps := WorkerDependencies{
		Middlewares:               []message.HandlerMiddleware{tag("first"), tag("second")},
		DisableDefaultMiddlewares: true,
	}
	hooks := AlertingHooks(func(_ MessageContext, err error) { hookErr = err })
	chain := w.buildMiddlewares(deps, hooks)
	require.Len(t, chain, 4, "hooks, two caller middlewares and the recoverer")

	var h message.HandlerFunc = func(*message.Message) ([]*message.Message, error) {
		order = append(order, "handler")
		panic("boom")
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	msg := message.NewMessage("1", nil)
	msg.SetContext(context.Background())
	_, err = h(msg)

	require.Error(t, err)
	assert.Equal(t, []string{"first", "second", "handler"}, order)
	assert.Error(t, hookErr, "a recovered panic reaches the hooks as an error")
}

func TestDefaultMiddlewaresIncludedUnlessDisabled(t *testing.T) {
	w, err := NewWorker(newTestConfig(t), loggingpkg.NewNopLogger(), transport.Transport{Subscriber: &recordingSubscriber{}}, WorkerDependencies{})
	require.NoError(t, err)

	assert.Len(t, w.buildMiddlewares(WorkerDependencies{}, MessageHooks{}), 5)
	assert.Len(t, w.buildMiddlewares(WorkerDependencies{DisableDefaultMiddlewares: true}, MessageHooks{}), 2)
}
