package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// HandleUserEvent passes msg to the configured user-event handler exactly
// once. Handler panics come back as errors.
func (w *Worker) HandleUserEvent(ctx context.Context, msg messagepkg.Message) error {
	return safeCall(func() error { return w.userHandler(ctx, msg) })
}

func (w *Worker) logUserEvent(_ context.Context, msg messagepkg.Message) error {
	w.Logger.Info("User message received", loggingpkg.LogFields{
		"stream":       StreamUser,
		"message_uuid": msg.UUID(),
		"content":      msg.Content(),
	})
	return nil
}

// PanicError carries a value recovered from a user-supplied callback.
type PanicError struct {
	Value      any
	Stacktrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stacktrace: string(debug.Stack())}
		}
	}()
	return fn()
}
