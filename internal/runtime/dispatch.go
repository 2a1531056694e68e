package runtime

import (
	"context"
	"fmt"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// DispatchEvent runs the event hook for msg, waiting at most the configured
// dispatch timeout. A hook that overruns keeps running in the background
// with a cancelled context; the caller moves on.
func (w *Worker) DispatchEvent(ctx context.Context, msg messagepkg.Message) error {
	ctx, cancel := context.WithTimeout(ctx, w.dispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(func() error { return w.eventHook(ctx, msg) })
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		w.metrics.dispatchTimedOut()
		return fmt.Errorf("event hook for message %s: %w", msg.UUID(), ctx.Err())
	}
}

func (w *Worker) logEvent(_ context.Context, msg messagepkg.Message) error {
	w.Logger.Debug("Event dispatched", loggingpkg.LogFields{
		"stream":       StreamEvent,
		"message_uuid": msg.UUID(),
		"fields":       msg.Keys(),
	})
	return nil
}
