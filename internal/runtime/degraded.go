package runtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	"github.com/drblury/ttcflow/internal/runtime/store"
)

// storeFailure switches the worker into degraded mode when err means the
// store is unreachable. err is returned unchanged.
func (w *Worker) storeFailure(err error) error {
	if store.IsUnavailable(err) {
		w.markDegraded(err)
	}
	return err
}

func (w *Worker) markDegraded(cause error) {
	if !w.degraded.CompareAndSwap(false, true) {
		return
	}
	w.Logger.Error("Participant store unavailable, entering degraded mode", cause, nil)
	w.metrics.setDegraded(true)

	ctx := w.runCtx
	w.reconnect.Add(1)
	go func() {
		defer w.reconnect.Done()
		w.reconnectStore(ctx)
	}()
}

// reconnectStore pings the store with exponential backoff until it answers
// or ctx is cancelled by Stop.
func (w *Worker) reconnectStore(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.reconnectInitial
	b.MaxInterval = w.reconnectMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		st := w.currentStore()
		if st == nil {
			return struct{}{}, backoff.Permanent(ErrNotRunning)
		}
		w.metrics.reconnectAttempt()
		return struct{}{}, st.Ping(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.Logger.Debug("Participant store still unavailable", loggingpkg.LogFields{
				"error":    err.Error(),
				"retry_in": next.String(),
			})
		}),
	)
	if err != nil {
		if ctx.Err() == nil {
			w.Logger.Error("Giving up on participant store reconnect", err, nil)
		}
		return
	}

	w.degraded.Store(false)
	w.metrics.setDegraded(false)
	w.Logger.Info("Participant store reachable again, leaving degraded mode", nil)
}
