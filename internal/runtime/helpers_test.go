package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	"github.com/drblury/ttcflow/internal/runtime/store"
	"github.com/drblury/ttcflow/transport"
	"github.com/drblury/ttcflow/transport/channel"
)

const testTransportName = "sms"

func newTestConfig(t *testing.T) *configpkg.Config {
	t.Helper()
	return &configpkg.Config{
		TransportName:            testTransportName,
		AuditCapacity:            100,
		DispatchTimeout:          time.Second,
		PubSubSystem:             channel.TransportName,
		ReconnectInitialInterval: 5 * time.Millisecond,
		ReconnectMaxInterval:     20 * time.Millisecond,
		MetricsEnabled:           true,
		Store: configpkg.StoreConfig{
			Driver:     configpkg.DriverSQLite,
			SQLiteFile: filepath.Join(t.TempDir(), "participants.db"),
		},
	}
}

// harness wires a worker to an in-process channel transport.
type harness struct {
	t      *testing.T
	conf   *configpkg.Config
	tr     transport.Transport
	worker *Worker
	sender *Sender
}

func newHarness(t *testing.T, deps WorkerDependencies, mutate ...func(*configpkg.Config)) *harness {
	t.Helper()
	conf := newTestConfig(t)
	for _, m := range mutate {
		m(conf)
	}

	tr, err := channel.Build(context.Background(), conf, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	w, err := NewWorker(conf, loggingpkg.NewNopLogger(), tr, deps)
	require.NoError(t, err)

	sender, err := NewSender(conf, tr.Publisher, "")
	require.NoError(t, err)

	return &harness{t: t, conf: conf, tr: tr, worker: w, sender: sender}
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.worker.Start(context.Background()))
	h.t.Cleanup(func() { _ = h.worker.Stop(context.Background()) })
}

func (h *harness) stop() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.worker.Stop(ctx))
}

func (h *harness) sendControl(number int64, program, group string) {
	h.t.Helper()
	require.NoError(h.t, h.sender.SendControl(context.Background(), ControlMessage(number, program, group)))
}

func (h *harness) participants() []store.Participant {
	h.t.Helper()
	participants, err := h.worker.Participants(context.Background())
	require.NoError(h.t, err)
	return participants
}

func (h *harness) streamStats(name string) StreamStats {
	h.t.Helper()
	st, ok := h.worker.Stats().Stream(name)
	require.True(h.t, ok, "stream %s not tracked", name)
	return st
}

// staticOpener hands out the same store on every Start.
func staticOpener(st store.Store) store.Opener {
	return func(context.Context) (store.Store, error) {
		return st, nil
	}
}
