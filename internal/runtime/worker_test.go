package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	configpkg "github.com/drblury/ttcflow/internal/runtime/config"
	errspkg "github.com/drblury/ttcflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/ttcflow/internal/runtime/logging"
	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
	"github.com/drblury/ttcflow/internal/runtime/store"
	"github.com/drblury/ttcflow/internal/runtime/store/mocks"
	"github.com/drblury/ttcflow/transport"
)

func TestNewWorkerValidation(t *testing.T) {
	conf := newTestConfig(t)
	log := loggingpkg.NewNopLogger()
	tr := transport.Transport{Subscriber: &recordingSubscriber{}}

	tests := []struct {
		name    string
		conf    *configpkg.Config
		log     loggingpkg.ServiceLogger
		tr      transport.Transport
		wantErr error
	}{
		{name: "nil config", conf: nil, log: log, tr: tr, wantErr: errspkg.ErrConfigRequired},
		{name: "nil logger", conf: conf, log: nil, tr: tr, wantErr: errspkg.ErrLoggerRequired},
		{name: "no transport name", conf: &configpkg.Config{}, log: log, tr: tr, wantErr: errspkg.ErrTransportNameRequired},
		{name: "no subscriber", conf: conf, log: log, tr: transport.Transport{}, wantErr: errspkg.ErrSubscriberRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWorker(tt.conf, tt.log, tt.tr, WorkerDependencies{})
			assert.Nil(t, w)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewWorkerDefaults(t *testing.T) {
	conf := &configpkg.Config{TransportName: "sms"}
	w, err := NewWorker(conf, loggingpkg.NewNopLogger(), transport.Transport{Subscriber: &recordingSubscriber{}}, WorkerDependencies{})
	require.NoError(t, err)

	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, DefaultDispatchTimeout, w.dispatchTimeout)
	assert.Equal(t, DefaultReconnectInitialInterval, w.reconnectInitial)
	assert.Equal(t, DefaultReconnectMaxInterval, w.reconnectMax)
	assert.Len(t, w.audit.entries, DefaultAuditCapacity)
	assert.Nil(t, w.Gatherer(), "metrics are off unless enabled")
	assert.Nil(t, w.metrics)
}

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown(9)", WorkerState(9).String())
}

func TestControlMessageCreatesParticipant(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	h.start()

	h.sendControl(27821234567, "TTC", "group-a")

	participants := h.participants()
	require.Len(t, participants, 1)
	assert.Equal(t, int64(27821234567), participants[0].PhoneNumber)
	assert.Equal(t, 1, h.worker.RecordLen())

	record := h.worker.Record()
	require.Len(t, record, 1)
	number, ok, err := record[0].PhoneNumber()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(27821234567), number)

	assert.Equal(t, uint64(1), h.streamStats(StreamControl).MessagesProcessed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.worker.metrics.participantsCreated))
}

func TestRepeatedControlMessageKeepsOneParticipant(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	h.start()

	h.sendControl(27821234567, "TTC", "group-a")
	h.sendControl(27821234567, "TTC", "group-b")

	assert.Len(t, h.participants(), 1)
	assert.Equal(t, 2, h.worker.RecordLen())
	assert.Equal(t, uint64(2), h.streamStats(StreamControl).MessagesProcessed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.worker.metrics.participantsCreated))
}

func TestControlMessageWithoutProgramSkipsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()

	require.NoError(t, h.sender.SendControl(context.Background(), UserMessage("no program here")))

	assert.Equal(t, 1, h.worker.RecordLen())
	assert.Equal(t, uint64(1), h.streamStats(StreamControl).MessagesProcessed)
	h.stop()
}

func TestControlMessageWithBlankNumberSkipsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()

	msg := messagepkg.New(map[string]any{
		"content": "",
		"program": map[string]any{"group": map[string]any{"number": ""}},
	})
	require.NoError(t, h.sender.SendControl(context.Background(), msg))

	assert.Equal(t, 1, h.worker.RecordLen())
	h.stop()
}

func TestControlMessageWithInvalidNumberIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()

	msg := messagepkg.New(map[string]any{
		"program": map[string]any{"group": map[string]any{"number": "not-a-number"}},
	})
	require.NoError(t, h.sender.SendControl(context.Background(), msg))

	stats := h.streamStats(StreamControl)
	assert.Equal(t, uint64(1), stats.MessagesDropped)
	assert.Contains(t, stats.LastError, "program.group.number")
	assert.Equal(t, 1, h.worker.RecordLen(), "audit keeps malformed control messages")
	h.stop()
}

func TestStartWithUnavailableStore(t *testing.T) {
	sub := &recordingSubscriber{}
	conf := newTestConfig(t)
	conf.Store.SQLiteFile = filepath.Join(t.TempDir(), "missing", "dir", "participants.db")

	w, err := NewWorker(conf, loggingpkg.NewNopLogger(), transport.Transport{Subscriber: sub}, WorkerDependencies{})
	require.NoError(t, err)

	err = w.Start(context.Background())
	require.Error(t, err)

	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, StageStore, startupErr.Stage)
	assert.True(t, store.IsUnavailable(err))
	assert.Equal(t, StateStopped, w.State())
	assert.Empty(t, sub.topics(), "no subscription may be made without a store")

	_, err = w.Participants(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStartWithOpenerError(t *testing.T) {
	sub := &recordingSubscriber{}
	boom := errors.New("boom")
	w, err := NewWorker(newTestConfig(t), loggingpkg.NewNopLogger(), transport.Transport{Subscriber: sub}, WorkerDependencies{
		StoreOpener: func(context.Context) (store.Store, error) { return nil, boom },
	})
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, w.State())
	assert.Empty(t, sub.topics())
}

func TestStartSubscribeFailureReleasesEverything(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	conf := newTestConfig(t)
	subscribeErr := errors.New("subscribe refused")
	sub := &recordingSubscriber{failOn: conf.InboundTopic(), err: subscribeErr}

	w, err := NewWorker(conf, loggingpkg.NewNopLogger(), transport.Transport{Subscriber: sub}, WorkerDependencies{
		StoreOpener: staticOpener(st),
	})
	require.NoError(t, err)

	err = w.Start(context.Background())
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, StageSubscribe, startupErr.Stage)
	assert.Equal(t, conf.InboundTopic(), startupErr.Topic)
	assert.ErrorIs(t, err, subscribeErr)
	assert.Equal(t, StateStopped, w.State())

	require.Equal(t, []string{conf.ControlTopic()}, sub.topics())
	select {
	case <-sub.contexts[0].Done():
	default:
		t.Fatal("earlier subscription was not cancelled")
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	h.start()

	err := h.worker.Start(context.Background())
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, StageState, startupErr.Stage)
	assert.ErrorIs(t, err, errspkg.ErrWorkerNotStopped)
	assert.Equal(t, StateRunning, h.worker.State())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	assert.NoError(t, h.worker.Stop(context.Background()), "stopping a worker that never started")

	h.start()
	h.stop()
	assert.Equal(t, StateStopped, h.worker.State())
	assert.NoError(t, h.worker.Stop(context.Background()))
}

func TestRestartKeepsStoreContents(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})

	h.start()
	h.sendControl(27821234567, "TTC", "a")
	assert.Equal(t, 1, h.worker.RecordLen())
	h.stop()

	_, err := h.worker.Participants(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Nil(t, h.worker.Stats().StartedAt)

	h.start()
	assert.Equal(t, 0, h.worker.RecordLen(), "audit restarts empty")
	assert.NotNil(t, h.worker.Stats().StartedAt)

	h.sendControl(27821234567, "TTC", "a")
	h.sendControl(27829999999, "TTC", "a")

	participants := h.participants()
	require.Len(t, participants, 2)
	assert.Equal(t, int64(27821234567), participants[0].PhoneNumber)
	assert.Equal(t, int64(27829999999), participants[1].PhoneNumber)
	assert.Equal(t, 2, h.worker.RecordLen())
}

func TestConcurrentControlMessagesStayUnique(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	h.start()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.sender.SendControl(context.Background(), ControlMessage(27821234567, "TTC", "g")))
		}()
	}
	wg.Wait()

	assert.Len(t, h.participants(), 1)
	assert.Equal(t, 10, h.worker.RecordLen())
}

func TestDuplicateFromStoreIsNotAFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	gomock.InOrder(
		st.EXPECT().FindByPhoneNumber(gomock.Any(), int64(27821234567)).Return(store.Participant{}, false, nil),
		st.EXPECT().Create(gomock.Any(), int64(27821234567)).Return(int64(0), &store.DuplicateParticipantError{PhoneNumber: 27821234567}),
	)
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()
	h.sendControl(27821234567, "TTC", "g")

	stats := h.streamStats(StreamControl)
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Zero(t, stats.MessagesFailed)
	assert.False(t, h.worker.Degraded())
	h.stop()
}

func TestUserEventCallsHandlerOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	var calls atomic.Int32
	var got atomic.Value
	h := newHarness(t, WorkerDependencies{
		StoreOpener: staticOpener(st),
		UserEventHandler: func(_ context.Context, msg messagepkg.Message) error {
			calls.Add(1)
			got.Store(msg.Content())
			return nil
		},
	})
	h.start()

	require.NoError(t, h.sender.SendUser(context.Background(), UserMessage("hello")))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "hello", got.Load())
	assert.Equal(t, 0, h.worker.RecordLen(), "user events are not audited")
	assert.Equal(t, uint64(1), h.streamStats(StreamUser).MessagesProcessed)
	h.stop()
}

func TestUserEventHandlerPanicIsContained(t *testing.T) {
	var hookErr atomic.Value
	h := newHarness(t, WorkerDependencies{
		UserEventHandler: func(context.Context, messagepkg.Message) error {
			panic("handler exploded")
		},
		Hooks: AlertingHooks(func(_ MessageContext, err error) { hookErr.Store(err) }),
	})
	h.start()

	require.NoError(t, h.sender.SendUser(context.Background(), UserMessage("hello")))
	require.NoError(t, h.sender.SendUser(context.Background(), UserMessage("again")))

	assert.Equal(t, uint64(2), h.streamStats(StreamUser).MessagesFailed)
	assert.Equal(t, StateRunning, h.worker.State())

	err, _ := hookErr.Load().(error)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "handler exploded", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stacktrace)
}

func TestInStreamOrdering(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	h := newHarness(t, WorkerDependencies{
		UserEventHandler: func(_ context.Context, msg messagepkg.Message) error {
			mu.Lock()
			seen = append(seen, msg.Content())
			mu.Unlock()
			return nil
		},
	})
	h.start()

	var want []string
	for i := 0; i < 20; i++ {
		content := fmt.Sprintf("msg-%02d", i)
		want = append(want, content)
		require.NoError(t, h.sender.SendUser(context.Background(), UserMessage(content)))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestStreamsAreIsolated(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, WorkerDependencies{
		UserEventHandler: func(context.Context, messagepkg.Message) error {
			close(entered)
			<-release
			return nil
		},
	})
	h.start()

	userDone := make(chan error, 1)
	go func() {
		userDone <- h.sender.SendUser(context.Background(), UserMessage("slow"))
	}()
	<-entered

	h.sendControl(27821234567, "TTC", "g")
	assert.Len(t, h.participants(), 1, "control stream keeps flowing while the user handler blocks")

	close(release)
	require.NoError(t, <-userDone)
	assert.Equal(t, uint64(1), h.streamStats(StreamUser).MessagesProcessed)
}

func TestDispatchEventCallsHook(t *testing.T) {
	events := make(chan messagepkg.Message, 1)
	h := newHarness(t, WorkerDependencies{
		EventHook: func(_ context.Context, msg messagepkg.Message) error {
			events <- msg
			return nil
		},
	})
	h.start()

	event := messagepkg.New(map[string]any{"event_type": "ack", "user_message_id": "abc"})
	require.NoError(t, h.sender.SendEvent(context.Background(), event))

	got := <-events
	v, ok := got.Get("event_type")
	require.True(t, ok)
	assert.Equal(t, "ack", v)
	assert.Equal(t, uint64(1), h.streamStats(StreamEvent).MessagesProcessed)
	assert.Equal(t, 0, h.worker.RecordLen())
}

func TestDispatchEventTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, WorkerDependencies{
		EventHook: func(ctx context.Context, _ messagepkg.Message) error {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				<-release
			}
			return nil
		},
	}, func(c *configpkg.Config) { c.DispatchTimeout = 50 * time.Millisecond })
	h.start()

	require.NoError(t, h.sender.SendEvent(context.Background(), messagepkg.New(map[string]any{"n": 1})))
	require.NoError(t, h.sender.SendEvent(context.Background(), messagepkg.New(map[string]any{"n": 2})))

	stats := h.streamStats(StreamEvent)
	assert.Equal(t, uint64(1), stats.MessagesFailed)
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Contains(t, stats.LastError, context.DeadlineExceeded.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.worker.metrics.dispatchTimeouts))
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	h.start()

	raw := message.NewMessage("raw-1", []byte("not json"))
	require.NoError(t, h.tr.Publisher.Publish(h.conf.ControlTopic(), raw))
	h.sendControl(27821234567, "TTC", "g")

	stats := h.streamStats(StreamControl)
	assert.Equal(t, uint64(1), stats.MessagesDropped)
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Equal(t, 1, h.worker.RecordLen(), "undecodable payloads never reach the audit log")
	assert.Len(t, h.participants(), 1)
}

func TestDegradedModeSkipsWritesAndRecovers(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)

	var healthy atomic.Bool
	unavailable := &store.StoreUnavailableError{Op: "find", Err: errors.New("connection refused")}
	gomock.InOrder(
		st.EXPECT().FindByPhoneNumber(gomock.Any(), int64(27820000001)).Return(store.Participant{}, false, unavailable),
		st.EXPECT().FindByPhoneNumber(gomock.Any(), int64(27820000003)).Return(store.Participant{}, false, nil),
		st.EXPECT().Create(gomock.Any(), int64(27820000003)).Return(int64(1), nil),
	)
	st.EXPECT().Ping(gomock.Any()).DoAndReturn(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return &store.StoreUnavailableError{Op: "ping", Err: errors.New("connection refused")}
	}).MinTimes(1)
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()

	h.sendControl(27820000001, "TTC", "g")
	assert.True(t, h.worker.Degraded())
	assert.Equal(t, StateRunning, h.worker.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.worker.metrics.storeDegraded))

	h.sendControl(27820000002, "TTC", "g")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.worker.metrics.skippedWrites))
	assert.Equal(t, 2, h.worker.RecordLen(), "audit keeps recording while degraded")

	healthy.Store(true)
	require.Eventually(t, func() bool { return !h.worker.Degraded() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.worker.metrics.storeDegraded))
	assert.GreaterOrEqual(t, testutil.ToFloat64(h.worker.metrics.reconnectAttempts), 1.0)

	h.sendControl(27820000003, "TTC", "g")
	h.stop()

	stats := h.worker.Stats()
	control, ok := stats.Stream(StreamControl)
	require.True(t, ok)
	assert.Equal(t, uint64(1), control.MessagesFailed)
	assert.Equal(t, uint64(2), control.MessagesProcessed)
}

func TestStopEndsReconnectLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().FindByPhoneNumber(gomock.Any(), gomock.Any()).
		Return(store.Participant{}, false, &store.StoreUnavailableError{Op: "find", Err: errors.New("down")})
	st.EXPECT().Ping(gomock.Any()).Return(&store.StoreUnavailableError{Op: "ping", Err: errors.New("down")}).AnyTimes()
	st.EXPECT().Close().Return(nil)

	h := newHarness(t, WorkerDependencies{StoreOpener: staticOpener(st)})
	h.start()
	h.sendControl(27821234567, "TTC", "g")
	require.True(t, h.worker.Degraded())

	h.stop()
	assert.False(t, h.worker.Degraded())
	assert.Equal(t, StateStopped, h.worker.State())
}

func TestStopDeadlineStillClosesStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Close().Return(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, WorkerDependencies{
		StoreOpener: staticOpener(st),
		UserEventHandler: func(context.Context, messagepkg.Message) error {
			close(entered)
			<-release
			return nil
		},
	})
	h.start()

	go func() { _ = h.sender.SendUser(context.Background(), UserMessage("slow")) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.worker.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, h.worker.State())
	close(release)
}

func TestStartWaitsForAbandonedHandlers(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, WorkerDependencies{
		UserEventHandler: func(context.Context, messagepkg.Message) error {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return nil
		},
	})
	h.start()

	sent := make(chan error, 1)
	go func() { sent <- h.sender.SendUser(context.Background(), UserMessage("slow")) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.worker.Stop(ctx), context.DeadlineExceeded)
	require.Equal(t, StateStopped, h.worker.State())

	err := h.worker.Start(context.Background())
	var startErr *StartupError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, StageState, startErr.Stage)
	assert.ErrorIs(t, err, errspkg.ErrWorkerDraining)
	assert.Equal(t, StateStopped, h.worker.State())

	close(release)
	require.NoError(t, <-sent)

	require.Eventually(t, func() bool {
		return h.worker.Start(context.Background()) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, h.worker.State())

	h.sendControl(27821234567, "TTC", "g")
	assert.Len(t, h.participants(), 1)
	h.stop()
}

func TestMessagesAfterStopAreRejected(t *testing.T) {
	tests := []struct {
		name     string
		caps     transport.Capabilities
		wantNack bool
	}{
		{name: "nack capable", caps: transport.ChannelCapabilities, wantNack: true},
		{name: "ack only", caps: transport.KafkaCapabilities, wantNack: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWorker(newTestConfig(t), loggingpkg.NewNopLogger(), transport.Transport{
				Subscriber:   &recordingSubscriber{},
				Capabilities: tt.caps,
			}, WorkerDependencies{})
			require.NoError(t, err)

			streams := w.streams()
			w.stats.reset(streams)
			w.setState(StateStopping)

			ctx, cancel := context.WithCancel(context.Background())
			msgs := make(chan *message.Message)
			w.consumers.Add(1)
			go w.consume(ctx, streams[0], msgs)

			msg := message.NewMessage("late", []byte(`{"content":""}`))
			msgs <- msg

			if tt.wantNack {
				<-msg.Nacked()
			} else {
				<-msg.Acked()
			}
			cancel()
			w.consumers.Wait()

			stats, ok := w.Stats().Stream(StreamControl)
			require.True(t, ok)
			assert.Equal(t, uint64(1), stats.MessagesRejected)
			assert.Zero(t, w.RecordLen(), "rejected messages are not handled")
		})
	}
}

func TestHooksSeeEveryStream(t *testing.T) {
	var mu sync.Mutex
	started := map[string]int{}
	done := map[string]int{}
	topics := map[string]string{}

	h := newHarness(t, WorkerDependencies{
		Hooks: MetricsHooks(
			func(stream, topic string) {
				mu.Lock()
				started[stream]++
				topics[stream] = topic
				mu.Unlock()
			},
			func(stream, _ string) {
				mu.Lock()
				done[stream]++
				mu.Unlock()
			},
			nil,
		).Merge(LoggingHooks(loggingpkg.NewNopLogger())),
	})
	h.start()

	h.sendControl(27821234567, "TTC", "g")
	require.NoError(t, h.sender.SendUser(context.Background(), UserMessage("hi")))
	require.NoError(t, h.sender.SendEvent(context.Background(), messagepkg.New(map[string]any{"event_type": "ack"})))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{StreamControl: 1, StreamUser: 1, StreamEvent: 1}, started)
	assert.Equal(t, started, done)
	assert.Equal(t, map[string]string{
		StreamControl: "sms.control",
		StreamUser:    "sms.inbound",
		StreamEvent:   "sms.event",
	}, topics)
}

func TestCustomMiddlewareRuns(t *testing.T) {
	var correlationIDs []string
	var mu sync.Mutex
	h := newHarness(t, WorkerDependencies{
		Middlewares: []message.HandlerMiddleware{
			func(next message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					mu.Lock()
					correlationIDs = append(correlationIDs, msg.Metadata.Get(metadataKeyCorrelationID))
					mu.Unlock()
					return next(msg)
				}
			},
		},
	})
	h.start()

	h.sendControl(27821234567, "TTC", "g")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, correlationIDs, 1)
	assert.NotEmpty(t, correlationIDs[0])
}

func TestParticipantsRequiresRunningWorker(t *testing.T) {
	h := newHarness(t, WorkerDependencies{})
	_, err := h.worker.Participants(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	h.start()
	assert.Empty(t, h.participants())
}

// recordingSubscriber remembers every Subscribe call and can fail on one topic.
type recordingSubscriber struct {
	mu       sync.Mutex
	subs     []string
	contexts []context.Context
	failOn   string
	err      error
}

func (s *recordingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topic == s.failOn {
		return nil, s.err
	}
	s.subs = append(s.subs, topic)
	s.contexts = append(s.contexts, ctx)
	return make(chan *message.Message), nil
}

func (s *recordingSubscriber) Close() error { return nil }

func (s *recordingSubscriber) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subs...)
}
