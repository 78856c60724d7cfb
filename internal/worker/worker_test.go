package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"guidon/internal/canvas"
	"guidon/internal/handlers"
	"guidon/internal/interaction"
	"guidon/internal/queue"
	"guidon/internal/registry"
	"guidon/internal/results"
	"guidon/internal/webhook"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []interaction.Message
}

func (f *fakeNotifier) Notify(_ context.Context, msg interaction.Message, _ results.Status, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

type failingStore struct{ results.Store }

func (failingStore) Put(context.Context, string, results.Status, json.RawMessage) error {
	return errors.New("store down")
}

func encode(t *testing.T, m interaction.Message) []byte {
	t.Helper()
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	data, err := m.Encode()
	require.NoError(t, err)
	return data
}

func drawMessage(token, hook string) interaction.Message {
	return interaction.Message{
		Token:   token,
		Channel: interaction.ChannelWeb,
		Command: "draw",
		Options: interaction.Options{
			interaction.IntOption("x", 10),
			interaction.IntOption("y", 20),
			interaction.StringOption("color", "#FF0000"),
		},
		Caller:     interaction.Caller{ID: "u1"},
		WebhookURL: hook,
	}
}

func newWorker(store results.Store, n Notifier) (*Worker, *handlers.Set) {
	hs := handlers.Default(handlers.Deps{Registry: registry.Default(), Board: canvas.New(48)})
	return New(Deps{Handlers: hs, Store: store, Webhook: webhook.NewSender(time.Second), Notifier: n}), hs
}

func TestProcessStoresSuccessAndCallsWebhook(t *testing.T) {
	var got webhook.Payload
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		hits <- struct{}{}
	}))
	defer srv.Close()

	store := results.NewMemoryStore(time.Minute)
	w, _ := newWorker(store, nil)
	require.NoError(t, w.Process(context.Background(), encode(t, drawMessage("T1", srv.URL))))

	rec, err := store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusSuccess, rec.Status)
	assert.JSONEq(t, `{"x":10,"y":20,"color":"#FF0000"}`, string(rec.Payload))

	<-hits
	assert.Equal(t, "T1", got.Token)
	assert.Equal(t, results.StatusSuccess, got.Status)
}

func TestWebhookFailureStillStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := results.NewMemoryStore(time.Minute)
	w, _ := newWorker(store, nil)
	require.NoError(t, w.Process(context.Background(), encode(t, drawMessage("T1", srv.URL))))
	rec, err := store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusSuccess, rec.Status)
}

func TestHandlerErrorBecomesErrorRecord(t *testing.T) {
	store := results.NewMemoryStore(time.Minute)
	w, hs := newWorker(store, nil)
	hs.Register("draw", func(context.Context, interaction.Invocation) (any, error) {
		return nil, errors.New("canvas locked")
	})
	require.NoError(t, w.Process(context.Background(), encode(t, drawMessage("T1", ""))))
	rec, err := store.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusError, rec.Status)
	assert.JSONEq(t, `{"error":"canvas locked"}`, string(rec.Payload))
}

func TestMalformedMessageIsDropped(t *testing.T) {
	store := results.NewMemoryStore(time.Minute)
	w, _ := newWorker(store, nil)
	assert.NoError(t, w.Process(context.Background(), []byte{0xff, 0x00, 0x13}))
	assert.NoError(t, w.Process(context.Background(), encode(t, interaction.Message{Channel: interaction.ChannelWeb})))
	assert.Zero(t, store.Len())
}

func TestMalformedMessageIsDiagnosed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	hs := handlers.Default(handlers.Deps{Registry: registry.Default(), Board: canvas.New(48)})
	w := New(Deps{Handlers: hs, Store: results.NewMemoryStore(time.Minute), Logger: zap.New(core)})

	require.NoError(t, w.Process(context.Background(), encode(t, interaction.Message{Channel: interaction.ChannelWeb, Command: "draw"})))
	require.NoError(t, w.Process(context.Background(), []byte{0xff, 0x00, 0x13}))

	entries := logs.FilterMessage("dropping malformed message").All()
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].ContextMap()["diagnostic"], `"command": "draw"`)
	assert.Contains(t, entries[1].ContextMap()["diagnostic"], "undecodable")
}

func TestRedeliveryRunsHandlerOnce(t *testing.T) {
	store := results.NewMemoryStore(time.Minute)
	w, hs := newWorker(store, nil)
	var calls atomic.Int32
	hs.Register("draw", func(context.Context, interaction.Invocation) (any, error) {
		calls.Add(1)
		return map[string]int{"n": 1}, nil
	})
	data := encode(t, drawMessage("T1", ""))
	require.NoError(t, w.Process(context.Background(), data))
	require.NoError(t, w.Process(context.Background(), data))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, store.Len())
}

func TestStoreFailureIsReported(t *testing.T) {
	w, _ := newWorker(failingStore{results.NewMemoryStore(time.Minute)}, nil)
	assert.Error(t, w.Process(context.Background(), encode(t, drawMessage("T1", ""))))
}

func TestChatResultsAreMirrored(t *testing.T) {
	n := &fakeNotifier{}
	w, _ := newWorker(results.NewMemoryStore(time.Minute), n)
	m := drawMessage("T9", "")
	m.Channel = interaction.ChannelChat
	m.Caller.ChatID = 42
	require.NoError(t, w.Process(context.Background(), encode(t, m)))
	require.Len(t, n.msgs, 1)
	assert.Equal(t, int64(42), n.msgs[0].Caller.ChatID)
}

func TestPoolEndToEnd(t *testing.T) {
	b, err := queue.NewBroker(queue.Options{AckDeadline: time.Second})
	require.NoError(t, err)
	defer b.Close()

	store := results.NewMemoryStore(time.Minute)
	w, _ := newWorker(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(w, b, registry.Default().Topics(), 2)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.NoError(t, b.Publish(ctx, registry.TopicArt, encode(t, drawMessage("T1", ""))))
	require.NoError(t, b.Publish(ctx, registry.TopicArt, []byte("garbage")))

	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), "T1")
		return err == nil && rec.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		ready, inflight := b.Depth(registry.TopicArt)
		return ready == 0 && inflight == 0
	}, 2*time.Second, 5*time.Millisecond, "both messages acked")

	cancel()
	require.NoError(t, <-done)
}

func TestPoolNacksWhenStoreFails(t *testing.T) {
	b, err := queue.NewBroker(queue.Options{AckDeadline: time.Minute})
	require.NoError(t, err)
	defer b.Close()

	w, _ := newWorker(failingStore{results.NewMemoryStore(time.Minute)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, registry.TopicArt)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, registry.TopicArt, encode(t, drawMessage("T1", ""))))

	w.OnMessage(ctx, <-ch)
	again := <-ch
	assert.Equal(t, 2, again.Attempt)
	require.NoError(t, again.Ack())
}
