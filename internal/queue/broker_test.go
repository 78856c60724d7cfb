package queue

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBroker(t *testing.T, ack time.Duration, j *Journal) *Broker {
	t.Helper()
	b, err := NewBroker(Options{AckDeadline: ack, Journal: j})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func recv(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
	return Delivery{}
}

func TestPublishSubscribeAck(t *testing.T) {
	b := newBroker(t, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "art", []byte("one")))

	d := recv(t, ch)
	assert.Equal(t, "one", string(d.Data))
	assert.Equal(t, 1, d.Attempt)
	require.NoError(t, d.Ack())

	ready, inflight := b.Depth("art")
	assert.Zero(t, ready)
	assert.Zero(t, inflight)
	assert.ErrorIs(t, d.Ack(), ErrUnknownDelivery)
}

func TestCompetingConsumersEachMessageOnce(t *testing.T) {
	b := newBroker(t, 5*time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const consumers, messages = 4, 40
	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		ch, err := b.Subscribe(ctx, "base")
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range ch {
				mu.Lock()
				seen[string(d.Data)]++
				mu.Unlock()
				_ = d.Ack()
			}
		}()
	}
	for i := 0; i < messages; i++ {
		require.NoError(t, b.Publish(ctx, "base", []byte(fmt.Sprint(i))))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == messages
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
	for k, n := range seen {
		assert.Equal(t, 1, n, "message %s", k)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := newBroker(t, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	art, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "base", []byte("x")))

	select {
	case d := <-art:
		t.Fatalf("art consumer received %q from base", d.Data)
	case <-time.After(50 * time.Millisecond):
	}
	ready, _ := b.Depth("base")
	assert.Equal(t, 1, ready)
}

func TestUnackedIsRedelivered(t *testing.T) {
	b := newBroker(t, 40*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "art", []byte("m")))

	first := recv(t, ch)
	second := recv(t, ch)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempt)
	require.NoError(t, second.Ack())
}

func TestNackRedeliversImmediately(t *testing.T) {
	b := newBroker(t, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "art", []byte("m")))
	d := recv(t, ch)
	require.NoError(t, d.Nack())
	again := recv(t, ch)
	assert.Equal(t, d.ID, again.ID)
	require.NoError(t, again.Ack())
}

func TestPublishAfterClose(t *testing.T) {
	b, err := NewBroker(Options{})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "art", nil), ErrClosed)
	_, err = b.Subscribe(context.Background(), "art")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournalReplaysUnacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := OpenJournal(path)
	require.NoError(t, err)
	b, err := NewBroker(Options{AckDeadline: time.Minute, Journal: j})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "art", []byte("acked")))
	require.NoError(t, b.Publish(ctx, "art", []byte("lost")))
	ch, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	d := recv(t, ch)
	require.Equal(t, "acked", string(d.Data))
	require.NoError(t, d.Ack())
	require.NoError(t, b.Close())

	j2, err := OpenJournal(path)
	require.NoError(t, err)
	b2 := newBroker(t, time.Minute, j2)
	ready, _ := b2.Depth("art")
	assert.Equal(t, 1, ready)
	ch2, err := b2.Subscribe(ctx, "art")
	require.NoError(t, err)
	assert.Equal(t, "lost", string(recv(t, ch2).Data))
}

func journalLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return bytes.Count(data, []byte("\n"))
}

func TestCompactJournalKeepsInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := OpenJournal(path)
	require.NoError(t, err)
	b, err := NewBroker(Options{AckDeadline: time.Minute, Journal: j})
	require.NoError(t, err)
	for _, m := range []string{"one", "two", "held"} {
		require.NoError(t, b.Publish(ctx, "art", []byte(m)))
	}
	ch, err := b.Subscribe(ctx, "art")
	require.NoError(t, err)
	require.NoError(t, recv(t, ch).Ack())
	require.NoError(t, recv(t, ch).Ack())
	held := recv(t, ch)
	require.Equal(t, "held", string(held.Data))
	assert.Equal(t, 5, journalLines(t, path))

	kept, err := b.CompactJournal()
	require.NoError(t, err)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, journalLines(t, path))

	require.NoError(t, b.Publish(ctx, "art", []byte("late")))
	assert.Equal(t, 2, journalLines(t, path))
	require.NoError(t, held.Ack())
	require.NoError(t, b.Close())

	_, err = b.CompactJournal()
	assert.ErrorIs(t, err, ErrClosed)

	j2, err := OpenJournal(path)
	require.NoError(t, err)
	b2 := newBroker(t, time.Minute, j2)
	ready, _ := b2.Depth("art")
	assert.Equal(t, 1, ready)
	ch2, err := b2.Subscribe(ctx, "art")
	require.NoError(t, err)
	assert.Equal(t, "late", string(recv(t, ch2).Data))
}

func TestCompactJournalWithoutJournal(t *testing.T) {
	b := newBroker(t, time.Second, nil)
	kept, err := b.CompactJournal()
	require.NoError(t, err)
	assert.Zero(t, kept)
}
