// Package queue is a durable-enough topic queue with competing consumers
// and at-least-once delivery. A delivery that is neither acked nor nacked
// before its lease runs out goes back to the topic and is handed to the
// next free consumer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrClosed          = errors.New("queue closed")
	ErrUnknownDelivery = errors.New("unknown delivery")
)

type entry struct {
	id       string
	topic    string
	data     []byte
	attempt  int
	deadline time.Time
}

type topicState struct {
	ready    []*entry
	inflight map[string]*entry
	signal   chan struct{}
}

// Delivery is one hand-off of a message to one consumer.
type Delivery struct {
	ID      string
	Topic   string
	Data    []byte
	Attempt int

	broker *Broker
}

// Ack removes the message for good.
func (d Delivery) Ack() error { return d.broker.ack(d.Topic, d.ID) }

// Nack returns the message to the topic for immediate redelivery.
func (d Delivery) Nack() error { return d.broker.nack(d.Topic, d.ID) }

type Options struct {
	AckDeadline time.Duration
	// Journal, when set, persists enqueues and acks so unacked messages
	// survive a restart.
	Journal *Journal
	Logger  *zap.Logger
}

type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topicState
	ack     time.Duration
	journal *Journal
	logger  *zap.Logger
	now     func() time.Time

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewBroker starts a broker and replays the journal if one is given.
func NewBroker(opts Options) (*Broker, error) {
	if opts.AckDeadline <= 0 {
		opts.AckDeadline = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Broker{
		topics:  make(map[string]*topicState),
		ack:     opts.AckDeadline,
		journal: opts.Journal,
		logger:  opts.Logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if b.journal != nil {
		pending, err := b.journal.Replay()
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		for _, rec := range pending {
			ts := b.topic(rec.Topic)
			ts.ready = append(ts.ready, &entry{id: rec.ID, topic: rec.Topic, data: rec.Payload})
		}
		if len(pending) > 0 {
			b.logger.Info("queue journal replayed", zap.Int("pending", len(pending)))
		}
	}
	b.wg.Add(1)
	go b.redeliverLoop()
	return b, nil
}

// topic must be called with b.mu held.
func (b *Broker) topic(name string) *topicState {
	ts, ok := b.topics[name]
	if !ok {
		ts = &topicState{inflight: make(map[string]*entry), signal: make(chan struct{}, 1)}
		b.topics[name] = ts
	}
	return ts
}

func wake(ts *topicState) {
	select {
	case ts.signal <- struct{}{}:
	default:
	}
}

// Publish appends data to topic. It returns once the message is accepted.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" {
		return errors.New("empty topic")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	e := &entry{id: uuid.NewString(), topic: topic, data: append([]byte(nil), data...)}
	if b.journal != nil {
		if err := b.journal.Append(Record{Type: EnqueueRecord, ID: e.id, Topic: topic, Payload: e.data, Timestamp: b.now()}); err != nil {
			return fmt.Errorf("journal enqueue: %w", err)
		}
	}
	ts := b.topic(topic)
	ts.ready = append(ts.ready, e)
	wake(ts)
	return nil
}

// Subscribe attaches one consumer to topic. Every subscriber competes for
// the same messages. The channel closes when ctx ends or the broker closes.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ts := b.topic(topic)
	b.mu.Unlock()

	out := make(chan Delivery)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		for {
			e := b.take(ts)
			if e == nil {
				select {
				case <-ts.signal:
					continue
				case <-ctx.Done():
					return
				case <-b.done:
					return
				}
			}
			d := Delivery{ID: e.id, Topic: e.topic, Data: e.data, Attempt: e.attempt, broker: b}
			select {
			case out <- d:
			case <-ctx.Done():
				b.release(ts, e)
				return
			case <-b.done:
				b.release(ts, e)
				return
			}
		}
	}()
	return out, nil
}

// take leases the oldest ready entry, or returns nil.
func (b *Broker) take(ts *topicState) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(ts.ready) == 0 {
		return nil
	}
	e := ts.ready[0]
	ts.ready[0] = nil
	ts.ready = ts.ready[1:]
	e.attempt++
	e.deadline = b.now().Add(b.ack)
	ts.inflight[e.id] = e
	if len(ts.ready) > 0 {
		wake(ts)
	}
	return e
}

// release undoes a lease that was never handed out.
func (b *Broker) release(ts *topicState, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := ts.inflight[e.id]; !ok {
		return
	}
	delete(ts.inflight, e.id)
	e.attempt--
	ts.ready = append([]*entry{e}, ts.ready...)
	wake(ts)
}

func (b *Broker) ack(topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return ErrUnknownDelivery
	}
	if _, ok := ts.inflight[id]; ok {
		delete(ts.inflight, id)
	} else if i := indexOf(ts.ready, id); i >= 0 {
		// Lease ran out but the first consumer finished anyway.
		ts.ready = append(ts.ready[:i], ts.ready[i+1:]...)
	} else {
		return ErrUnknownDelivery
	}
	if b.journal != nil {
		if err := b.journal.Append(Record{Type: AckRecord, ID: id, Topic: topic, Timestamp: b.now()}); err != nil {
			return fmt.Errorf("journal ack: %w", err)
		}
	}
	return nil
}

func (b *Broker) nack(topic, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return ErrUnknownDelivery
	}
	e, ok := ts.inflight[id]
	if !ok {
		return ErrUnknownDelivery
	}
	delete(ts.inflight, id)
	ts.ready = append(ts.ready, e)
	wake(ts)
	return nil
}

func indexOf(entries []*entry, id string) int {
	for i, e := range entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (b *Broker) redeliverLoop() {
	defer b.wg.Done()
	interval := b.ack / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.expireLeases()
		}
	}
}

func (b *Broker) expireLeases() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for name, ts := range b.topics {
		expired := 0
		for id, e := range ts.inflight {
			if now.Before(e.deadline) {
				continue
			}
			delete(ts.inflight, id)
			ts.ready = append(ts.ready, e)
			expired++
		}
		if expired > 0 {
			b.logger.Warn("redelivering expired leases", zap.String("topic", name), zap.Int("count", expired))
			wake(ts)
		}
	}
}

// Depth reports ready and in-flight counts for topic.
func (b *Broker) Depth(topic string) (ready, inflight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return 0, 0
	}
	return len(ts.ready), len(ts.inflight)
}

// CompactJournal rewrites the journal down to the messages not yet acked,
// in flight ones included. Without a journal it does nothing.
func (b *Broker) CompactJournal() (int, error) {
	if b.journal == nil {
		return 0, nil
	}
	return b.journal.Compact()
}

// Close stops every subscription and the redelivery loop. Unacked
// messages stay in the journal.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	b.wg.Wait()
	if b.journal != nil {
		return b.journal.Close()
	}
	return nil
}
