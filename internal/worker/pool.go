package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"guidon/internal/queue"
)

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan queue.Delivery, error)
}

// Pool runs a fixed number of consumers per topic.
type Pool struct {
	worker   *Worker
	sub      Subscriber
	topics   []string
	perTopic int
	logger   *zap.Logger
}

func NewPool(w *Worker, sub Subscriber, topics []string, perTopic int) *Pool {
	if perTopic <= 0 {
		perTopic = 1
	}
	return &Pool{worker: w, sub: sub, topics: topics, perTopic: perTopic, logger: w.logger}
}

// Run blocks until ctx is done. A message already taken off the queue is
// finished even if ctx ends meanwhile.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range p.topics {
		for i := 0; i < p.perTopic; i++ {
			ch, err := p.sub.Subscribe(gctx, topic)
			if err != nil {
				cancel()
				_ = g.Wait()
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
			topic, id := topic, i
			g.Go(func() error {
				p.logger.Debug("consumer started", zap.String("topic", topic), zap.Int("consumer", id))
				for d := range ch {
					p.worker.OnMessage(context.WithoutCancel(gctx), d)
				}
				return nil
			})
		}
	}
	p.logger.Info("worker pool running", zap.Strings("topics", p.topics), zap.Int("per_topic", p.perTopic))
	return g.Wait()
}
