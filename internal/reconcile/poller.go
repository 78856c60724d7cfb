package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"guidon/internal/client"
)

var ErrPollTimeout = errors.New("result poll timed out")

// MaxAttempts bounds the polls for one token, the immediate one included.
const MaxAttempts = 30

var errStillProcessing = errors.New("still processing")

type ResultSource interface {
	Result(ctx context.Context, token string) (client.Result, error)
}

// Schedule is the delay sequence between polls: 200ms growing by 1.5 up
// to 2s, with bounded jitter.
func Schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 1.5
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type Poller struct {
	source      ResultSource
	maxAttempts int
	schedule    func() backoff.BackOff
}

func NewPoller(source ResultSource) *Poller {
	return &Poller{source: source, maxAttempts: MaxAttempts, schedule: Schedule}
}

// Poll asks immediately and then on the schedule until the record is
// terminal. Unauthorized answers end the poll at once; transient failures
// count as an attempt.
func (p *Poller) Poll(ctx context.Context, token string) (client.Result, int, error) {
	var (
		last     client.Result
		attempts int
	)
	op := func() error {
		attempts++
		r, err := p.source.Result(ctx, token)
		if err != nil {
			if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, client.ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		last = r
		if !r.Status.Terminal() {
			return errStillProcessing
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.schedule(), uint64(p.maxAttempts-1)), ctx)
	err := backoff.Retry(op, b)
	switch {
	case err == nil:
		return last, attempts, nil
	case ctx.Err() != nil:
		return last, attempts, ctx.Err()
	case errors.Is(err, client.ErrUnauthorized), errors.Is(err, client.ErrRejected):
		return last, attempts, err
	}
	return last, attempts, ErrPollTimeout
}
