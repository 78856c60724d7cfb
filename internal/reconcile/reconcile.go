// Package reconcile drives one command from issue to a terminal outcome on
// the client side: optimistic apply, polling, then confirm or roll back.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidon/internal/canvas"
	"guidon/internal/client"
	"guidon/internal/interaction"
	"guidon/internal/pending"
	"guidon/internal/registry"
	"guidon/internal/results"
)

type Outcome string

const (
	Confirmed Outcome = "confirmed"
	Failed    Outcome = "failed"
	TimedOut  Outcome = "timed_out"
)

type API interface {
	ResultSource
	Issue(ctx context.Context, req interaction.Request) (client.Ack, error)
}

// Refresher returns the authoritative shared state.
type Refresher interface {
	Canvas(ctx context.Context) (canvas.State, error)
}

// Notice tells the user how a command ended.
type Notice struct {
	Token   string
	Command string
	Outcome Outcome
	Message string
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Result is the terminal outcome of one command.
type Result struct {
	Token    string
	Outcome  Outcome
	Status   results.Status
	Payload  json.RawMessage
	Attempts int
}

type Options struct {
	// RefreshDelay separates a confirmation from the full refresh it triggers.
	RefreshDelay time.Duration
	Logger       *zap.Logger
}

type Reconciler struct {
	api       API
	poller    *Poller
	ledger    *pending.Ledger
	registry  *registry.Registry
	refresher Refresher
	notifier  Notifier
	opts      Options
	logger    *zap.Logger
	newToken  func() string

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func New(api API, reg *registry.Registry, ledger *pending.Ledger, refresher Refresher, notifier Notifier, opts Options) *Reconciler {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	return &Reconciler{
		api:       api,
		poller:    NewPoller(api),
		ledger:    ledger,
		registry:  reg,
		refresher: refresher,
		notifier:  notifier,
		opts:      opts,
		logger:    opts.Logger,
		newToken:  uuid.NewString,
		done:      make(chan struct{}),
	}
}

// Do issues req and follows it to a terminal outcome. The returned error is
// non-nil only when the command could not be issued at all or the poll was
// cut short by ctx or an authorization failure.
func (r *Reconciler) Do(ctx context.Context, req interaction.Request) (Result, error) {
	if req.Token == "" {
		req.Token = r.newToken()
	}
	logger := r.logger.With(zap.String("token", req.Token), zap.String("command", req.Command))
	optimistic := r.applyOptimistic(req)

	ack, err := r.api.Issue(ctx, req)
	if err != nil {
		r.settle(req, false, optimistic)
		r.notify(req, Failed, err.Error())
		return Result{Token: req.Token, Outcome: Failed}, fmt.Errorf("issue %s: %w", req.Command, err)
	}
	if ack.Response.Token != "" {
		req.Token = ack.Response.Token
	}
	if ack.Terminal() {
		return r.finish(req, optimistic, ack.Response.Status, ack.Response.Payload, 0), nil
	}

	rec, attempts, err := r.poller.Poll(ctx, req.Token)
	switch {
	case err == nil:
		res := r.finish(req, optimistic, rec.Status, rec.Payload, attempts)
		return res, nil
	case errors.Is(err, ErrPollTimeout):
		logger.Warn("no result after polling", zap.Int("attempts", attempts))
		r.settle(req, false, optimistic)
		r.notify(req, TimedOut, "still not done, your change was reverted")
		return Result{Token: req.Token, Outcome: TimedOut, Attempts: attempts}, nil
	default:
		r.settle(req, false, optimistic)
		r.notify(req, Failed, err.Error())
		return Result{Token: req.Token, Outcome: Failed, Attempts: attempts}, fmt.Errorf("poll %s: %w", req.Token, err)
	}
}

func (r *Reconciler) finish(req interaction.Request, optimistic bool, status results.Status, payload json.RawMessage, attempts int) Result {
	res := Result{Token: req.Token, Status: status, Payload: payload, Attempts: attempts}
	if status == results.StatusSuccess {
		res.Outcome = Confirmed
		r.settle(req, true, optimistic)
		r.notify(req, Confirmed, "done")
		if optimistic {
			r.scheduleRefresh()
		}
		return res
	}
	res.Outcome = Failed
	r.settle(req, false, optimistic)
	r.notify(req, Failed, errorMessage(payload))
	return res
}

func errorMessage(payload json.RawMessage) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil && body.Error != "" {
		return body.Error
	}
	return "command failed"
}

// applyOptimistic shows the effect of a visible command before the server
// has run it.
func (r *Reconciler) applyOptimistic(req interaction.Request) bool {
	if r.ledger == nil || r.registry == nil {
		return false
	}
	entry, ok := r.registry.Lookup(req.Command)
	if !ok || !entry.Visible {
		return false
	}
	x, okX := req.Options.Int("x")
	y, okY := req.Options.Int("y")
	spec, okC := req.Options.Text("color")
	if !okX || !okY || !okC {
		return false
	}
	color, err := canvas.ParseColor(spec)
	if err != nil {
		return false
	}
	r.ledger.Apply(req.Token, canvas.Key(int(x), int(y)), color)
	return true
}

func (r *Reconciler) settle(req interaction.Request, ok, optimistic bool) {
	if !optimistic {
		return
	}
	if ok {
		r.ledger.Confirm(req.Token)
		return
	}
	r.ledger.Rollback(req.Token)
}

func (r *Reconciler) notify(req interaction.Request, o Outcome, msg string) {
	r.notifier.Notify(Notice{Token: req.Token, Command: req.Command, Outcome: o, Message: msg})
}

func (r *Reconciler) scheduleRefresh() {
	if r.refresher == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTimer(r.opts.RefreshDelay)
		defer t.Stop()
		select {
		case <-r.done:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := r.refresher.Canvas(ctx)
		if err != nil {
			r.logger.Warn("refresh after confirmation failed", zap.Error(err))
			return
		}
		r.ledger.Sync(st.Pixels)
	}()
}

// Close cancels pending refreshes and waits for running ones.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
