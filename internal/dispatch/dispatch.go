// Package dispatch is the front door for interactions. It verifies the
// caller, classifies the command, runs fast commands inline and hands slow
// ones to the queue under a correlation token.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"guidon/internal/handlers"
	"guidon/internal/interaction"
	"guidon/internal/registry"
	"guidon/internal/results"
	"guidon/internal/storage"
	"guidon/internal/verify"
)

var (
	ErrPublish    = errors.New("publish failed")
	ErrTokenInUse = errors.New("token in use")
	ErrTimeout    = errors.New("timeout")
)

// Chat platform response types.
const (
	ResponsePong     = 1
	ResponseMessage  = 4
	ResponseDeferred = 5
)

type Verifier interface {
	Verify(ctx context.Context, channel interaction.Channel, raw verify.Raw) (interaction.Caller, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Response is the JSON body of every dispatch answer.
type Response struct {
	Type    int             `json:"type,omitempty"`
	Token   string          `json:"token,omitempty"`
	Status  results.Status  `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Outcome is an HTTP status plus body.
type Outcome struct {
	Status int
	Body   Response
}

type Options struct {
	FastBudget        time.Duration
	PublishRetryDelay time.Duration
}

type Dispatcher struct {
	verifier  Verifier
	registry  *registry.Registry
	handlers  *handlers.Set
	publisher Publisher
	store     results.Store
	recorder  storage.Recorder
	logger    *zap.Logger
	opts      Options

	now      func() time.Time
	newToken func() string
}

func New(v Verifier, reg *registry.Registry, hs *handlers.Set, pub Publisher, store results.Store, rec storage.Recorder, logger *zap.Logger, opts Options) *Dispatcher {
	if opts.FastBudget <= 0 {
		opts.FastBudget = time.Second
	}
	if opts.PublishRetryDelay <= 0 {
		opts.PublishRetryDelay = 100 * time.Millisecond
	}
	if rec == nil {
		rec = storage.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		verifier:  v,
		registry:  reg,
		handlers:  hs,
		publisher: pub,
		store:     store,
		recorder:  rec,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

func failure(status int, code string, err error) Outcome {
	return Outcome{Status: status, Body: Response{Error: err.Error(), Code: code}}
}

// Handle processes one ingress request end to end.
func (d *Dispatcher) Handle(ctx context.Context, channel interaction.Channel, raw verify.Raw) Outcome {
	start := d.now()
	caller, err := d.verifier.Verify(ctx, channel, raw)
	if err != nil {
		status, code := verify.Status(err)
		d.logger.Info("interaction rejected", zap.String("channel", string(channel)), zap.String("code", code))
		return failure(status, code, err)
	}

	req, err := interaction.ParseRequest(raw.Body)
	if err != nil {
		return failure(http.StatusBadRequest, "malformed_request", err)
	}
	if channel == interaction.ChannelChat && req.Type == interaction.TypePing {
		return Outcome{Status: http.StatusOK, Body: Response{Type: ResponsePong}}
	}

	decision, err := d.registry.Classify(req.Command)
	if err != nil {
		return failure(http.StatusBadRequest, "invalid_command", registry.ErrUnknownCommand)
	}
	entry, _ := d.registry.Lookup(req.Command)
	if err := entry.CheckOptions(req.Options); err != nil {
		return failure(http.StatusBadRequest, "invalid_options", err)
	}

	inv := interaction.Invocation{
		Token:   req.Token,
		Channel: channel,
		Command: req.Command,
		Options: req.Options,
		Caller:  caller,
	}
	var out Outcome
	if decision.Fast() {
		out = d.runFast(ctx, inv)
	} else {
		out = d.enqueue(ctx, inv, decision.Topic, req.WebhookURL)
	}

	d.record(inv, out, d.now().Sub(start))
	return out
}

func (d *Dispatcher) runFast(ctx context.Context, inv interaction.Invocation) Outcome {
	f, ok := d.handlers.Lookup(inv.Command)
	if !ok {
		return failure(http.StatusInternalServerError, "no_handler", fmt.Errorf("no handler for %q", inv.Command))
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.FastBudget)
	defer cancel()

	type result struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := handlers.Invoke(ctx, f, inv)
		done <- result{payload, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		d.logger.Warn("fast command over budget",
			zap.String("command", inv.Command),
			zap.Duration("budget", d.opts.FastBudget))
		return failure(http.StatusServiceUnavailable, "timeout", ErrTimeout)
	}

	body := Response{Token: inv.Token, Status: results.StatusSuccess, Payload: res.payload}
	if res.err != nil {
		d.logger.Warn("fast command failed", zap.String("command", inv.Command), zap.Error(res.err))
		body.Status = results.StatusError
		body.Payload = results.ErrorPayload(res.err)
	}
	if inv.Channel == interaction.ChannelChat {
		body.Type = ResponseMessage
	}
	return Outcome{Status: http.StatusOK, Body: body}
}

func (d *Dispatcher) enqueue(ctx context.Context, inv interaction.Invocation, topic, webhookURL string) Outcome {
	logger := d.logger.With(zap.String("command", inv.Command), zap.String("topic", topic), zap.String("channel", string(inv.Channel)))

	// Chat tokens are always ours; web callers may bring their own.
	if inv.Channel == interaction.ChannelChat || inv.Token == "" {
		inv.Token = d.newToken()
	}
	logger = logger.With(zap.String("token", inv.Token))

	msg := interaction.Message{
		Token:      inv.Token,
		Channel:    inv.Channel,
		Command:    inv.Command,
		Options:    inv.Options,
		Caller:     inv.Caller,
		WebhookURL: webhookURL,
		EnqueuedAt: d.now().UTC(),
	}
	data, err := msg.Encode()
	if err != nil {
		return failure(http.StatusInternalServerError, "encode", err)
	}

	if err := d.store.Create(ctx, inv.Token, results.StatusProcessing); err != nil {
		if errors.Is(err, results.ErrExists) {
			return failure(http.StatusConflict, "token_in_use", ErrTokenInUse)
		}
		logger.Error("result store unavailable", zap.Error(err))
		return failure(http.StatusServiceUnavailable, "store_unavailable", err)
	}

	if err := d.publish(ctx, topic, data); err != nil {
		logger.Error("publish failed", zap.Error(err))
		_ = d.store.Delete(context.WithoutCancel(ctx), inv.Token)
		return failure(http.StatusServiceUnavailable, "publish_failed", ErrPublish)
	}
	logger.Debug("command enqueued")

	// A worker may already have finished; answering with its result is
	// not premature.
	if rec, err := d.store.Get(ctx, inv.Token); err == nil && rec.Status.Terminal() {
		body := Response{Token: inv.Token, Status: rec.Status, Payload: rec.Payload}
		if inv.Channel == interaction.ChannelChat {
			body.Type = ResponseMessage
		}
		return Outcome{Status: http.StatusOK, Body: body}
	}

	if inv.Channel == interaction.ChannelChat {
		return Outcome{Status: http.StatusOK, Body: Response{Type: ResponseDeferred, Token: inv.Token}}
	}
	return Outcome{Status: http.StatusAccepted, Body: Response{Token: inv.Token}}
}

// publish tries once more after a short pause before giving up.
func (d *Dispatcher) publish(ctx context.Context, topic string, data []byte) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(d.opts.PublishRetryDelay), 1), ctx)
	return backoff.Retry(func() error {
		return d.publisher.Publish(ctx, topic, data)
	}, b)
}

func (d *Dispatcher) record(inv interaction.Invocation, out Outcome, took time.Duration) {
	token := inv.Token
	if out.Body.Token != "" {
		token = out.Body.Token
	}
	ev := storage.Event{
		Timestamp: d.now(),
		Stage:     storage.StageAccepted,
		Token:     token,
		Channel:   string(inv.Channel),
		Command:   inv.Command,
		UserID:    inv.Caller.ID,
		Status:    strconv.Itoa(out.Status),
		Duration:  took.Milliseconds(),
	}
	if err := d.recorder.AppendInteraction(ev); err != nil {
		d.logger.Warn("failed to record interaction", zap.Error(err))
	}
}
