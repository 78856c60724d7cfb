// Package worker consumes slow commands from the queue, runs them and
// records the outcome where the caller can find it.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guidon/internal/codec"
	"guidon/internal/handlers"
	"guidon/internal/interaction"
	"guidon/internal/queue"
	"guidon/internal/results"
	"guidon/internal/storage"
	"guidon/internal/webhook"
)

type WebhookSender interface {
	Send(ctx context.Context, url string, p webhook.Payload) error
}

// Notifier receives a copy of every terminal result, best effort.
type Notifier interface {
	Notify(ctx context.Context, msg interaction.Message, status results.Status, payload json.RawMessage) error
}

type Deps struct {
	Handlers *handlers.Set
	Store    results.Store
	Webhook  WebhookSender
	Notifier Notifier
	Recorder storage.Recorder
	Logger   *zap.Logger
}

type Worker struct {
	handlers *handlers.Set
	store    results.Store
	webhook  WebhookSender
	notifier Notifier
	recorder storage.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func New(d Deps) *Worker {
	if d.Recorder == nil {
		d.Recorder = storage.Discard{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Worker{
		handlers: d.Handlers,
		store:    d.Store,
		webhook:  d.Webhook,
		notifier: d.Notifier,
		recorder: d.Recorder,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// OnMessage processes one delivery and acks it once the result is stored.
// A delivery whose result could not be stored is nacked for redelivery.
func (w *Worker) OnMessage(ctx context.Context, d queue.Delivery) {
	logger := w.logger.With(zap.String("topic", d.Topic), zap.Int("attempt", d.Attempt))
	if err := w.Process(ctx, d.Data); err != nil {
		logger.Error("result not stored, returning message to queue", zap.Error(err))
		if nerr := d.Nack(); nerr != nil {
			logger.Warn("nack failed", zap.Error(nerr))
		}
		return
	}
	if err := d.Ack(); err != nil {
		logger.Warn("ack failed", zap.Error(err))
	}
}

// Process runs one encoded message to completion. It returns an error only
// when the terminal record could not be written.
func (w *Worker) Process(ctx context.Context, data []byte) error {
	start := w.now()
	msg, err := interaction.DecodeMessage(data)
	if err != nil {
		diag, derr := codec.Diagnose(data)
		if derr != nil {
			diag = "undecodable: " + derr.Error()
		}
		w.logger.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(data)), zap.String("diagnostic", diag))
		return nil
	}
	logger := w.logger.With(
		zap.String("token", msg.Token),
		zap.String("command", msg.Command),
		zap.String("channel", string(msg.Channel)),
	)

	if rec, err := w.store.Get(ctx, msg.Token); err == nil && rec.Status.Terminal() {
		logger.Info("duplicate delivery, result already stored")
		return nil
	}

	status, payload := w.execute(ctx, msg)
	if status == results.StatusError {
		logger.Warn("command failed", zap.ByteString("payload", payload))
	}

	if err := w.store.Put(ctx, msg.Token, status, payload); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	if msg.WebhookURL != "" {
		err := w.webhook.Send(ctx, msg.WebhookURL, webhook.Payload{Token: msg.Token, Status: status, Payload: payload})
		if err != nil {
			logger.Warn("webhook delivery failed", zap.Error(err))
		}
	}
	if w.notifier != nil {
		if err := w.notifier.Notify(ctx, msg, status, payload); err != nil {
			logger.Warn("chat follow-up failed", zap.Error(err))
		}
	}

	ev := storage.Event{
		Timestamp: w.now(),
		Stage:     storage.StageCompleted,
		Token:     msg.Token,
		Channel:   string(msg.Channel),
		Command:   msg.Command,
		UserID:    msg.Caller.ID,
		Status:    string(status),
		Duration:  w.now().Sub(start).Milliseconds(),
	}
	if err := w.recorder.AppendInteraction(ev); err != nil {
		logger.Warn("failed to record completion", zap.Error(err))
	}
	logger.Debug("command completed", zap.String("status", string(status)))
	return nil
}

func (w *Worker) execute(ctx context.Context, msg interaction.Message) (results.Status, json.RawMessage) {
	f, ok := w.handlers.Lookup(msg.Command)
	if !ok {
		return results.StatusError, results.ErrorPayload(fmt.Errorf("no handler for %q", msg.Command))
	}
	payload, err := handlers.Invoke(ctx, f, msg.Invocation())
	if err != nil {
		return results.StatusError, results.ErrorPayload(err)
	}
	return results.StatusSuccess, payload
}
