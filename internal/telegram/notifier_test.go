package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"guidon/internal/interaction"
	"guidon/internal/results"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func chatMessage(chatID int64) interaction.Message {
	return interaction.Message{
		Token:   "T1",
		Channel: interaction.ChannelChat,
		Command: "draw",
		Caller:  interaction.Caller{ID: "7", ChatID: chatID},
	}
}

func TestNotify_HTML(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "HTML", nil)
	err := n.Notify(context.Background(), chatMessage(100), results.StatusSuccess, json.RawMessage(`{"x":1,"color":"<red>"}`))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fs.sent))
	}
	m := fs.sent[0]
	if m.ChatID != 100 || m.ParseMode != "HTML" {
		t.Fatalf("unexpected message config: %+v", m)
	}
	if !strings.Contains(m.Text, "<b>✅ /draw done</b>") || !strings.Contains(m.Text, "&lt;red&gt;") {
		t.Fatalf("unexpected text: %q", m.Text)
	}
}

func TestNotify_ErrorShowsMessage(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "", nil)
	_ = n.Notify(context.Background(), chatMessage(5), results.StatusError, results.ErrorPayload(errors.New("out of bounds")))
	if len(fs.sent) != 1 || fs.sent[0].Text != "❌ /draw failed\nout of bounds" {
		t.Fatalf("unexpected: %+v", fs.sent)
	}
}

func TestNotify_LongErrorCutOnRuneBoundary(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "", nil)
	long := "a" + strings.Repeat("цвет ", maxPayloadPreview)
	_ = n.Notify(context.Background(), chatMessage(5), results.StatusError, results.ErrorPayload(errors.New(long)))
	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fs.sent))
	}
	text := fs.sent[0].Text
	if !utf8.ValidString(text) {
		t.Fatalf("follow-up is not valid UTF-8: %q", text)
	}
	body := strings.TrimPrefix(text, "❌ /draw failed\n")
	if !strings.HasSuffix(body, "…") || utf8.RuneCountInString(body) != maxPayloadPreview+1 {
		t.Fatalf("unexpected preview (%d runes): %q", utf8.RuneCountInString(body), body)
	}
}

func TestPreviewShortTextUntouched(t *testing.T) {
	if got := preview("привет", 6); got != "привет" {
		t.Fatalf("got %q", got)
	}
	if got := preview("привет", 3); got != "при…" {
		t.Fatalf("got %q", got)
	}
}

func TestNotify_MarkdownV2Escapes(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "MarkdownV2", nil)
	msg := chatMessage(5)
	msg.Command = "pixel_info"
	_ = n.Notify(context.Background(), msg, results.StatusSuccess, nil)
	if len(fs.sent) != 1 || fs.sent[0].Text != `*✅ /pixel\_info done*` {
		t.Fatalf("unexpected: %+v", fs.sent)
	}
}

func TestNotify_SkipsWithoutChat(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "HTML", nil)
	if err := n.Notify(context.Background(), chatMessage(0), results.StatusSuccess, nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	web := chatMessage(9)
	web.Channel = interaction.ChannelWeb
	_ = n.Notify(context.Background(), web, results.StatusSuccess, nil)
	if len(fs.sent) != 0 {
		t.Fatalf("nothing should be sent: %+v", fs.sent)
	}
}

func TestNotify_SendError(t *testing.T) {
	n := newNotifier(&fakeSender{err: errors.New("429")}, "HTML", nil)
	if err := n.Notify(context.Background(), chatMessage(1), results.StatusSuccess, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendReport(t *testing.T) {
	fs := &fakeSender{}
	n := newNotifier(fs, "HTML", nil)
	if err := n.SendReport(context.Background(), 0, "ignored"); err != nil || len(fs.sent) != 0 {
		t.Fatalf("report without chat must be skipped: %v %d", err, len(fs.sent))
	}
	if err := n.SendReport(context.Background(), 99, "Guidon usage for 2026-03-10"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0].ChatID != 99 || fs.sent[0].ParseMode != "" {
		t.Fatalf("unexpected message: %+v", fs.sent)
	}
}
