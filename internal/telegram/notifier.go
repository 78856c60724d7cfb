package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"guidon/internal/interaction"
	"guidon/internal/results"
)

const maxPayloadPreview = 600

// Notifier mirrors terminal results of slow chat commands into the
// conversation they came from.
type Notifier struct {
	s         sender
	parseMode string
	logger    *zap.Logger
}

func NewNotifier(botToken, parseMode string, logger *zap.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("init bot api: %w", err)
	}
	return newNotifier(botAPISender{api: api}, parseMode, logger), nil
}

func newNotifier(s sender, parseMode string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{s: s, parseMode: parseMode, logger: logger}
}

// Notify sends one follow-up message. Messages without a chat id are skipped.
func (n *Notifier) Notify(_ context.Context, msg interaction.Message, status results.Status, payload json.RawMessage) error {
	chatID := msg.Caller.ChatID
	if msg.Channel != interaction.ChannelChat || chatID == 0 {
		return nil
	}
	out := tgbotapi.NewMessage(chatID, n.format(msg.Command, status, payload))
	out.ParseMode = n.parseMode
	if _, err := n.s.Send(out); err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}
	n.logger.Debug("follow-up sent", zap.String("token", msg.Token), zap.Int64("chat_id", chatID))
	return nil
}

func (n *Notifier) format(command string, status results.Status, payload json.RawMessage) string {
	head := "✅ /" + command + " done"
	if status == results.StatusError {
		head = "❌ /" + command + " failed"
	}
	body := string(payload)
	if status == results.StatusError {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			body = e.Error
		}
	}
	body = preview(body, maxPayloadPreview)

	switch strings.ToLower(n.parseMode) {
	case strings.ToLower(tgbotapi.ModeHTML):
		text := "<b>" + html.EscapeString(head) + "</b>"
		if body != "" {
			text += "\n<code>" + html.EscapeString(body) + "</code>"
		}
		return text
	case strings.ToLower(tgbotapi.ModeMarkdownV2):
		text := "*" + escapeMarkdownV2(head) + "*"
		if body != "" {
			text += "\n`" + strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(body) + "`"
		}
		return text
	default:
		if body == "" {
			return head
		}
		return head + "\n" + body
	}
}

// preview keeps at most limit runes of s, marking the cut with an ellipsis.
func preview(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "…"
		}
		n++
	}
	return s
}

var markdownV2 = strings.NewReplacer(
	"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-",
	"=", "\\=", "|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMarkdownV2(s string) string { return markdownV2.Replace(s) }

// SendReport posts a plain-text report to an operator chat.
func (n *Notifier) SendReport(_ context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return nil
	}
	if _, err := n.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}
