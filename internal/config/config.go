package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

type Config struct {
	// HTTP ingress
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	// Verification
	ChatPublicKey    string `env:"CHAT_PUBLIC_KEY"`
	SessionsFilePath string `env:"SESSIONS_FILE_PATH" envDefault:"data/sessions.json"`
	AuthServiceURL   string `env:"AUTH_SERVICE_URL"`

	// Command registry override (YAML)
	CommandsFile string `env:"COMMANDS_FILE"`

	// Queue
	QueueJournalPath string        `env:"QUEUE_JOURNAL_PATH" envDefault:"data/queue.jsonl"`
	QueueAckDeadline time.Duration `env:"QUEUE_ACK_DEADLINE" envDefault:"30s"`
	QueueCompactSpec string        `env:"QUEUE_COMPACT_SPEC" envDefault:"@every 10m"`
	WorkersPerTopic  int           `env:"WORKERS_PER_TOPIC" envDefault:"4"`

	// Dispatch & delivery
	FastBudget        time.Duration `env:"FAST_BUDGET" envDefault:"1s"`
	PublishRetryDelay time.Duration `env:"PUBLISH_RETRY_DELAY" envDefault:"100ms"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`

	// Result store
	ResultTTL       time.Duration `env:"RESULT_TTL" envDefault:"5m"`
	ResultSweepSpec string        `env:"RESULT_SWEEP_SPEC" envDefault:"@every 30s"`

	// Interaction journal and reporting
	LogFilePath      string        `env:"LOG_FILE_PATH" envDefault:"logs/interactions.jsonl"`
	ReportSpec       string        `env:"REPORT_SPEC" envDefault:"0 21 * * *"`
	JournalRetention time.Duration `env:"JOURNAL_RETENTION" envDefault:"720h"`
	AdminChatID      int64         `env:"ADMIN_CHAT_ID"`

	// Chat follow-up (optional)
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	MessageParseMode string `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`

	// Business collaborators
	CanvasSize int `env:"CANVAS_SIZE" envDefault:"48"`

	// Logging
	LogLevel  string    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat LogFormat `env:"LOG_FORMAT" envDefault:"json"`
}

// Parse reads the configuration from the environment without exiting on error.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
