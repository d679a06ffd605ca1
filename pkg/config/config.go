// Package config loads quina's settings from the environment and an optional
// JSON file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/quina/pkg/client"
)

// FileEnv names the environment variable pointing at an optional JSON config
// file. Environment variables override values from the file.
const FileEnv = "QUINA_CONFIG"

// Backend and provider names.
const (
	StoreSheets = "sheets"
	StoreMemory = "memory"

	StateMemory   = "memory"
	StateSQLite   = "sqlite"
	StatePostgres = "postgres"

	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Defaults applied to unset keys.
const (
	DefaultPort       = 8080
	DefaultGmailLabel = "PaymentNotifications"
	DefaultSQLitePath = "data/quina.db"
)

// ErrInvalid is wrapped by Validate errors.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the application configuration.
type Config struct {
	// Spreadsheet holding the expense table.
	SheetID   string `koanf:"SHEET_ID"`
	SheetName string `koanf:"SHEET_NAME"`

	// ServiceAccountJSON is the inline service account key, raw or base64.
	// It takes precedence over ServiceAccountFile.
	ServiceAccountJSON string `koanf:"SERVICE_ACCOUNT_JSON"`
	ServiceAccountFile string `koanf:"SERVICE_ACCOUNT_FILE"`

	// GmailTokenJSON is the inline Gmail user token, raw or base64. It takes
	// precedence over GmailTokenFile.
	GmailTokenJSON        string `koanf:"GMAIL_TOKEN_JSON"`
	GmailTokenFile        string `koanf:"GMAIL_TOKEN_FILE"`
	GmailClientSecretFile string `koanf:"GMAIL_CLIENT_SECRET_FILE"`
	GmailLabel            string `koanf:"GMAIL_LABEL"`

	TelegramBotToken      string `koanf:"TELEGRAM_BOT_TOKEN"`
	TelegramWebhookURL    string `koanf:"TELEGRAM_WEBHOOK_URL"`
	TelegramWebhookSecret string `koanf:"TELEGRAM_WEBHOOK_SECRET"`
	// TelegramUserID is the owner, who receives payment email summaries.
	TelegramUserID string `koanf:"TELEGRAM_USER_ID"`
	// AllowedUserIDs is a comma separated list. Defaults to TelegramUserID.
	AllowedUserIDs string `koanf:"ALLOWED_TELEGRAM_USER_IDS"`

	PubSubAuthToken string `koanf:"PUBSUB_AUTH_TOKEN"`
	Port            int    `koanf:"PORT"`

	StoreBackend string `koanf:"STORE_BACKEND"`
	StateBackend string `koanf:"STATE_BACKEND"`
	SQLitePath   string `koanf:"SQLITE_PATH"`
	DatabaseURL  string `koanf:"DATABASE_URL"`

	// AMQPURL enables the email event queue when set.
	AMQPURL      string `koanf:"AMQP_URL"`
	AMQPExchange string `koanf:"AMQP_EXCHANGE"`
	AMQPQueue    string `koanf:"AMQP_QUEUE"`

	LLMProvider      string `koanf:"LLM_PROVIDER"`
	LLMModel         string `koanf:"LLM_MODEL"`
	AnthropicAPIKey  string `koanf:"ANTHROPIC_API_KEY"`
	GoogleAPIKey     string `koanf:"GOOGLE_API_KEY"`
	AgentInstruction string `koanf:"AGENT_INSTRUCTION"`

	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`
}

// Load reads the JSON file named by QUINA_CONFIG, if any, then the
// environment, and fills in defaults.
func Load() (*Config, error) {
	return load(os.Getenv(FileEnv))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Empty variables leave file values in place.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.ServiceAccountFile == "" {
		c.ServiceAccountFile = client.ServiceAccountFile
	}
	if c.GmailTokenFile == "" {
		c.GmailTokenFile = client.TokenFile
	}
	if c.GmailClientSecretFile == "" {
		c.GmailClientSecretFile = client.ClientSecretFile
	}
	if c.GmailLabel == "" {
		c.GmailLabel = DefaultGmailLabel
	}
	if c.AllowedUserIDs == "" {
		c.AllowedUserIDs = c.TelegramUserID
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.StoreBackend == "" {
		c.StoreBackend = StoreSheets
	}
	if c.StateBackend == "" {
		c.StateBackend = StateMemory
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderGemini
	}
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
}

// AllowedUsers returns the Telegram user IDs permitted to talk to the bot.
func (c *Config) AllowedUsers() []string {
	var out []string
	for _, id := range strings.Split(c.AllowedUserIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.TelegramBotToken == "" {
		add("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramUserID == "" {
		add("TELEGRAM_USER_ID is required")
	} else if _, err := strconv.ParseInt(c.TelegramUserID, 10, 64); err != nil {
		add("TELEGRAM_USER_ID must be numeric, got %q", c.TelegramUserID)
	}
	if c.TelegramWebhookURL != "" {
		if u, err := url.Parse(c.TelegramWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			add("TELEGRAM_WEBHOOK_URL must be an https URL")
		}
	}
	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.StoreBackend {
	case StoreSheets:
		if c.SheetID == "" {
			add("SHEET_ID is required for the sheets store")
		}
		if c.SheetName == "" {
			add("SHEET_NAME is required for the sheets store")
		}
	case StoreMemory:
	default:
		add("STORE_BACKEND must be %q or %q, got %q", StoreSheets, StoreMemory, c.StoreBackend)
	}

	switch c.StateBackend {
	case StateMemory, StateSQLite:
	case StatePostgres:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres state backend")
		} else if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
			add("DATABASE_URL must start with postgres:// or postgresql://")
		}
	default:
		add("STATE_BACKEND must be one of %q, %q or %q, got %q", StateMemory, StateSQLite, StatePostgres, c.StateBackend)
	}

	if c.AMQPURL != "" && !strings.HasPrefix(c.AMQPURL, "amqp://") && !strings.HasPrefix(c.AMQPURL, "amqps://") {
		add("AMQP_URL must start with amqp:// or amqps://")
	}

	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			add("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			add("GOOGLE_API_KEY is required for the gemini provider")
		}
	default:
		add("LLM_PROVIDER must be %q or %q, got %q", ProviderAnthropic, ProviderGemini, c.LLMProvider)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(problems, "\n  - "))
}
