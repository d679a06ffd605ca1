// Package telegram wraps the Bot API client with retries and context support,
// and provides the webhook update handler that routes messages from allowed
// users to the agent.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultBaseURL is the Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// MaxMessageLength is the Bot API limit for one text message, in characters.
const MaxMessageLength = 4096

// Retry defaults for rate limiting and server errors.
const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// Bot API types used across the service.
type (
	Update      = tgbotapi.Update
	Message     = tgbotapi.Message
	User        = tgbotapi.User
	Chat        = tgbotapi.Chat
	WebhookInfo = tgbotapi.WebhookInfo
)

// StatusError is returned for responses the Bot API did not answer with its
// JSON envelope, such as a gateway error page.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d", e.Code)
}

func retryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code >= http.StatusInternalServerError
}

// ctxClient binds outgoing requests to ctx and keeps non-JSON server errors
// from reaching the response decoder.
type ctxClient struct {
	ctx  context.Context
	http *http.Client
}

func (c ctxClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req.WithContext(c.ctx))
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError &&
		!strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

// Client calls the Bot API.
type Client struct {
	http     *http.Client
	endpoint string
	token    string
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another Bot API server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.endpoint = endpoint(u) }
}

// WithRetry sets the retry policy for 429 and 5xx responses.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func endpoint(base string) string {
	return strings.TrimRight(base, "/") + "/bot%s/%s"
}

// New creates a client for the bot identified by token. No request is made
// until the first call.
func New(token string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		http:     httpClient,
		endpoint: endpoint(DefaultBaseURL),
		token:    token,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		logger:   logger.With("component", "telegram"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api returns a Bot API handle whose requests are bound to ctx. It is built
// directly rather than with tgbotapi.NewBotAPI, which calls getMe.
func (c *Client) api(ctx context.Context) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{Token: c.token, Client: ctxClient{ctx: ctx, http: c.http}}
	bot.SetAPIEndpoint(c.endpoint)
	return bot
}

func (c *Client) call(ctx context.Context, method string, fn func(*tgbotapi.BotAPI) error) error {
	err := retry.Do(
		func() error { return fn(c.api(ctx)) },
		retry.RetryIf(func(err error) bool {
			if retryable(err) {
				c.logger.Warn("telegram request failed, will retry", "method", method, "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	return nil
}

// SendMessage sends plain text to chatID, split into several messages when it
// exceeds MaxMessageLength.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range Split(text, MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		err := c.call(ctx, "sendMessage", func(bot *tgbotapi.BotAPI) error {
			_, err := bot.Send(msg)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetWebhook registers url, with secret sent back in the
// X-Telegram-Bot-Api-Secret-Token header when set.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	return c.call(ctx, "setWebhook", func(bot *tgbotapi.BotAPI) error {
		_, err := bot.MakeRequest("setWebhook", params)
		return err
	})
}

// WebhookInfo returns the current webhook registration.
func (c *Client) WebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	err := c.call(ctx, "getWebhookInfo", func(bot *tgbotapi.BotAPI) error {
		var err error
		info, err = bot.GetWebhookInfo()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Me returns the bot's own account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	err := c.call(ctx, "getMe", func(bot *tgbotapi.BotAPI) error {
		var err error
		u, err = bot.GetMe()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureWebhook registers url unless it is already the current webhook. It
// reports whether a change was made.
func (c *Client) EnsureWebhook(ctx context.Context, url, secret string) (bool, error) {
	info, err := c.WebhookInfo(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching webhook info: %w", err)
	}
	if info.URL == url {
		c.logger.Info("webhook already set", "url", url)
		return false, nil
	}

	if err := c.SetWebhook(ctx, url, secret); err != nil {
		return false, fmt.Errorf("setting webhook: %w", err)
	}
	if secret == "" {
		c.logger.Warn("webhook configured without secret token", "url", url)
	} else {
		c.logger.Info("webhook configured with secret token", "url", url)
	}
	return true, nil
}

// Split breaks text into chunks of at most limit characters, preferring to
// cut at a newline.
func Split(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
