// Package server exposes the Telegram webhook, the Gmail Pub/Sub push
// endpoint and health checks over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ArionMiles/quina/pkg/logging"
	"github.com/ArionMiles/quina/pkg/telegram"
)

// Header names checked by the webhook endpoints.
const (
	TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	PubSubTokenHeader    = "X-PubSub-Auth-Token"
)

const maxBodyBytes = 1 << 20

// Updater handles Telegram updates.
type Updater interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

// Notifier handles Gmail change notifications.
type Notifier interface {
	OnNotification(ctx context.Context, mailbox string, cursor uint64) ([]string, error)
}

// Config configures the endpoints.
type Config struct {
	// WebhookSecret, when set, must be sent by Telegram with every update.
	WebhookSecret string
	// PubSubToken, when set, must be sent by the push subscription.
	PubSubToken string
	Version     string
	// Processed reports how many emails have been processed. Optional.
	Processed func(ctx context.Context) (int, error)
}

// Server is the quina HTTP server.
type Server struct {
	*http.Server
	cfg     Config
	bot     Updater
	tracker Notifier
	logger  *slog.Logger

	// background notification handlers
	wg sync.WaitGroup
}

// New creates a server listening on addr.
func New(addr string, cfg Config, bot Updater, tracker Notifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:     cfg,
		bot:     bot,
		tracker: tracker,
		logger:  logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /telegram/webhook", s.handleTelegram)
	mux.HandleFunc("POST /pubsub/push", s.handlePubSub)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

// withRequestID gives every request a logger tagged with a fresh request_id.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, logger := logging.WithRequestID(r.Context(), s.logger)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.Debug("request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Shutdown stops accepting requests and waits for in-flight handlers and
// background notification processing to finish, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("waiting for notification handlers: %w", ctx.Err()))
	}
	return err
}

func (s *Server) handleTelegram(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(TelegramSecretHeader)
		if got == "" {
			logger.Warn("telegram webhook without secret token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing secret token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			logger.Warn("telegram webhook with wrong secret token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid secret token"})
			return
		}
	}

	var u telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&u); err != nil {
		logger.Warn("malformed telegram update", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed update"})
		return
	}

	// Telegram redelivers anything but a 2xx, so failures are only logged.
	if err := s.bot.HandleUpdate(r.Context(), u); err != nil && !errors.Is(err, telegram.ErrUnauthorized) {
		logger.Error("failed to handle telegram update", "update_id", u.UpdateID, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type gmailNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// decodePush extracts the mailbox and history cursor from a push body.
func decodePush(body io.Reader) (string, uint64, error) {
	var env pushEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return "", 0, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Message.Data == "" {
		return "", 0, errors.New("envelope has no data")
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		if data, err = base64.URLEncoding.DecodeString(env.Message.Data); err != nil {
			return "", 0, fmt.Errorf("decoding data: %w", err)
		}
	}

	var n gmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return "", 0, fmt.Errorf("decoding notification: %w", err)
	}
	if n.EmailAddress == "" {
		return "", 0, errors.New("notification has no emailAddress")
	}
	cursor, err := strconv.ParseUint(n.HistoryID.String(), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing historyId %q: %w", n.HistoryID, err)
	}
	return n.EmailAddress, cursor, nil
}

func (s *Server) handlePubSub(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	if s.cfg.PubSubToken != "" {
		got := r.Header.Get(PubSubTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.PubSubToken)) != 1 {
			logger.Warn("pubsub push with invalid token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
			return
		}
	}

	mailbox, cursor, err := decodePush(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		// Acknowledged anyway; a malformed push never becomes valid on retry.
		logger.Warn("ignoring malformed pubsub push", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger = logger.With("mailbox", mailbox, "history_id", cursor)
	logger.Debug("gmail notification received")

	ctx := context.WithoutCancel(r.Context())
	s.wg.Go(func() {
		ids, err := s.tracker.OnNotification(ctx, mailbox, cursor)
		if err != nil {
			logger.Error("failed to process gmail notification", "error", err)
			return
		}
		if len(ids) > 0 {
			logger.Info("processed gmail notification", "emitted", len(ids))
		}
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"services": map[string]string{
			"gmail":    "running",
			"telegram": "running",
		},
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"service": "quina",
		"version": s.cfg.Version,
		"endpoints": map[string]string{
			"telegram": "POST /telegram/webhook",
			"pubsub":   "POST /pubsub/push",
			"health":   "GET /health",
		},
	}
	if s.cfg.Processed != nil {
		n, err := s.cfg.Processed(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Warn("failed to count processed emails", "error", err)
		} else {
			resp["processed"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
