package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ArionMiles/quina/pkg/agent"
)

// ErrUnauthorized is returned by HandleUpdate for senders outside the allowed
// set.
var ErrUnauthorized = errors.New("sender is not allowed")

// Replies sent without involving the agent.
const (
	RefusalText = "Maaf, kamu ga punya akses ke bot ini. Ini bot pribadi buat tracking expense."
	ErrorText   = "Waduh, ada error nih. Coba lagi ya!"
	HelpText    = "Saya bisa bantu kamu:\n" +
		"- Catat pengeluaran harian\n" +
		"- Update atau hapus transaksi\n" +
		"- Analisis pengeluaran\n\n" +
		"Tinggal chat aja!"
	startText = "Halo %s! Saya Quina, asisten expense tracker kamu.\n\n" +
		"Kamu bisa:\n" +
		"- Tambah transaksi: 'tambah pengeluaran makan 50 ribu'\n" +
		"- Update transaksi: 'ubah harga sabun kemarin jadi 20 ribu'\n" +
		"- Hapus transaksi: 'hapus transaksi bubur ayam tadi pagi'\n" +
		"- Cek pengeluaran: 'total pengeluaran bulan ini'\n\n" +
		"Langsung chat aja!"
)

// dedupTTL bounds how long a delivered update_id is remembered.
const dedupTTL = time.Hour

// Sender delivers text to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// StartText greets the user by first name.
func StartText(firstName string) string {
	if firstName == "" {
		firstName = "kamu"
	}
	return fmt.Sprintf(startText, firstName)
}

// Bot handles webhook updates.
type Bot struct {
	agent   agent.Agent
	sender  Sender
	allowed map[string]struct{}
	logger  *slog.Logger

	mu   sync.Mutex
	seen *ristretto.Cache
}

// NewBot creates a Bot answering only the users in allowed.
func NewBot(a agent.Agent, sender Sender, allowed []string, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating update cache: %w", err)
	}

	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}

	return &Bot{
		agent:   a,
		sender:  sender,
		allowed: set,
		logger:  logger.With("component", "bot"),
		seen:    seen,
	}, nil
}

// Close releases the update cache.
func (b *Bot) Close() {
	b.seen.Close()
}

// duplicate records u and reports whether it was delivered before.
func (b *Bot) duplicate(u Update) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen.Get(u.UpdateID); ok {
		return true
	}
	b.seen.SetWithTTL(u.UpdateID, struct{}{}, 1, dedupTTL)
	b.seen.Wait()
	return false
}

// HandleUpdate answers one update. Agent failures are reported to the user
// and logged, not returned.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) error {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		b.logger.Debug("ignoring update without message", "update_id", u.UpdateID)
		return nil
	}
	if b.duplicate(u) {
		b.logger.Info("dropping duplicate update", "update_id", u.UpdateID)
		return nil
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	logger := b.logger.With("user_id", userID, "chat_id", msg.Chat.ID, "update_id", u.UpdateID)

	if _, ok := b.allowed[userID]; !ok {
		logger.Warn("unauthorized access attempt blocked", "username", msg.From.UserName, "first_name", msg.From.FirstName)
		b.reply(ctx, logger, msg.Chat.ID, RefusalText)
		return ErrUnauthorized
	}

	text := strings.TrimSpace(msg.Text)
	switch strings.ToLower(msg.Command()) {
	case "":
	case "start":
		b.reply(ctx, logger, msg.Chat.ID, StartText(msg.From.FirstName))
		return nil
	case "help":
		b.reply(ctx, logger, msg.Chat.ID, HelpText)
		return nil
	default:
		logger.Debug("ignoring unknown command", "text", text)
		return nil
	}
	if text == "" {
		return nil
	}

	logger.Info("received message")
	replies, err := b.agent.Run(ctx, userID, text)
	for _, r := range replies {
		b.reply(ctx, logger, msg.Chat.ID, r)
	}
	if err != nil {
		logger.Error("agent run failed", "error", err)
		b.reply(ctx, logger, msg.Chat.ID, ErrorText)
	}
	return nil
}

func (b *Bot) reply(ctx context.Context, logger *slog.Logger, chatID int64, text string) {
	if err := b.sender.SendMessage(ctx, chatID, text); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}
