// Package payments hands newly arrived payment emails to the agent on behalf
// of the bot owner and forwards the agent's replies to Telegram.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/queue"
	"github.com/ArionMiles/quina/pkg/reader/gmail"
	"github.com/ArionMiles/quina/pkg/telegram"
	"github.com/ArionMiles/quina/pkg/tracker"
)

const promptHeader = "[SYSTEM: Email notification received. Tell user you got this invoice email and add it to the sheet. " +
	"If anything is unclear, ask for clarification.]"

// Mail fetches message details.
type Mail interface {
	Details(ctx context.Context, id string) (*gmail.Message, error)
}

// Prompt is the agent input for an email.
func Prompt(m *gmail.Message) string {
	return fmt.Sprintf("%s\n\nFrom: %s\nSubject: %s\n\n%s", promptHeader, m.From, m.Subject, m.Body)
}

// Processor runs the agent for each emitted message.
type Processor struct {
	mail   Mail
	agent  agent.Agent
	sender telegram.Sender
	userID string
	chatID int64
	logger *slog.Logger
}

var _ tracker.Emitter = (*Processor)(nil)

// New creates a Processor acting for the Telegram user userID. Replies go to
// the user's private chat, whose ID equals the user ID.
func New(mail Mail, a agent.Agent, sender telegram.Sender, userID string, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing telegram user id %q: %w", userID, err)
	}
	return &Processor{
		mail:   mail,
		agent:  a,
		sender: sender,
		userID: userID,
		chatID: chatID,
		logger: logger.With("component", "payments"),
	}, nil
}

// Emit implements tracker.Emitter. Only a failure to fetch the email is
// returned; agent and delivery failures are logged and reported to the user,
// since retrying them could record the payment twice.
func (p *Processor) Emit(ctx context.Context, mailbox, id string) error {
	logger := p.logger.With("mailbox", mailbox, "message_id", id)

	msg, err := p.mail.Details(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching email %s: %w", id, err)
	}

	subject := msg.Subject
	if r := []rune(subject); len(r) > 50 {
		subject = string(r[:50]) + "..."
	}
	logger.Info("processing payment email", "from", msg.From, "subject", subject)

	replies, err := p.agent.Run(ctx, p.userID, Prompt(msg))
	for _, r := range replies {
		if sendErr := p.sender.SendMessage(ctx, p.chatID, r); sendErr != nil {
			logger.Error("failed to send reply", "error", sendErr)
		}
	}
	if err != nil {
		logger.Error("agent failed to process email", "error", err)
		if sendErr := p.sender.SendMessage(ctx, p.chatID, telegram.ErrorText); sendErr != nil {
			logger.Error("failed to send error notice", "error", sendErr)
		}
		return nil
	}

	logger.Info("agent processed email", "replies", len(replies))
	return nil
}

// Handle adapts the processor to queue.Handler.
func (p *Processor) Handle(ctx context.Context, ev queue.Event) error {
	return p.Emit(ctx, ev.Mailbox, ev.MessageID)
}
