// Package gmail reads the payment-notification mailbox: the change feed the
// tracker consumes and the message details handed to the agent.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/quina/pkg/tracker"
)

// Defaults for the qualifying label.
const (
	DefaultLabel  = "PaymentNotifications"
	FallbackLabel = "INBOX"
)

const user = "me"

// Config holds configuration for the Gmail reader.
type Config struct {
	// Label is the name of the label payment emails are filed under.
	// Defaults to DefaultLabel. When no label has that name, INBOX is used.
	Label string
}

// Message is the part of an email the agent needs.
type Message struct {
	ID      string
	From    string
	Subject string
	Body    string
}

// Reader talks to one Gmail mailbox.
type Reader struct {
	client  *gmail.Service
	labelID string
	logger  *slog.Logger
}

var _ tracker.Feed = (*Reader)(nil)

// New creates a Gmail reader and resolves the qualifying label.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Reader, error) {
	client, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return newReader(ctx, client, cfg, logger)
}

func newReader(ctx context.Context, client *gmail.Service, cfg Config, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gmail")

	name := cfg.Label
	if name == "" {
		name = DefaultLabel
	}

	r := &Reader{client: client, logger: logger}
	if err := r.resolveLabel(ctx, name); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) resolveLabel(ctx context.Context, name string) error {
	resp, err := r.client.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("listing labels: %w", err)
	}

	for _, l := range resp.Labels {
		if l.Name == name {
			r.labelID = l.Id
			r.logger.Info("resolved label", "label", name, "label_id", l.Id)
			return nil
		}
	}

	r.labelID = FallbackLabel
	r.logger.Warn("label not found, using fallback", "label", name, "fallback", FallbackLabel)
	return nil
}

// QualifyingLabel returns the resolved label ID.
func (r *Reader) QualifyingLabel() string {
	return r.labelID
}

// Latest returns the ID of the newest message carrying the label.
func (r *Reader) Latest(ctx context.Context) (string, error) {
	ids, err := r.Recent(ctx, 1)
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// Recent returns up to max IDs of labelled messages, newest first.
func (r *Reader) Recent(ctx context.Context, max int64) ([]string, error) {
	resp, err := r.client.Users.Messages.List(user).
		LabelIds(r.labelID).
		MaxResults(max).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Added enumerates the messages added to the label after history ID since.
func (r *Reader) Added(ctx context.Context, since uint64) ([]tracker.Added, error) {
	var added []tracker.Added
	err := r.client.Users.History.List(user).
		StartHistoryId(since).
		LabelId(r.labelID).
		HistoryTypes("messageAdded").
		Pages(ctx, func(resp *gmail.ListHistoryResponse) error {
			for _, h := range resp.History {
				for _, ma := range h.MessagesAdded {
					if ma.Message == nil {
						continue
					}
					added = append(added, tracker.Added{ID: ma.Message.Id, Labels: ma.Message.LabelIds})
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	r.logger.Debug("listed history", "start_history_id", since, "added", len(added))
	return added, nil
}

// Details fetches the sender, subject and body of a message.
func (r *Reader) Details(ctx context.Context, id string) (*Message, error) {
	msg, err := r.client.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	m := &Message{ID: id, Subject: "No Subject", From: "Unknown"}
	if msg.Payload == nil {
		return m, nil
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			m.Subject = h.Value
		case "From":
			m.From = h.Value
		}
	}
	m.Body = extractBody(msg.Payload)
	return m, nil
}

// Raw fetches the RFC 822 source of a message.
func (r *Reader) Raw(ctx context.Context, id string) ([]byte, error) {
	msg, err := r.client.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting raw message: %w", err)
	}
	return decodeData(msg.Raw)
}

// extractBody returns the first text part that has data, looking one level
// into nested multiparts, or the body of a single-part message.
func extractBody(payload *gmail.MessagePart) string {
	if len(payload.Parts) == 0 {
		return bodyText(payload.Body)
	}

	for _, part := range payload.Parts {
		if isText(part.MimeType) {
			if body := bodyText(part.Body); body != "" {
				return body
			}
			continue
		}
		for _, sub := range part.Parts {
			if !isText(sub.MimeType) {
				continue
			}
			if body := bodyText(sub.Body); body != "" {
				return body
			}
		}
	}
	return ""
}

func bodyText(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	b, err := decodeData(body.Data)
	if err != nil {
		return ""
	}
	return string(b)
}

func isText(mime string) bool {
	return mime == "text/plain" || mime == "text/html"
}

// decodeData decodes Gmail's URL-safe base64, with or without padding.
func decodeData(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	return b, nil
}
