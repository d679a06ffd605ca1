package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/quina/pkg/queue"
	"github.com/ArionMiles/quina/pkg/reader/gmail"
	"github.com/ArionMiles/quina/pkg/telegram"
)

type fakeMail map[string]*gmail.Message

func (f fakeMail) Details(_ context.Context, id string) (*gmail.Message, error) {
	m, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

type fakeAgent struct {
	replies  []string
	err      error
	userID   string
	messages []string
}

func (f *fakeAgent) Run(_ context.Context, userID, message string) ([]string, error) {
	f.userID = userID
	f.messages = append(f.messages, message)
	return f.replies, f.err
}

type fakeSender struct {
	chatIDs []int64
	texts   []string
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.chatIDs = append(f.chatIDs, chatID)
	f.texts = append(f.texts, text)
	return nil
}

var qris = &gmail.Message{
	ID:      "m1",
	From:    "BCA <noreply@bca.co.id>",
	Subject: "Pembayaran QRIS Berhasil",
	Body:    "Merchant: Kopi Kenangan\nNominal: Rp 25.000",
}

func newProcessor(t *testing.T, a *fakeAgent) (*Processor, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	p, err := New(fakeMail{"m1": qris}, a, s, "42", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p, s
}

func TestPrompt(t *testing.T) {
	want := "[SYSTEM: Email notification received. Tell user you got this invoice email and add it to the sheet. " +
		"If anything is unclear, ask for clarification.]\n\n" +
		"From: BCA <noreply@bca.co.id>\n" +
		"Subject: Pembayaran QRIS Berhasil\n\n" +
		"Merchant: Kopi Kenangan\nNominal: Rp 25.000"
	assert.Equal(t, want, Prompt(qris))
}

func TestEmitRunsAgentForOwner(t *testing.T) {
	a := &fakeAgent{replies: []string{"🔧 Using tool: add_transaction\nParameters: {}", "Sudah dicatat."}}
	p, s := newProcessor(t, a)

	require.NoError(t, p.Emit(context.Background(), "me@example.com", "m1"))

	assert.Equal(t, "42", a.userID)
	assert.Equal(t, []string{Prompt(qris)}, a.messages)
	assert.Equal(t, a.replies, s.texts)
	assert.Equal(t, []int64{42, 42}, s.chatIDs)
}

func TestEmitDetailsFailure(t *testing.T) {
	a := &fakeAgent{}
	p, s := newProcessor(t, a)

	err := p.Emit(context.Background(), "me", "missing")
	require.Error(t, err)
	assert.Empty(t, a.messages)
	assert.Empty(t, s.texts)
}

func TestEmitAgentFailureNotifiesUser(t *testing.T) {
	a := &fakeAgent{replies: []string{"Sebentar..."}, err: errors.New("quota")}
	p, s := newProcessor(t, a)

	require.NoError(t, p.Emit(context.Background(), "me", "m1"), "agent failures are not retried")
	assert.Equal(t, []string{"Sebentar...", telegram.ErrorText}, s.texts)
}

func TestHandleQueueEvent(t *testing.T) {
	a := &fakeAgent{replies: []string{"ok"}}
	p, _ := newProcessor(t, a)

	require.NoError(t, p.Handle(context.Background(), queue.Event{Mailbox: "me", MessageID: "m1"}))
	assert.Len(t, a.messages, 1)

	assert.Error(t, p.Handle(context.Background(), queue.Event{Mailbox: "me", MessageID: "gone"}))
}

func TestNewRejectsBadUserID(t *testing.T) {
	_, err := New(fakeMail{}, &fakeAgent{}, &fakeSender{}, "not-a-number", nil)
	assert.Error(t, err)
}
