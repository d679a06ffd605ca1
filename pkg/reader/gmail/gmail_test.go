package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/quina/pkg/tracker"
)

// fakeGmailAPI serves the Gmail v1 endpoints the reader calls.
type fakeGmailAPI struct {
	mu           sync.Mutex
	labels       []*gmail.Label
	messages     []*gmail.Message
	historyPages []*gmail.ListHistoryResponse
	full         map[string]*gmail.Message
	requests     []*http.Request
}

func (f *fakeGmailAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)

	const prefix = "/gmail/v1/users/me/"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	var resp any
	switch {
	case path == "labels":
		resp = &gmail.ListLabelsResponse{Labels: f.labels}
	case path == "messages":
		resp = &gmail.ListMessagesResponse{Messages: f.messages}
	case path == "history":
		page := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			page = 1
		}
		resp = f.historyPages[page]
	case strings.HasPrefix(path, "messages/"):
		msg, ok := f.full[strings.TrimPrefix(path, "messages/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
			return
		}
		resp = msg
	default:
		http.Error(w, "unexpected "+r.URL.Path, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeGmailAPI) lastQuery() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1].URL.Query()
}

func newTestReader(t *testing.T, api *fakeGmailAPI, label string) *Reader {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	svc, err := gmail.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	r, err := newReader(ctx, svc, Config{Label: label}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestResolveLabel(t *testing.T) {
	labels := []*gmail.Label{
		{Id: "INBOX", Name: "INBOX"},
		{Id: "Label_7", Name: "PaymentNotifications"},
		{Id: "Label_9", Name: "Receipts"},
	}

	tests := []struct {
		name  string
		label string
		want  string
	}{
		{name: "default label", label: "", want: "Label_7"},
		{name: "configured label", label: "Receipts", want: "Label_9"},
		{name: "missing label falls back to inbox", label: "Bills", want: FallbackLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader(t, &fakeGmailAPI{labels: labels}, tt.label)
			assert.Equal(t, tt.want, r.QualifyingLabel())
		})
	}
}

func TestLatest(t *testing.T) {
	api := &fakeGmailAPI{
		labels:   []*gmail.Label{{Id: "Label_7", Name: DefaultLabel}},
		messages: []*gmail.Message{{Id: "m9"}},
	}
	r := newTestReader(t, api, "")

	id, err := r.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "m9", id)

	q := api.lastQuery()
	assert.Equal(t, []string{"Label_7"}, q["labelIds"])
	assert.Equal(t, []string{"1"}, q["maxResults"])
}

func TestLatestEmptyMailbox(t *testing.T) {
	r := newTestReader(t, &fakeGmailAPI{}, "")

	id, err := r.Latest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestAddedFollowsPages(t *testing.T) {
	api := &fakeGmailAPI{
		labels: []*gmail.Label{{Id: "Label_7", Name: DefaultLabel}},
		historyPages: []*gmail.ListHistoryResponse{
			{
				History: []*gmail.History{{
					MessagesAdded: []*gmail.HistoryMessageAdded{
						{Message: &gmail.Message{Id: "a", LabelIds: []string{"Label_7"}}},
						{},
					},
				}},
				NextPageToken: "next",
			},
			{
				History: []*gmail.History{{
					MessagesAdded: []*gmail.HistoryMessageAdded{
						{Message: &gmail.Message{Id: "b", LabelIds: []string{"INBOX"}}},
					},
				}},
			},
		},
	}
	r := newTestReader(t, api, "")

	added, err := r.Added(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, []tracker.Added{
		{ID: "a", Labels: []string{"Label_7"}},
		{ID: "b", Labels: []string{"INBOX"}},
	}, added)

	q := api.lastQuery()
	assert.Equal(t, []string{"1234"}, q["startHistoryId"])
	assert.Equal(t, []string{"messageAdded"}, q["historyTypes"])
	assert.Equal(t, []string{"Label_7"}, q["labelId"])
}

func TestDetails(t *testing.T) {
	full := map[string]*gmail.Message{
		"nested": {
			Id: "nested",
			Payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Headers: []*gmail.MessagePartHeader{
					{Name: "From", Value: "bank@example.com"},
					{Name: "Subject", Value: "Payment receipt"},
				},
				Parts: []*gmail.MessagePart{
					{MimeType: "image/png", Body: &gmail.MessagePartBody{Data: encode("png")}},
					{
						MimeType: "multipart/alternative",
						Parts: []*gmail.MessagePart{
							{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("Paid Rp25,000 to Kopi")}},
						},
					},
				},
			},
		},
		"single": {
			Id: "single",
			Payload: &gmail.MessagePart{
				MimeType: "text/html",
				Body:     &gmail.MessagePartBody{Data: strings.TrimRight(encode("<p>hi</p>"), "=")},
			},
		},
		"empty-text": {
			Id: "empty-text",
			Payload: &gmail.MessagePart{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{}},
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("second")}},
				},
			},
		},
	}

	tests := []struct {
		id   string
		want Message
	}{
		{
			id:   "nested",
			want: Message{ID: "nested", From: "bank@example.com", Subject: "Payment receipt", Body: "Paid Rp25,000 to Kopi"},
		},
		{
			id:   "single",
			want: Message{ID: "single", From: "Unknown", Subject: "No Subject", Body: "<p>hi</p>"},
		},
		{
			id:   "empty-text",
			want: Message{ID: "empty-text", From: "Unknown", Subject: "No Subject", Body: "second"},
		},
	}

	r := newTestReader(t, &fakeGmailAPI{full: full}, "")
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := r.Details(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}

	t.Run("missing message", func(t *testing.T) {
		_, err := r.Details(context.Background(), "gone")
		assert.Error(t, err)
	})
}

func TestRaw(t *testing.T) {
	src := "From: bank@example.com\r\nSubject: hi\r\n\r\nbody"
	api := &fakeGmailAPI{full: map[string]*gmail.Message{"m1": {Id: "m1", Raw: encode(src)}}}
	r := newTestReader(t, api, "")

	raw, err := r.Raw(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, src, string(raw))
	assert.Equal(t, []string{"raw"}, api.lastQuery()["format"])
}

func TestDecodeData(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "padded", in: "aGk=", want: "hi"},
		{name: "unpadded", in: "aGk", want: "hi"},
		{name: "url alphabet", in: "-_8", want: "\xfb\xff"},
		{name: "invalid", in: "!!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeData(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
