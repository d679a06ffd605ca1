package sqlite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tracker"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "quina.db")
	s, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestCursorSurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Cursor(ctx, "me")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCursor(ctx, "me", 1234))
	require.NoError(t, s.SetCursor(ctx, "me", 1300))
	require.NoError(t, s.Close())

	reopened, err := New(path, nil)
	require.NoError(t, err, "migrations are idempotent")
	defer reopened.Close()

	cursor, ok, err := reopened.Cursor(ctx, "me")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1300), cursor)
}

func TestMarkSeen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mailbox   string
		id        string
		wantAdded bool
	}{
		{name: "new id", mailbox: "me", id: "m1", wantAdded: true},
		{name: "duplicate", mailbox: "me", id: "m1", wantAdded: false},
		{name: "same id other mailbox", mailbox: "other", id: "m1", wantAdded: true},
		{name: "second id", mailbox: "me", id: "m2", wantAdded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, err := s.MarkSeen(ctx, tt.mailbox, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdded, added)
		})
	}

	n, err := s.SeenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMarkSeenConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkSeen(ctx, "me", "m1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, added)
}

func TestMarkSeenEvicts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := range tracker.SeenCap + 1 {
		_, err := s.MarkSeen(ctx, "me", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	n, err := s.SeenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, tracker.SeenCap+1-tracker.SeenEvict, n)

	added, err := s.MarkSeen(ctx, "me", fmt.Sprintf("m%d", tracker.SeenCap))
	require.NoError(t, err)
	assert.False(t, added, "the id just added survives eviction")

	added, err = s.MarkSeen(ctx, "me", "m0")
	require.NoError(t, err)
	assert.True(t, added, "oldest ids go first")
}

func TestHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendHistory(ctx, "42"))
	require.NoError(t, s.AppendHistory(ctx, "42",
		agent.Message{Role: agent.RoleUser, Text: "hi"},
		agent.Message{Role: agent.RoleAssistant, Text: "hello"},
	))

	msgs, err := s.History(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []agent.Message{
		{Role: agent.RoleUser, Text: "hi"},
		{Role: agent.RoleAssistant, Text: "hello"},
	}, msgs)

	other, err := s.History(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestHistoryBounded(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := range agent.MaxHistory + 5 {
		role := agent.RoleUser
		if i%2 == 1 {
			role = agent.RoleAssistant
		}
		require.NoError(t, s.AppendHistory(ctx, "42", agent.Message{Role: role, Text: fmt.Sprint(i)}))
	}

	msgs, err := s.History(ctx, "42")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.LessOrEqual(t, len(msgs), agent.MaxHistory)
	assert.Equal(t, agent.RoleUser, msgs[0].Role)
	assert.Equal(t, fmt.Sprint(agent.MaxHistory+4), msgs[len(msgs)-1].Text)
}

type stubFeed struct {
	latest string
	added  []tracker.Added
}

func (f stubFeed) Latest(context.Context) (string, error) { return f.latest, nil }

func (f stubFeed) Added(context.Context, uint64) ([]tracker.Added, error) { return f.added, nil }

func (f stubFeed) QualifyingLabel() string { return "Label_1" }

func TestTrackerStateSurvivesRestart(t *testing.T) {
	s, path := newTestStore(t)
	ctx := context.Background()
	feed := stubFeed{
		latest: "m1",
		added: []tracker.Added{
			{ID: "m1", Labels: []string{"Label_1"}},
			{ID: "m2", Labels: []string{"Label_1"}},
		},
	}
	noop := tracker.EmitterFunc(func(context.Context, string, string) error { return nil })

	tr, err := tracker.New(s, feed, noop, nil)
	require.NoError(t, err)
	emitted, err := tr.OnNotification(ctx, "me", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, emitted)
	require.NoError(t, s.Close())

	reopened, err := New(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	tr, err = tracker.New(reopened, feed, noop, nil)
	require.NoError(t, err)
	emitted, err = tr.OnNotification(ctx, "me", 101)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, emitted, "m1 was already seen before the restart")
}
