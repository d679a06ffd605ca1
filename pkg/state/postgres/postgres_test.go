package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tracker"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("quina"),
		tcpostgres.WithUsername("quina"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, Config{URL: url}, discard())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := New(ctx, Config{
		Host:     "127.0.0.1",
		Port:     1,
		Database: "quina",
		User:     "quina",
		Password: "password",
	}, discard())
	assert.Error(t, err)
}

func TestConfigConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "url wins",
			cfg:  Config{URL: "postgresql://u:p@db:5432/q", Host: "ignored"},
			want: "postgresql://u:p@db:5432/q",
		},
		{
			name: "fields",
			cfg:  Config{Host: "db", Port: 5433, User: "u", Password: "p", Database: "q", SSLMode: "require"},
			want: "host=db port=5433 user=u password=p dbname=q sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.connString())
		})
	}
}

func TestCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Cursor(ctx, "me@example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCursor(ctx, "me@example.com", 1234))
	require.NoError(t, s.SetCursor(ctx, "me@example.com", 1300))

	cursor, ok, err := s.Cursor(ctx, "me@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1300), cursor)
}

func TestMarkSeen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.MarkSeen(ctx, "me", "m1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.MarkSeen(ctx, "me", "m1")
	require.NoError(t, err)
	assert.False(t, added, "second mark is a duplicate")

	added, err = s.MarkSeen(ctx, "other", "m1")
	require.NoError(t, err)
	assert.True(t, added, "mailboxes have separate sets")
}

func TestMarkSeenEvicts(t *testing.T) {
	s := newTestStore(t)
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
	s := newTestStore(t)
	ctx := context.Background()

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
	s := newTestStore(t)
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
