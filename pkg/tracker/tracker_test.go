package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mailbox = "me@example.com"
	label   = "Label_42"
)

type fakeFeed struct {
	mu        sync.Mutex
	latest    string
	latestErr error
	added     []Added
	addedErr  error
	calls     []uint64
}

func (f *fakeFeed) Latest(context.Context) (string, error) {
	return f.latest, f.latestErr
}

func (f *fakeFeed) Added(_ context.Context, since uint64) ([]Added, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	return f.added, f.addedErr
}

func (f *fakeFeed) QualifyingLabel() string { return label }

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Emit(_ context.Context, _, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func (r *recorder) emitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTracker(t *testing.T, feed Feed) (*Tracker, *MemoryStore, *recorder) {
	t.Helper()
	store := NewMemoryStore()
	rec := &recorder{}
	tr, err := New(store, feed, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return tr, store, rec
}

func TestBootstrapEmitsLatest(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{latest: "m1"}
	tr, store, rec := newTracker(t, feed)

	ids, err := tr.OnNotification(ctx, mailbox, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
	assert.Equal(t, []string{"m1"}, rec.emitted())
	assert.Empty(t, feed.calls, "bootstrap must not read the change log")

	cursor, ok, err := store.Cursor(ctx, mailbox)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(100), cursor)
}

func TestBootstrapWithoutMessages(t *testing.T) {
	tr, _, rec := newTracker(t, &fakeFeed{})
	ids, err := tr.OnNotification(context.Background(), mailbox, 7)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, rec.emitted())
}

func TestBootstrapLatestFailureStillSetsCursor(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, &fakeFeed{latestErr: errors.New("boom")})

	_, err := tr.OnNotification(ctx, mailbox, 7)
	require.Error(t, err)

	cursor, ok, _ := store.Cursor(ctx, mailbox)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), cursor)
}

func TestSameCursorTwiceEmitsOnce(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{{ID: "m2", Labels: []string{"INBOX", label}}}}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 100))

	for range 2 {
		_, err := tr.OnNotification(ctx, mailbox, 105)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"m2"}, rec.emitted())
	assert.Equal(t, []uint64{100}, feed.calls, "the redelivery must be dropped before enumeration")
}

func TestEnumerationFiltersByLabelInOrder(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{
		{ID: "a", Labels: []string{label}},
		{ID: "b", Labels: []string{"INBOX"}},
		{ID: "c", Labels: []string{"UNREAD", label}},
	}}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 10))

	ids, err := tr.OnNotification(ctx, mailbox, 11)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
	assert.Equal(t, []string{"a", "c"}, rec.emitted())
}

func TestSeenItemsAreSkipped(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{{ID: "a", Labels: []string{label}}, {ID: "b", Labels: []string{label}}}}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 10))
	_, err := store.MarkSeen(ctx, mailbox, "a")
	require.NoError(t, err)

	ids, err := tr.OnNotification(ctx, mailbox, 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	assert.Equal(t, []string{"b"}, rec.emitted())
}

func TestStaleCursorIsDropped(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{{ID: "a", Labels: []string{label}}}}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 50))

	ids, err := tr.OnNotification(ctx, mailbox, 40)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, rec.emitted())

	cursor, _, _ := store.Cursor(ctx, mailbox)
	assert.Equal(t, uint64(50), cursor)
}

func TestEnumerationFailureAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{addedErr: errors.New("history gone")}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 10))

	_, err := tr.OnNotification(ctx, mailbox, 20)
	require.Error(t, err)
	assert.Empty(t, rec.emitted())

	cursor, _, _ := store.Cursor(ctx, mailbox)
	assert.Equal(t, uint64(20), cursor)
}

func TestMailboxesAreIndependent(t *testing.T) {
	ctx := context.Background()
	tr, store, _ := newTracker(t, &fakeFeed{})
	require.NoError(t, store.SetCursor(ctx, "a@example.com", 500))

	_, err := tr.OnNotification(ctx, "b@example.com", 3)
	require.NoError(t, err)

	cursor, _, _ := store.Cursor(ctx, "b@example.com")
	assert.Equal(t, uint64(3), cursor)
}

func TestConcurrentDeliveriesEmitOnce(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{
		{ID: "x", Labels: []string{label}},
		{ID: "y", Labels: []string{label}},
	}}
	tr, store, rec := newTracker(t, feed)
	require.NoError(t, store.SetCursor(ctx, mailbox, 1))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(cursor uint64) {
			defer wg.Done()
			_, _ = tr.OnNotification(ctx, mailbox, cursor)
		}(uint64(2 + i%2))
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"x", "y"}, rec.emitted())
}

func TestEmitterFailureKeepsItemSeen(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{added: []Added{{ID: "a", Labels: []string{label}}}}
	store := NewMemoryStore()
	calls := 0
	emit := EmitterFunc(func(context.Context, string, string) error {
		calls++
		return errors.New("agent down")
	})
	tr, err := New(store, feed, emit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, store.SetCursor(ctx, mailbox, 1))

	ids, err := tr.OnNotification(ctx, mailbox, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ids, err = tr.OnNotification(ctx, mailbox, 3)
	require.NoError(t, err)
	assert.Empty(t, ids, "a failed emission is not retried")
	assert.Equal(t, 1, calls)
}

type unlabeledFeed struct{ fakeFeed }

func (*unlabeledFeed) QualifyingLabel() string { return "" }

func TestNewRequiresLabel(t *testing.T) {
	_, err := New(NewMemoryStore(), &unlabeledFeed{}, &recorder{}, nil)
	assert.ErrorIs(t, err, ErrNoLabel)
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := range SeenCap {
		added, err := s.MarkSeen(ctx, mailbox, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		require.True(t, added)
	}
	assert.Equal(t, SeenCap, s.SeenCount(mailbox))

	added, err := s.MarkSeen(ctx, mailbox, "m0")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.MarkSeen(ctx, mailbox, "overflow")
	require.NoError(t, err)
	assert.Equal(t, SeenCap+1-SeenEvict, s.SeenCount(mailbox))

	added, err = s.MarkSeen(ctx, mailbox, "overflow")
	require.NoError(t, err)
	assert.False(t, added, "the entry that triggered eviction is kept")
}

func TestMemoryStoreSeenTotal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _ = s.MarkSeen(ctx, "a@example.com", "m1")
	_, _ = s.MarkSeen(ctx, "a@example.com", "m2")
	_, _ = s.MarkSeen(ctx, "b@example.com", "m1")

	n, err := s.SeenTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
