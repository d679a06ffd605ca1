package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/quina/pkg/queue"
)

type fakeServer struct {
	listenErr error
	stop      chan struct{}
	once      sync.Once
	shutdowns int
	mu        sync.Mutex
}

func newFakeServer(listenErr error) *fakeServer {
	return &fakeServer{listenErr: listenErr, stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	f.once.Do(func() { close(f.stop) })
	return nil
}

type fakeConsumer struct {
	err    error
	events []queue.Event
}

func (f *fakeConsumer) Consume(ctx context.Context, h queue.Handler) error {
	for _, ev := range f.events {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func run(t *testing.T, r *Runner, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newFakeServer(nil)
	var handled []string
	c := &fakeConsumer{events: []queue.Event{{Mailbox: "me", MessageID: "m1"}}}
	r := New(srv, discard, WithConsumer(c, func(_ context.Context, ev queue.Event) error {
		handled = append(handled, ev.MessageID)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, run(t, r, ctx))
	assert.Equal(t, 1, srv.shutdowns)
	assert.Equal(t, []string{"m1"}, handled)
}

func TestRunListenFailure(t *testing.T) {
	srv := newFakeServer(errors.New("address already in use"))
	r := New(srv, discard)

	err := run(t, r, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
	assert.Equal(t, 1, srv.shutdowns)
}

func TestRunConsumerFailureStopsServer(t *testing.T) {
	srv := newFakeServer(nil)
	c := &fakeConsumer{err: queue.ErrClosed}
	r := New(srv, discard, WithConsumer(c, nil), WithShutdownTimeout(time.Second))

	err := run(t, r, context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
	assert.Equal(t, 1, srv.shutdowns)
}
