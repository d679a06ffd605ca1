// Package daemon supervises quina's long-running services.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ArionMiles/quina/pkg/queue"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Server is an HTTP server.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Consumer delivers queued email events.
type Consumer interface {
	Consume(ctx context.Context, h queue.Handler) error
}

// Runner manages the daemon lifecycle.
type Runner struct {
	server          Server
	consumer        Consumer
	handler         queue.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConsumer also runs c, handing its events to h.
func WithConsumer(c Consumer, h queue.Handler) Option {
	return func(r *Runner) {
		r.consumer = c
		r.handler = h
	}
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = d
	}
}

// New creates a runner for server.
func New(server Server, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		server:          server,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logger.With("component", "daemon"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run serves until ctx is canceled or a service fails, then shuts everything
// down. A canceled ctx is a clean stop and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("http server starting")
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if r.consumer != nil {
		g.Go(func() error {
			err := r.consumer.Consume(gctx, r.handler)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("queue consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutting down", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.shutdownTimeout)
		defer cancel()
		if err := r.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		r.logger.Error("daemon stopped with error", "error", err)
		return err
	}
	r.logger.Info("daemon stopped")
	return nil
}
