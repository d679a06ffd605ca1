// Package tracker turns mailbox change notifications into a deduplicated
// stream of newly added, label-qualified message IDs.
//
// A notification carries a monotonic cursor. The first notification for a
// mailbox has no baseline to diff against, so only the most recent qualifying
// message is considered. Later notifications enumerate the items added since
// the stored cursor. The seen set, not the cursor, is what guarantees that an
// item is emitted at most once when notifications race.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrNoLabel is returned by New when the feed has no qualifying label.
var ErrNoLabel = errors.New("feed has no qualifying label")

// Added is one item-added entry of the change feed.
type Added struct {
	ID     string
	Labels []string
}

// Feed is the mailbox change log.
type Feed interface {
	// Latest returns the ID of the most recent qualifying item, or "" if there
	// is none.
	Latest(ctx context.Context) (string, error)
	// Added enumerates items added after cursor, in change-log order.
	Added(ctx context.Context, since uint64) ([]Added, error)
	// QualifyingLabel is the label an item must carry to be emitted.
	QualifyingLabel() string
}

// Emitter receives every newly seen item.
type Emitter interface {
	Emit(ctx context.Context, mailbox, id string) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, mailbox, id string) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, mailbox, id string) error {
	return f(ctx, mailbox, id)
}

// Tracker processes notifications for any number of mailboxes.
type Tracker struct {
	store  Store
	feed   Feed
	emit   Emitter
	label  string
	logger *slog.Logger
}

// New creates a Tracker.
func New(store Store, feed Feed, emit Emitter, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	label := feed.QualifyingLabel()
	if label == "" {
		return nil, ErrNoLabel
	}

	return &Tracker{
		store:  store,
		feed:   feed,
		emit:   emit,
		label:  label,
		logger: logger.With("component", "tracker"),
	}, nil
}

// OnNotification handles a change notification carrying cursor for mailbox
// and returns the IDs it emitted, in order.
//
// The stored cursor is advanced to cursor even when enumerating the window
// fails; that window is then skipped and the error returned.
func (t *Tracker) OnNotification(ctx context.Context, mailbox string, cursor uint64) ([]string, error) {
	logger := t.logger.With("mailbox", mailbox, "history_id", cursor)

	last, ok, err := t.store.Cursor(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("reading cursor: %w", err)
	}

	if !ok {
		return t.bootstrap(ctx, logger, mailbox, cursor)
	}

	if cursor <= last {
		logger.Debug("dropping stale notification", "last_history_id", last)
		return nil, nil
	}

	added, listErr := t.feed.Added(ctx, last)
	if err := t.store.SetCursor(ctx, mailbox, cursor); err != nil {
		return nil, fmt.Errorf("advancing cursor: %w", err)
	}
	if listErr != nil {
		logger.Warn("skipping change window after enumeration failure",
			"last_history_id", last,
			"error", listErr,
		)
		return nil, fmt.Errorf("enumerating changes since %d: %w", last, listErr)
	}

	if len(added) == 0 {
		logger.Info("no new messages")
		return nil, nil
	}

	var emitted []string
	for _, a := range added {
		if !slices.Contains(a.Labels, t.label) {
			continue
		}
		ok, err := t.markAndEmit(ctx, logger, mailbox, a.ID)
		if err != nil {
			return emitted, err
		}
		if ok {
			emitted = append(emitted, a.ID)
		}
	}
	return emitted, nil
}

func (t *Tracker) bootstrap(ctx context.Context, logger *slog.Logger, mailbox string, cursor uint64) ([]string, error) {
	if err := t.store.SetCursor(ctx, mailbox, cursor); err != nil {
		return nil, fmt.Errorf("initializing cursor: %w", err)
	}
	logger.Info("initialized cursor")

	id, err := t.feed.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching latest message: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	ok, err := t.markAndEmit(ctx, logger, mailbox, id)
	if err != nil || !ok {
		return nil, err
	}
	return []string{id}, nil
}

// markAndEmit emits id unless it was already seen. A failing emitter is
// logged; the item stays marked so it is not retried.
func (t *Tracker) markAndEmit(ctx context.Context, logger *slog.Logger, mailbox, id string) (bool, error) {
	added, err := t.store.MarkSeen(ctx, mailbox, id)
	if err != nil {
		return false, fmt.Errorf("marking %s seen: %w", id, err)
	}
	if !added {
		logger.Debug("skipping already processed message", "message_id", id)
		return false, nil
	}

	logger.Info("new message", "message_id", id)
	if err := t.emit.Emit(ctx, mailbox, id); err != nil {
		logger.Error("failed to process message", "message_id", id, "error", err)
	}
	return true, nil
}
