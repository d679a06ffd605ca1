package tracker

import (
	"context"
	"sync"
)

// Seen-set bounds for MemoryStore.
const (
	SeenCap   = 500
	SeenEvict = 250
)

// Store holds per-mailbox tracker state. Implementations must be safe for
// concurrent use; MarkSeen is the only operation that has to be atomic.
type Store interface {
	// Cursor returns the last cursor for mailbox; ok is false before the first
	// notification.
	Cursor(ctx context.Context, mailbox string) (cursor uint64, ok bool, err error)
	// SetCursor records the cursor for mailbox.
	SetCursor(ctx context.Context, mailbox string, cursor uint64) error
	// MarkSeen adds id to the seen set and reports whether it was absent.
	MarkSeen(ctx context.Context, mailbox, id string) (added bool, err error)
}

type mailboxState struct {
	cursor    uint64
	hasCursor bool
	seen      map[string]struct{}
}

// MemoryStore keeps tracker state in process memory. The seen set of each
// mailbox is bounded: once it grows past SeenCap, SeenEvict arbitrary entries
// are dropped.
type MemoryStore struct {
	mu        sync.Mutex
	mailboxes map[string]*mailboxState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mailboxes: make(map[string]*mailboxState)}
}

func (s *MemoryStore) state(mailbox string) *mailboxState {
	st, ok := s.mailboxes[mailbox]
	if !ok {
		st = &mailboxState{seen: make(map[string]struct{})}
		s.mailboxes[mailbox] = st
	}
	return st
}

// Cursor implements Store.
func (s *MemoryStore) Cursor(_ context.Context, mailbox string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(mailbox)
	return st.cursor, st.hasCursor, nil
}

// SetCursor implements Store.
func (s *MemoryStore) SetCursor(_ context.Context, mailbox string, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(mailbox)
	st.cursor = cursor
	st.hasCursor = true
	return nil
}

// MarkSeen implements Store.
func (s *MemoryStore) MarkSeen(_ context.Context, mailbox, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(mailbox)
	if _, ok := st.seen[id]; ok {
		return false, nil
	}
	st.seen[id] = struct{}{}

	if len(st.seen) > SeenCap {
		evicted := 0
		for k := range st.seen {
			if evicted == SeenEvict {
				break
			}
			if k == id {
				continue
			}
			delete(st.seen, k)
			evicted++
		}
	}
	return true, nil
}

// SeenCount returns the size of the seen set of mailbox.
func (s *MemoryStore) SeenCount(mailbox string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state(mailbox).seen)
}

// SeenTotal returns the combined size of every mailbox's seen set.
func (s *MemoryStore) SeenTotal(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.mailboxes {
		n += len(st.seen)
	}
	return n, nil
}
