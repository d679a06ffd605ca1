// Package sqlite stores tracker state and conversation history in a local
// SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tracker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements tracker.Store and agent.HistoryStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ tracker.Store      = (*Store)(nil)
	_ agent.HistoryStore = (*Store)(nil)
)

// New opens (creating if needed) the database at path and migrates it.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrateUp(path); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger = logger.With("component", "sqlite")
	logger.Info("opened SQLite state", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func migrateUp(path string) error {
	migrateDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Cursor implements tracker.Store.
func (s *Store) Cursor(ctx context.Context, mailbox string) (uint64, bool, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM tracker_cursors WHERE mailbox = ?`, mailbox).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}
	return uint64(cursor), true, nil
}

// SetCursor implements tracker.Store.
func (s *Store) SetCursor(ctx context.Context, mailbox string, cursor uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracker_cursors (mailbox, cursor) VALUES (?, ?)
		ON CONFLICT (mailbox) DO UPDATE SET cursor = excluded.cursor, updated_at = datetime('now')`,
		mailbox, int64(cursor))
	if err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

// MarkSeen implements tracker.Store, evicting the oldest tracker.SeenEvict
// ids (never id itself) once the mailbox holds more than tracker.SeenCap.
func (s *Store) MarkSeen(ctx context.Context, mailbox, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tracker_seen (mailbox, message_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, mailbox, id)
	if err != nil {
		return false, fmt.Errorf("inserting seen id: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracker_seen WHERE mailbox = ?`, mailbox).Scan(&count); err != nil {
		return false, fmt.Errorf("counting seen ids: %w", err)
	}
	if count > tracker.SeenCap {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM tracker_seen WHERE seq IN (
				SELECT seq FROM tracker_seen
				WHERE mailbox = ? AND message_id <> ?
				ORDER BY seq LIMIT ?
			)`, mailbox, id, tracker.SeenEvict)
		if err != nil {
			return false, fmt.Errorf("evicting seen ids: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// SeenCount returns the number of seen ids across all mailboxes.
func (s *Store) SeenCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracker_seen`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting seen ids: %w", err)
	}
	return n, nil
}

// History implements agent.HistoryStore.
func (s *Store) History(ctx context.Context, userID string) ([]agent.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text FROM agent_messages
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, agent.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var msgs []agent.Message
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		msgs = append(msgs, agent.Message{Role: agent.Role(role), Text: text})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	slices.Reverse(msgs)
	return agent.Trim(msgs, agent.MaxHistory), nil
}

// AppendHistory implements agent.HistoryStore.
func (s *Store) AppendHistory(ctx context.Context, userID string, msgs ...agent.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_messages (user_id, role, text) VALUES (?, ?, ?)`,
			userID, string(m.Role), m.Text); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM agent_messages WHERE user_id = ? AND id NOT IN (
			SELECT id FROM agent_messages WHERE user_id = ? ORDER BY id DESC LIMIT ?
		)`, userID, userID, agent.MaxHistory); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
