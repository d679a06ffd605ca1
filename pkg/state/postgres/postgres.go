// Package postgres stores tracker state and conversation history in
// PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/quina/pkg/agent"
	"github.com/ArionMiles/quina/pkg/tracker"
)

//go:embed 001_create_state.sql
var migrationSQL string

// Config holds the PostgreSQL connection settings. URL, when set, takes
// precedence over the individual fields.
type Config struct {
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

func (c Config) connString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store implements tracker.Store and agent.HistoryStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ tracker.Store      = (*Store)(nil)
	_ agent.HistoryStore = (*Store)(nil)
)

// New connects to PostgreSQL and applies the schema.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 5
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger = logger.With("component", "postgres")
	logger.Info("connected to PostgreSQL", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Cursor implements tracker.Store.
func (s *Store) Cursor(ctx context.Context, mailbox string) (uint64, bool, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM tracker_cursors WHERE mailbox = $1`, mailbox).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}
	return uint64(cursor), true, nil
}

// SetCursor implements tracker.Store.
func (s *Store) SetCursor(ctx context.Context, mailbox string, cursor uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracker_cursors (mailbox, cursor) VALUES ($1, $2)
		ON CONFLICT (mailbox) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`,
		mailbox, int64(cursor))
	if err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

// MarkSeen implements tracker.Store. Once a mailbox holds more than
// tracker.SeenCap ids, the oldest tracker.SeenEvict are removed, never
// including id itself.
func (s *Store) MarkSeen(ctx context.Context, mailbox, id string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO tracker_seen (mailbox, message_id) VALUES ($1, $2)
		ON CONFLICT (mailbox, message_id) DO NOTHING`, mailbox, id)
	if err != nil {
		return false, fmt.Errorf("inserting seen id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM tracker_seen WHERE mailbox = $1`, mailbox).Scan(&count); err != nil {
		return false, fmt.Errorf("counting seen ids: %w", err)
	}
	if count > tracker.SeenCap {
		evicted, err := tx.Exec(ctx, `
			DELETE FROM tracker_seen WHERE mailbox = $1 AND seq IN (
				SELECT seq FROM tracker_seen
				WHERE mailbox = $1 AND message_id <> $2
				ORDER BY seq LIMIT $3
			)`, mailbox, id, tracker.SeenEvict)
		if err != nil {
			return false, fmt.Errorf("evicting seen ids: %w", err)
		}
		s.logger.Debug("evicted seen ids", "mailbox", mailbox, "count", evicted.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// SeenCount returns the number of seen ids across all mailboxes.
func (s *Store) SeenCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracker_seen`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting seen ids: %w", err)
	}
	return n, nil
}

// History implements agent.HistoryStore.
func (s *Store) History(ctx context.Context, userID string) ([]agent.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, text FROM agent_messages
		WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, agent.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (agent.Message, error) {
		var role, text string
		err := row.Scan(&role, &text)
		return agent.Message{Role: agent.Role(role), Text: text}, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning history: %w", err)
	}
	slices.Reverse(msgs)
	return agent.Trim(msgs, agent.MaxHistory), nil
}

// AppendHistory implements agent.HistoryStore.
func (s *Store) AppendHistory(ctx context.Context, userID string, msgs ...agent.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`INSERT INTO agent_messages (user_id, role, text) VALUES ($1, $2, $3)`, userID, string(m.Role), m.Text)
	}
	batch.Queue(`
		DELETE FROM agent_messages WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM agent_messages WHERE user_id = $1 ORDER BY id DESC LIMIT $2
		)`, userID, agent.MaxHistory)

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}
