package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database. The schema is
// created on open; parent directories are created if needed.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps reads from blocking the write path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			thread_id TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_exchanges_thread_created
			ON exchanges(thread_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_exchanges_author
			ON exchanges(author_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// RecordExchange persists one exchange, assigning it a fresh ID.
func (s *SQLiteStore) RecordExchange(ctx context.Context, exchange Exchange) error {
	if exchange.CreatedAt.IsZero() {
		exchange.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, event_id, author_id, channel_id, thread_id, prompt, response, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		exchange.EventID,
		exchange.AuthorID,
		exchange.ChannelID,
		exchange.ThreadID,
		exchange.Prompt,
		exchange.Response,
		exchange.Provider,
		exchange.Model,
		exchange.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// RecentExchanges returns up to limit exchanges for a thread, oldest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, threadID string, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, author_id, channel_id, thread_id, prompt, response, provider, model, created_at
		FROM (
			SELECT * FROM exchanges WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var exchange Exchange
		if err := rows.Scan(
			&exchange.ID,
			&exchange.EventID,
			&exchange.AuthorID,
			&exchange.ChannelID,
			&exchange.ThreadID,
			&exchange.Prompt,
			&exchange.Response,
			&exchange.Provider,
			&exchange.Model,
			&exchange.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}
	return exchanges, rows.Err()
}

// Stats returns aggregate counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT author_id) FROM exchanges`,
	).Scan(&stats.Exchanges, &stats.UniqueUsers)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
