package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/shared"
)

const (
	writeMaxRetries     = 3
	writeRetryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the audit writer.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_length INTEGER NOT NULL,
		response_length INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := shared.RetryOnConflict(ctx, "upsert user", writeMaxRetries, writeRetryBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username,
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// RecordInteraction appends one audit row.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, in *domain.Interaction) error {
	query := `
	INSERT INTO interactions (
		id, user_id, session_id, model, prompt_length, response_length,
		outcome, error, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errText interface{}
	if in.Error != "" {
		errText = in.Error
	}

	err := shared.RetryOnConflict(ctx, "record interaction", writeMaxRetries, writeRetryBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			in.ID, in.UserID, in.SessionID, in.Model, in.PromptLength, in.ResponseLength,
			string(in.Outcome), errText, in.Duration.Milliseconds(), in.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// ListInteractions returns a user's most recent audit rows, newest first.
func (s *SQLiteStore) ListInteractions(ctx context.Context, userID string, limit int) ([]*domain.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, session_id, model, prompt_length, response_length,
		       outcome, error, duration_ms, created_at
		FROM interactions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close interaction rows", "error", closeErr)
		}
	}()

	var out []*domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		var outcome string
		var errText sql.NullString
		var durationMs, createdAt int64

		if err := rows.Scan(
			&in.ID, &in.UserID, &in.SessionID, &in.Model, &in.PromptLength, &in.ResponseLength,
			&outcome, &errText, &durationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan interaction row: %w", err)
		}
		in.Outcome = domain.Outcome(outcome)
		in.Error = errText.String
		in.Duration = time.Duration(durationMs) * time.Millisecond
		in.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interactions: %w", err)
	}
	return out, nil
}

// CleanupInteractions removes audit rows older than maxAge.
func (s *SQLiteStore) CleanupInteractions(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup interactions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)
