// Package store provides data persistence interfaces and implementations.
//
// Chat transcripts and credentials are never stored; only anonymous identities
// and a content-free audit of chat rounds are.
package store

import (
	"context"
	"time"

	"github.com/ashureev/twinning/internal/domain"
)

// Repository defines the interface for persisting users and interaction audits.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// RecordInteraction appends one audit row for a chat round.
	RecordInteraction(ctx context.Context, in *domain.Interaction) error

	// ListInteractions returns a user's most recent audit rows, newest first.
	ListInteractions(ctx context.Context, userID string, limit int) ([]*domain.Interaction, error)

	// CleanupInteractions removes audit rows older than maxAge.
	CleanupInteractions(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
