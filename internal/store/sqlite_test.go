package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/twinning/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.UpsertUser(ctx, &domain.User{
		UserID:     "anon_1",
		Username:   "anon-user",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	got, err = s.GetUser(ctx, "anon_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "anon-user", got.Username)
	assert.True(t, got.LastSeenAt.Equal(now))

	later := now.Add(time.Hour)
	require.NoError(t, s.UpdateLastSeen(ctx, "anon_1", later))
	got, err = s.GetUser(ctx, "anon_1")
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(later))
}

func TestInteractionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	records := []*domain.Interaction{
		{ID: "i1", UserID: "u", SessionID: "tab", Model: "m", PromptLength: 5, ResponseLength: 8,
			Outcome: domain.OutcomeCompleted, Duration: 120 * time.Millisecond, CreatedAt: base},
		{ID: "i2", UserID: "u", SessionID: "tab", Model: "m", PromptLength: 5,
			Outcome: domain.OutcomeExtractionFailure, Error: "no candidates", CreatedAt: base.Add(time.Second)},
		{ID: "i3", UserID: "other", SessionID: "tab", Model: "m", PromptLength: 1,
			Outcome: domain.OutcomeCompleted, CreatedAt: base},
	}
	for _, r := range records {
		require.NoError(t, s.RecordInteraction(ctx, r))
	}

	got, err := s.ListInteractions(ctx, "u", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i2", got[0].ID)
	assert.Equal(t, domain.OutcomeExtractionFailure, got[0].Outcome)
	assert.Equal(t, "no candidates", got[0].Error)
	assert.Equal(t, "i1", got[1].ID)
	assert.Equal(t, 120*time.Millisecond, got[1].Duration)
	assert.Empty(t, got[1].Error)
}

func TestCleanupInteractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordInteraction(ctx, &domain.Interaction{
		ID: "old", UserID: "u", SessionID: "tab", Model: "m",
		Outcome: domain.OutcomeCompleted, CreatedAt: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, s.RecordInteraction(ctx, &domain.Interaction{
		ID: "new", UserID: "u", SessionID: "tab", Model: "m",
		Outcome: domain.OutcomeCompleted, CreatedAt: time.Now(),
	}))

	deleted, err := s.CleanupInteractions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := s.ListInteractions(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
