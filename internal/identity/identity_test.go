package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/twinning/internal/domain"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*domain.User)} }

func (m *memUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *memUsers) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
		u.UpdatedAt = lastSeen
	}
	return nil
}

func TestMiddlewareIssuesAnonymousIdentity(t *testing.T) {
	users := newMemUsers()
	var gotUser, gotSession string
	h := Middleware(users, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/transcript", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.True(t, isValidAnonID(gotUser), "unexpected anon id %q", gotUser)
	assert.Equal(t, "tab-42", gotSession)

	u, err := users.GetUser(context.Background(), gotUser)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, deriveUsername(gotUser), u.Username)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.Equal(t, gotUser, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestMiddlewareReusesCookie(t *testing.T) {
	users := newMemUsers()
	id, err := generateAnonID()
	require.NoError(t, err)

	var gotUser string
	h := Middleware(users, false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, id, gotUser)
	require.Len(t, w.Result().Cookies(), 1)
	assert.True(t, w.Result().Cookies()[0].Secure, "cookie must be secure outside development")
}

func TestSanitizeSessionID(t *testing.T) {
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID(""))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID("bad id with spaces"))
	assert.Equal(t, "tab:1.a-b_c", sanitizeSessionID("  tab:1.a-b_c "))
}

func TestSessionIDFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/chat?session_id=tab-9", nil)
	assert.Equal(t, "tab-9", sessionIDFromRequest(req))
}

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "anon_0123456789abcdef0123456789abcdef", "tab-1")
	assert.Equal(t, "anon_0123456789abcdef0123456789abcdef", UserIDFromContext(ctx))
	assert.Equal(t, "tab-1", SessionIDFromContext(ctx))
	assert.Equal(t, DefaultSessionIDValue, SessionIDFromContext(context.Background()))
}

func TestEnsureUserRefreshesLastSeen(t *testing.T) {
	users := newMemUsers()
	ctx := context.Background()
	id, err := generateAnonID()
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, users.UpsertUser(ctx, &domain.User{UserID: id, LastSeenAt: stale}))

	require.NoError(t, ensureUser(ctx, users, id))
	u, err := users.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.LastSeenAt.After(stale))

	// Recent activity is not rewritten on every request.
	seen := u.LastSeenAt
	require.NoError(t, ensureUser(ctx, users, id))
	u, err = users.GetUser(ctx, id)
	require.NoError(t, err)
	assert.True(t, u.LastSeenAt.Equal(seen))
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	id, ok := FromContext(WithIdentity(context.Background(), "anon_x", "bad id"))
	require.True(t, ok)
	assert.Equal(t, Identity{UserID: "anon_x", Username: "anon-user", SessionID: DefaultSessionIDValue}, id)
}

func TestGenerateAnonIDIsValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := generateAnonID()
		require.NoError(t, err)
		require.True(t, isValidAnonID(id), id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
