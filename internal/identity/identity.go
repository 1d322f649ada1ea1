// Package identity resolves who is calling: an anonymous device identity kept
// in a cookie, and the browser tab's chat session ID.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/twinning/internal/domain"
)

const (
	AnonCookieName        = "twinning_anon_id"
	SessionHeaderName     = "X-Twinning-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
	lastSeenResolution    = time.Minute
)

// UserStore is the subset of the repository the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Identity is what the middleware attaches to each request.
type Identity struct {
	UserID    string
	Username  string
	SessionID string
}

type contextKey struct{}

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// FromContext returns the request identity, if the middleware ran.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionIDFromContext extracts the tab session ID from the request context.
// Each page load generates a new tab session ID, so a reload starts an empty chat.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.SessionID != "" {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

func generateAnonID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + strings.ReplaceAll(u.String(), "-", ""), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

func ensureUser(ctx context.Context, repo UserStore, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		if user.IdleFor(now) < lastSeenResolution {
			return nil
		}
		return repo.UpdateLastSeen(ctx, userID, now)
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   deriveUsername(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else if id, err = generateAnonID(); err != nil {
		return "", err
	}

	// Refreshed on every request so active devices keep their identity.
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects anonymous per-device identity and per-request session ID.
func Middleware(repo UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				slog.Error("Failed to establish anonymous identity", "error", err)
				writeError(w, "failed to establish anonymous identity")
				return
			}

			if err := ensureUser(r.Context(), repo, userID); err != nil {
				slog.Error("Failed to initialize anonymous user", "error", err, "user_id", userID)
				writeError(w, "failed to initialize anonymous user")
				return
			}

			ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity returns ctx carrying the given identity. It is how tests and
// non-HTTP callers reach handlers that read identity from the context.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		UserID:    userID,
		Username:  deriveUsername(userID),
		SessionID: sanitizeSessionID(sessionID),
	})
}

// writeError mirrors api.Error; the api package imports this one.
func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
