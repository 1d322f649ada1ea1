// Package session holds per-tab chat state: the credential and the transcript.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/ashureev/twinning/internal/domain"
)

// MaxFailures bounds the failure history kept per session.
const MaxFailures = 50

// ErrBusy is returned when a session already has an exchange awaiting a response.
var ErrBusy = errors.New("session is awaiting a response")

// State is the exchange state of a session.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingResponse State = "awaiting_response"
)

// FailureRecord notes a round that ended in Failed. Failures never enter the transcript.
type FailureRecord struct {
	Outcome domain.Outcome `json:"outcome"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
}

// Session is the store for one interactive chat session.
// All methods are safe for concurrent use.
type Session struct {
	userID    string
	sessionID string
	createdAt time.Time

	mu           sync.RWMutex
	credential   domain.Credential
	transcript   []domain.Turn
	failures     []FailureRecord
	lastActivity time.Time

	// inflight admits one exchange at a time.
	inflight sync.Mutex
	awaiting bool
}

// New creates an empty session.
func New(userID, sessionID string) *Session {
	now := time.Now()
	return &Session{
		userID:       userID,
		sessionID:    sessionID,
		createdAt:    now,
		lastActivity: now,
		transcript:   make([]domain.Turn, 0),
	}
}

// UserID returns the owning anonymous user.
func (s *Session) UserID() string { return s.userID }

// ID returns the tab session ID.
func (s *Session) ID() string { return s.sessionID }

// SetCredential validates and stores raw, replacing any previous credential.
// It never contacts the completion service.
func (s *Session) SetCredential(raw string) domain.Credential {
	c := domain.NewCredential(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = c
	s.lastActivity = time.Now()
	return c
}

// Credential returns the current credential.
func (s *Session) Credential() domain.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// AppendTurn adds turn to the end of the transcript.
func (s *Session) AppendTurn(turn domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
	s.lastActivity = time.Now()
}

// Transcript returns a copy of the turns in insertion order.
// An empty session yields a non-nil, zero-length slice.
func (s *Session) Transcript() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// RecordFailure notes a failed round. Only the most recent MaxFailures are kept.
func (s *Session) RecordFailure(outcome domain.Outcome, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, FailureRecord{Outcome: outcome, Message: msg, At: time.Now()})
	if n := len(s.failures); n > MaxFailures {
		s.failures = append(s.failures[:0:0], s.failures[n-MaxFailures:]...)
	}
	s.lastActivity = time.Now()
}

// Failures returns a copy of the recorded failures.
func (s *Session) Failures() []FailureRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FailureRecord, len(s.failures))
	copy(out, s.failures)
	return out
}

// TryBegin moves the session to AwaitingResponse. It returns false if an
// exchange is already in flight.
func (s *Session) TryBegin() bool {
	if !s.inflight.TryLock() {
		return false
	}
	s.mu.Lock()
	s.awaiting = true
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return true
}

// End returns the session to Idle. It must only be called after a successful TryBegin.
func (s *Session) End() {
	s.mu.Lock()
	s.awaiting = false
	s.lastActivity = time.Now()
	s.mu.Unlock()
	s.inflight.Unlock()
}

// State reports whether an exchange is in flight.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.awaiting {
		return StateAwaitingResponse
	}
	return StateIdle
}

// Touch marks the session as active.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns when the session was last read from or written to by a request.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}
