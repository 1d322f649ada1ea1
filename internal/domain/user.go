// Package domain contains core domain types for the Twinning chat server.
package domain

import (
	"time"
)

// User is an anonymous per-device identity. Chat sessions hang off it but are
// never stored with it.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the user has been inactive as of now.
// Returns 0 if LastSeenAt is in the future.
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
