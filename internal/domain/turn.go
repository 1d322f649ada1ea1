package domain

import (
	"fmt"
	"time"
)

// Role identifies the author of a Turn.
type Role string

const (
	// RoleUser marks a prompt typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks text returned by the completion service.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message in a chat transcript. Turns are immutable once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the turn is complete.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("invalid role %q", t.Role)
	}
	if t.Content == "" {
		return fmt.Errorf("%s turn has empty content", t.Role)
	}
	return nil
}
