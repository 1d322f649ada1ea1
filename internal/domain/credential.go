package domain

import "unicode/utf8"

// MinCredentialLength is the number of characters a raw key must exceed to be
// marked valid.
const MinCredentialLength = 30

// Credential is the user-supplied Gemini API key for one session.
//
// Valid is a format check only: the key is not verified against the API, so a
// long but wrong key is still Valid. Raw must never be logged or persisted.
type Credential struct {
	Raw   string
	Valid bool
}

// NewCredential builds a Credential from raw input.
func NewCredential(raw string) Credential {
	return Credential{Raw: raw, Valid: utf8.RuneCountInString(raw) > MinCredentialLength}
}

// String redacts the key so a Credential can be passed to a logger safely.
func (c Credential) String() string {
	if c.Raw == "" {
		return "<empty>"
	}
	return "<redacted>"
}
