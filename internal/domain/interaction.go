package domain

import "time"

// Outcome is the terminal state of one request/response round.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeExtractionFailure Outcome = "extraction_failure"
	OutcomeTransportFailure  Outcome = "transport_failure"
)

// Interaction is an audit record of one chat round. It carries sizes, never
// prompt or reply text, and never the credential.
type Interaction struct {
	ID             string
	UserID         string
	SessionID      string
	Model          string
	PromptLength   int
	ResponseLength int
	Outcome        Outcome
	Error          string
	Duration       time.Duration
	CreatedAt      time.Time
}
