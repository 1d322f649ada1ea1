// Package chat implements the request/response exchange with the completion
// service and its HTTP and WebSocket surfaces.
package chat

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/ashureev/twinning/internal/domain"
)

// DefaultModel is the Gemini model every prompt is sent to.
const DefaultModel = "gemini-1.5-flash-002"

var (
	// ErrInvalidCredential means the session's key failed the length check.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrEmptyPrompt means the submitted prompt was blank.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrExtraction means the response carried no text at candidates[0].content.parts[0].
	ErrExtraction = errors.New("response did not contain text")
	// ErrTransport means the completion service call itself failed.
	ErrTransport = errors.New("completion service call failed")
)

// Generator is the completion service. Each call is independent: only the
// prompt is sent, never prior turns.
type Generator interface {
	GenerateContent(ctx context.Context, apiKey, prompt string) (*genai.GenerateContentResponse, error)
}

// InteractionRecorder receives one audit record per completed or failed round.
type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, in *domain.Interaction) error
}

// ExtractionError reports why no text could be taken from a response.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extract response text: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return ErrExtraction }

// TransportError wraps a failure returned by the Generator.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return ErrTransport.Error() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Result is the outcome of one exchange. UserTurn is always set; exactly one
// of Turn or Err is set.
type Result struct {
	UserTurn domain.Turn
	Turn     domain.Turn
	Err      error
}

// OK reports whether the exchange completed with an assistant turn.
func (r Result) OK() bool { return r.Err == nil }

// Outcome classifies the result for logging and auditing.
func (r Result) Outcome() domain.Outcome {
	return OutcomeOf(r.Err)
}

// OutcomeOf maps an exchange error onto its audit outcome.
func OutcomeOf(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeCompleted
	case errors.Is(err, ErrExtraction):
		return domain.OutcomeExtractionFailure
	default:
		return domain.OutcomeTransportFailure
	}
}
