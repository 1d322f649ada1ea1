package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/session"
)

// Processor runs one exchange per submission: append the user turn, call the
// Generator once, append the assistant turn on success.
//
// There are no retries. Callers check Credential().Valid before submitting.
type Processor struct {
	gen      Generator
	model    string
	recorder InteractionRecorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRecorder stores an audit row per round.
func WithRecorder(r InteractionRecorder) ProcessorOption {
	return func(p *Processor) { p.recorder = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithModelName sets the model name written to audit rows.
func WithModelName(model string) ProcessorOption {
	return func(p *Processor) { p.model = model }
}

// NewProcessor creates a processor backed by gen.
func NewProcessor(gen Generator, opts ...ProcessorOption) *Processor {
	p := &Processor{
		gen:    gen,
		model:  DefaultModel,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit starts an exchange and returns a channel that yields exactly one
// Result and is then closed. The session is AwaitingResponse until the result
// is ready.
//
// The user turn is appended before Submit returns. The outbound call is
// detached from ctx cancellation: once submitted it runs to completion.
// Submit returns session.ErrBusy if another exchange is in flight on sess.
func (p *Processor) Submit(ctx context.Context, sess *session.Session, prompt string) (<-chan Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if !sess.TryBegin() {
		return nil, session.ErrBusy
	}

	userTurn := domain.Turn{
		ID:        p.newID(),
		Role:      domain.RoleUser,
		Content:   prompt,
		CreatedAt: p.now(),
	}
	sess.AppendTurn(userTurn)
	cred := sess.Credential()

	callCtx := context.WithoutCancel(ctx)
	out := make(chan Result, 1)
	go func() {
		res, audit := p.exchange(callCtx, sess, cred, userTurn)
		sess.End()
		out <- res
		close(out)
		// The audit write may retry on a locked database; the caller is
		// already unblocked by then.
		p.record(callCtx, audit)
	}()
	return out, nil
}

// Exchange is the blocking form of Submit.
func (p *Processor) Exchange(ctx context.Context, sess *session.Session, prompt string) (Result, error) {
	ch, err := p.Submit(ctx, sess, prompt)
	if err != nil {
		return Result{}, err
	}
	return <-ch, nil
}

func (p *Processor) exchange(ctx context.Context, sess *session.Session, cred domain.Credential, userTurn domain.Turn) (Result, *domain.Interaction) {
	start := p.now()
	log := p.logger.With(
		"user_id", sess.UserID(),
		"session_id", sess.ID(),
		"prompt_length", len(userTurn.Content),
	)

	resp, err := p.gen.GenerateContent(ctx, cred.Raw, userTurn.Content)
	if err != nil {
		log.Error("Completion request failed", "error", err)
		return p.fail(sess, userTurn, &TransportError{Err: err}, start)
	}

	text, err := ExtractText(resp)
	if err != nil {
		log.Warn("Failed to extract response text", "error", err)
		return p.fail(sess, userTurn, err, start)
	}

	turn := domain.Turn{
		ID:        p.newID(),
		Role:      domain.RoleAssistant,
		Content:   text,
		CreatedAt: p.now(),
	}
	if err := turn.Validate(); err != nil {
		log.Warn("Rejected malformed assistant turn", "error", err)
		return p.fail(sess, userTurn, &ExtractionError{Reason: err.Error()}, start)
	}
	sess.AppendTurn(turn)
	log.Info("Completion received", "response_length", len(text), "duration", p.now().Sub(start))

	return Result{UserTurn: userTurn, Turn: turn}, &domain.Interaction{
		UserID:         sess.UserID(),
		SessionID:      sess.ID(),
		PromptLength:   len(userTurn.Content),
		ResponseLength: len(text),
		Outcome:        domain.OutcomeCompleted,
		Duration:       p.now().Sub(start),
	}
}

func (p *Processor) fail(sess *session.Session, userTurn domain.Turn, err error, start time.Time) (Result, *domain.Interaction) {
	outcome := OutcomeOf(err)
	sess.RecordFailure(outcome, err.Error())
	return Result{UserTurn: userTurn, Err: err}, &domain.Interaction{
		UserID:       sess.UserID(),
		SessionID:    sess.ID(),
		PromptLength: len(userTurn.Content),
		Outcome:      outcome,
		Error:        err.Error(),
		Duration:     p.now().Sub(start),
	}
}

func (p *Processor) record(ctx context.Context, in *domain.Interaction) {
	if p.recorder == nil || in == nil {
		return
	}
	in.ID = p.newID()
	in.Model = p.model
	in.CreatedAt = p.now()
	if err := p.recorder.RecordInteraction(ctx, in); err != nil {
		p.logger.Warn("Failed to record interaction", "error", err, "outcome", in.Outcome)
	}
}

// IsClientError reports whether err was caused by the submission itself rather
// than by the completion service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) || errors.Is(err, ErrInvalidCredential)
}
