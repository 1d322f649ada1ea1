package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/session"
)

func newTestSession() *session.Session {
	s := session.New("anon_test", "tab-1")
	s.SetCredential(validKey)
	return s
}

func TestExchangeAppendsBothTurns(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Hi there")}
	rec := &memRecorder{}
	p := NewProcessor(gen, WithRecorder(rec))
	sess := newTestSession()

	res, err := p.Exchange(context.Background(), sess, "Hello")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "Hi there", res.Turn.Content)
	assert.Equal(t, domain.RoleAssistant, res.Turn.Role)

	turns := sess.Transcript()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "Hello", turns[0].Content)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hi there", turns[1].Content)
	assert.Equal(t, session.StateIdle, sess.State())

	assert.Equal(t, []string{validKey}, gen.keys)

	require.Eventually(t, func() bool { return len(rec.Rows()) == 1 }, time.Second, 5*time.Millisecond)
	rows := rec.Rows()
	assert.Equal(t, domain.OutcomeCompleted, rows[0].Outcome)
	assert.Equal(t, DefaultModel, rows[0].Model)
	assert.Equal(t, len("Hello"), rows[0].PromptLength)
	assert.Equal(t, len("Hi there"), rows[0].ResponseLength)
	assert.NotEmpty(t, rows[0].ID)
}

func TestExchangeSendsOnlyCurrentPrompt(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	p := NewProcessor(gen)
	sess := newTestSession()

	for _, prompt := range []string{"first", "second", "third"} {
		res, err := p.Exchange(context.Background(), sess, prompt)
		require.NoError(t, err)
		require.True(t, res.OK())
	}

	assert.Equal(t, []string{"first", "second", "third"}, gen.Prompts())
	assert.Len(t, sess.Transcript(), 6)
}

func TestExchangeExtractionFailure(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{}}}
	rec := &memRecorder{}
	p := NewProcessor(gen, WithRecorder(rec))
	sess := newTestSession()

	res, err := p.Exchange(context.Background(), sess, "Hello")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrExtraction))
	assert.Equal(t, domain.OutcomeExtractionFailure, res.Outcome())

	turns := sess.Transcript()
	require.Len(t, turns, 1)
	assert.Equal(t, "Hello", turns[0].Content)

	fails := sess.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, domain.OutcomeExtractionFailure, fails[0].Outcome)
	assert.Equal(t, session.StateIdle, sess.State())

	require.Eventually(t, func() bool { return len(rec.Rows()) == 1 }, time.Second, 5*time.Millisecond)
	rows := rec.Rows()
	assert.Equal(t, domain.OutcomeExtractionFailure, rows[0].Outcome)
	assert.NotEmpty(t, rows[0].Error)
}

func TestExchangeTransportFailure(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	gen := &fakeGenerator{err: cause}
	p := NewProcessor(gen)
	sess := newTestSession()

	res, err := p.Exchange(context.Background(), sess, "Hello")
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrTransport))
	assert.True(t, errors.Is(res.Err, cause))
	assert.Equal(t, domain.OutcomeTransportFailure, res.Outcome())

	require.Len(t, sess.Transcript(), 1)
	require.Len(t, sess.Failures(), 1)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("unused")}
	p := NewProcessor(gen)
	sess := newTestSession()

	for _, prompt := range []string{"", "   ", "\n\t"} {
		_, err := p.Submit(context.Background(), sess, prompt)
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	}
	assert.Empty(t, sess.Transcript())
	assert.Empty(t, gen.Prompts())
	assert.True(t, IsClientError(ErrEmptyPrompt))
}

func TestSubmitSingleFlight(t *testing.T) {
	gen := &fakeGenerator{
		resp:    textResponse("done"),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	p := NewProcessor(gen)
	sess := newTestSession()

	ch, err := p.Submit(context.Background(), sess, "first")
	require.NoError(t, err)
	<-gen.started

	assert.Equal(t, session.StateAwaitingResponse, sess.State())
	// The user turn is visible while the reply is pending.
	require.Len(t, sess.Transcript(), 1)

	_, err = p.Submit(context.Background(), sess, "second")
	assert.ErrorIs(t, err, session.ErrBusy)

	close(gen.gate)
	res := <-ch
	require.True(t, res.OK())

	_, open := <-ch
	assert.False(t, open, "result channel is closed after one value")
	assert.Equal(t, session.StateIdle, sess.State())

	gen.mu.Lock()
	gen.started = nil
	gen.mu.Unlock()
	res, err = p.Exchange(context.Background(), sess, "third")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{"first", "third"}, gen.Prompts())
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	gen := &fakeGenerator{
		resp:    textResponse("late reply"),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	p := NewProcessor(gen)
	sess := newTestSession()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Submit(ctx, sess, "Hello")
	require.NoError(t, err)
	<-gen.started
	cancel()
	close(gen.gate)

	select {
	case res := <-ch:
		require.True(t, res.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("exchange did not complete after caller cancelled")
	}
	assert.Len(t, sess.Transcript(), 2)
}

func TestSubmitConcurrentSessionsAreIndependent(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("pong")}
	p := NewProcessor(gen)

	a := session.New("anon_a", "tab")
	a.SetCredential(validKey)
	b := session.New("anon_b", "tab")
	b.SetCredential(validKey)

	cha, err := p.Submit(context.Background(), a, "ping a")
	require.NoError(t, err)
	chb, err := p.Submit(context.Background(), b, "ping b")
	require.NoError(t, err)

	assert.True(t, (<-cha).OK())
	assert.True(t, (<-chb).OK())
	assert.Equal(t, "ping a", a.Transcript()[0].Content)
	assert.Equal(t, "ping b", b.Transcript()[0].Content)
}

type gatedRecorder struct {
	memRecorder
	gate chan struct{}
}

func (g *gatedRecorder) RecordInteraction(ctx context.Context, in *domain.Interaction) error {
	<-g.gate
	return g.memRecorder.RecordInteraction(ctx, in)
}

func TestResultIsNotHeldByAuditWrite(t *testing.T) {
	rec := &gatedRecorder{gate: make(chan struct{})}
	p := NewProcessor(&fakeGenerator{resp: textResponse("Hi there")}, WithRecorder(rec))
	sess := newTestSession()

	ch, err := p.Submit(context.Background(), sess, "Hello")
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.True(t, res.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("result waited on the audit write")
	}
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Empty(t, rec.Rows())

	close(rec.gate)
	require.Eventually(t, func() bool { return len(rec.Rows()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClientErrorsMapToBadRequest(t *testing.T) {
	assert.True(t, IsClientError(ErrInvalidCredential))
	assert.False(t, IsClientError(session.ErrBusy))
	assert.False(t, IsClientError(&TransportError{Err: errors.New("reset")}))
}
