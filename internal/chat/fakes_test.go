package chat

import (
	"context"
	"sync"

	"google.golang.org/genai"

	"github.com/ashureev/twinning/internal/domain"
)

// fakeGenerator answers with a fixed response or error. When gate is non-nil
// each call blocks until gate is closed.
type fakeGenerator struct {
	mu      sync.Mutex
	resp    *genai.GenerateContentResponse
	err     error
	gate    chan struct{}
	started chan struct{}
	prompts []string
	keys    []string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, apiKey, prompt string) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.keys = append(f.keys, apiKey)
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return f.resp, f.err
}

func (f *fakeGenerator) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

type memRecorder struct {
	mu   sync.Mutex
	rows []*domain.Interaction
}

func (m *memRecorder) RecordInteraction(_ context.Context, in *domain.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memRecorder) Rows() []*domain.Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Interaction(nil), m.rows...)
}

const validKey = "AIzaSyA-0123456789abcdefghijklmnopqrs"
