package chat

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini generateContent API with the caller's key.
// A client is built per call because every session brings its own key.
type GeminiGenerator struct {
	model      string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption configures a GeminiGenerator.
type GeminiOption func(*GeminiGenerator)

// WithBaseURL points the generator at a different endpoint.
func WithBaseURL(u string) GeminiOption {
	return func(g *GeminiGenerator) { g.baseURL = u }
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiGenerator) { g.httpClient = c }
}

// WithModel overrides DefaultModel.
func WithModel(model string) GeminiOption {
	return func(g *GeminiGenerator) { g.model = model }
}

// NewGeminiGenerator creates a generator for DefaultModel.
func NewGeminiGenerator(opts ...GeminiOption) *GeminiGenerator {
	g := &GeminiGenerator{model: DefaultModel}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model name requests are sent to.
func (g *GeminiGenerator) Model() string { return g.model }

// GenerateContent sends prompt as the whole request and returns the raw response.
func (g *GeminiGenerator) GenerateContent(ctx context.Context, apiKey, prompt string) (*genai.GenerateContentResponse, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("generate content with %s: %w", g.model, err)
	}
	return resp, nil
}
