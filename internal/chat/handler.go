package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/twinning/internal/api"
	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/identity"
	"github.com/ashureev/twinning/internal/session"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

const (
	disclaimerText = "This is a prototype under development and may contain bugs or errors. " +
		"It is intended for testing and educational purposes only. Please use this prototype with caution and at your own risk. " +
		"The creator of this prototype is not responsible for any damages or losses incurred as a result of using this tool."
	introText = "This chatbot experience is powered by the Google Gemini LLM, which is a powerful language model designed to " +
		"understand and respond to your requests in a natural and informative way. To begin, open the panel on the left " +
		"and input your Google Gemini API Key."
	apiKeyHelpURL = "https://ai.google.dev/gemini-api/docs/api-key"
)

// Handler serves the chat API.
type Handler struct {
	sessions    *session.Manager
	processor   *Processor
	model       string
	maxBodySize int64
}

// NewHandler creates a chat handler. maxBodySize <= 0 uses the 1MB default.
func NewHandler(sessions *session.Manager, processor *Processor, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		sessions:    sessions,
		processor:   processor,
		model:       processor.model,
		maxBodySize: maxBodySize,
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Put("/credential", h.PutCredential)
		r.Get("/transcript", h.GetTranscript)
		r.Post("/chat", h.HandleChat)
		r.Delete("/session", h.DeleteSession)
	})
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type credentialResponse struct {
	Valid bool `json:"valid"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	UserTurn domain.Turn `json:"user_turn"`
	Turn     domain.Turn `json:"turn"`
}

type failureResponse struct {
	Error string         `json:"error"`
	Kind  domain.Outcome `json:"kind"`
}

type transcriptResponse struct {
	State session.State           `json:"state"`
	Valid bool                    `json:"credential_valid"`
	Empty bool                    `json:"empty"`
	Turns []domain.Turn           `json:"turns"`
	Fails []session.FailureRecord `json:"failures"`
}

// GetConfig returns static page configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, map[string]interface{}{
		"model":                 h.model,
		"min_credential_length": domain.MinCredentialLength,
		"disclaimer":            disclaimerText,
		"intro":                 introText,
		"api_key_help_url":      apiKeyHelpURL,
	})
}

// PutCredential handles PUT /api/credential.
func (h *Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	var req credentialRequest
	if !h.decode(w, r, &req) {
		return
	}

	cred := sess.SetCredential(req.APIKey)
	slog.Info("Credential updated", "user_id", sess.UserID(), "session_id", sess.ID(), "valid", cred.Valid)
	api.JSON(w, http.StatusOK, credentialResponse{Valid: cred.Valid})
}

// GetTranscript handles GET /api/transcript.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	turns := sess.Transcript()
	api.JSON(w, http.StatusOK, transcriptResponse{
		State: sess.State(),
		Valid: sess.Credential().Valid,
		Empty: len(turns) == 0,
		Turns: turns,
		Fails: sess.Failures(),
	})
}

// HandleChat handles POST /api/chat. It blocks until the exchange is done.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessionFor(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !sess.Credential().Valid {
		api.Error(w, http.StatusBadRequest, ErrInvalidCredential.Error())
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat request",
		"user_id", sess.UserID(),
		"session_id", sess.ID(),
		"request_id", reqID,
		"message_length", len(req.Message),
	)

	ch, err := h.processor.Submit(r.Context(), sess, req.Message)
	switch {
	case IsClientError(err):
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrBusy):
		api.Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	var res Result
	select {
	case res = <-ch:
	case <-r.Context().Done():
		// The exchange keeps running and lands in the transcript.
		slog.Info("Chat client went away before completion", "user_id", sess.UserID(), "request_id", reqID)
		return
	}

	if !res.OK() {
		api.JSON(w, http.StatusBadGateway, failureResponse{Error: res.Err.Error(), Kind: res.Outcome()})
		return
	}
	api.JSON(w, http.StatusOK, chatResponse{UserTurn: res.UserTurn, Turn: res.Turn})
}

// DeleteSession handles DELETE /api/session, ending the tab's session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	closed := h.sessions.Close(userID, sessionID)
	api.JSON(w, http.StatusOK, map[string]bool{"closed": closed})
}

func (h *Handler) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return h.sessions.GetOrCreate(userID, identity.SessionIDFromContext(r.Context())), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
