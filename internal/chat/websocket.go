package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/twinning/internal/domain"
	"github.com/ashureev/twinning/internal/identity"
	"github.com/ashureev/twinning/internal/session"
)

// WebSocketHandler serves /ws/chat. The "pending" event it emits is the UI's
// busy indicator while a round is AwaitingResponse.
type WebSocketHandler struct {
	sessions      *session.Manager
	processor     *Processor
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket chat handler.
func NewWebSocketHandler(sessions *session.Manager, processor *Processor, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:      sessions,
		processor:     processor,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsEvent is a server frame.
type wsEvent struct {
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Kind  domain.Outcome `json:"kind,omitempty"`
	Valid *bool          `json:"valid,omitempty"`
	Turn  *domain.Turn   `json:"turn,omitempty"`
	Turns []domain.Turn  `json:"turns,omitempty"`
	Empty *bool          `json:"empty,omitempty"`
	State session.State  `json:"state,omitempty"`
}

const (
	eventTranscript = "transcript"
	eventCredential = "credential"
	eventPending    = "pending"
	eventTurn       = "turn"
	eventError      = "error"
	eventPong       = "pong"
)

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	slog.Info("Chat WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := h.sessions.GetOrCreate(userID, sessionID)
	if err := h.writeEvent(ctx, ws, transcriptEvent(sess)); err != nil {
		slog.Debug("Failed to send initial transcript", "error", err)
		return
	}

	var pending sync.WaitGroup
	h.readLoop(ctx, ws, sess, &pending)
	// Rounds still in flight finish into the transcript; only their events are dropped.
	cancel()
	pending.Wait()
	slog.Info("Chat WebSocket session ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sess *session.Session, pending *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", sess.UserID())
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "user_id", sess.UserID())
			}
			return
		}
		// Any frame counts as activity so an open tab is not swept.
		sess.Touch()

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, ws, "invalid message", "")
			continue
		}

		switch msg.Type {
		case "credential":
			cred := sess.SetCredential(msg.Content)
			valid := cred.Valid
			slog.Info("Credential updated", "user_id", sess.UserID(), "session_id", sess.ID(), "valid", valid)
			if err := h.writeEvent(ctx, ws, wsEvent{Type: eventCredential, Valid: &valid}); err != nil {
				slog.Debug("Failed to send credential ack", "error", err)
			}
		case "prompt":
			h.handlePrompt(ctx, ws, sess, msg.Content, pending)
		case "transcript":
			if err := h.writeEvent(ctx, ws, transcriptEvent(sess)); err != nil {
				slog.Debug("Failed to send transcript", "error", err)
			}
		case "ping":
			if err := h.writeEvent(ctx, ws, wsEvent{Type: eventPong}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(ctx, ws, "unknown message type", "")
		}
	}
}

func (h *WebSocketHandler) handlePrompt(ctx context.Context, ws *websocket.Conn, sess *session.Session, prompt string, pending *sync.WaitGroup) {
	if !sess.Credential().Valid {
		h.sendError(ctx, ws, ErrInvalidCredential.Error(), "")
		return
	}

	ch, err := h.processor.Submit(ctx, sess, prompt)
	if err != nil {
		if !IsClientError(err) && !errors.Is(err, session.ErrBusy) {
			slog.Error("Failed to submit prompt", "error", err, "user_id", sess.UserID())
		}
		h.sendError(ctx, ws, err.Error(), "")
		return
	}

	if err := h.writeEvent(ctx, ws, wsEvent{Type: eventPending, State: session.StateAwaitingResponse}); err != nil {
		slog.Debug("Failed to send pending event", "error", err)
	}

	pending.Add(1)
	go func() {
		defer pending.Done()
		var res Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return
		}
		if !res.OK() {
			h.sendError(ctx, ws, res.Err.Error(), res.Outcome())
			return
		}
		turn := res.Turn
		if err := h.writeEvent(ctx, ws, wsEvent{Type: eventTurn, Turn: &turn, State: session.StateIdle}); err != nil {
			slog.Debug("Failed to send turn event", "error", err)
		}
	}()
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, msg string, kind domain.Outcome) {
	if err := h.writeEvent(ctx, ws, wsEvent{Type: eventError, Error: msg, Kind: kind}); err != nil {
		slog.Debug("Failed to send error event", "error", err)
	}
}

func (h *WebSocketHandler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func transcriptEvent(sess *session.Session) wsEvent {
	turns := sess.Transcript()
	empty := len(turns) == 0
	valid := sess.Credential().Valid
	return wsEvent{
		Type:  eventTranscript,
		Turns: turns,
		Empty: &empty,
		Valid: &valid,
		State: sess.State(),
	}
}
