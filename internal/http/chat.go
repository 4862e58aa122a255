// Package http implements the gateway's REST surface: chat streaming, trace
// inspection, metrics, skills, sessions, the search proxy and warmup. Every
// handler follows the same shape — a struct holding its dependencies, a New
// constructor, and RegisterRoutes adding method+path patterns to the mux.
package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/stream"
	"github.com/nextlevelbuilder/agentgate/internal/turn"
)

// maxChatBody caps the request body. Replayed histories can get large, but a
// megabyte of prompt is already pathological.
const maxChatBody = 1 << 20

// ChatHandler streams agent turns to the browser as server-sent events.
type ChatHandler struct {
	turns *turn.Coordinator
}

func NewChatHandler(turns *turn.Coordinator) *ChatHandler {
	return &ChatHandler{turns: turns}
}

// RegisterRoutes registers the chat endpoints on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handle(false))
	mux.HandleFunc("POST /api/chat/thinking", h.handle(true))
}

type chatRequest struct {
	Message   string        `json:"message"`
	SessionID string        `json:"session_id"`
	History   []chatMessage `json:"history"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *ChatHandler) handle(thinking bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
			return
		}

		var history []sessions.Message
		for _, m := range req.History {
			history = append(history, sessions.Message{Role: m.Role, Content: m.Content})
		}

		t := h.turns.Prepare(turn.Request{
			Message:   req.Message,
			SessionID: req.SessionID,
			History:   history,
			Thinking:  thinking,
		})

		// Identifier headers must go out before the first frame. The session
		// ID is URL-encoded since clients may send non-ASCII ones.
		w.Header().Set("X-Session-Id", url.QueryEscape(t.SessionID))
		w.Header().Set("X-Trace-Id", t.TraceID)

		sw := stream.NewWriter(w)
		t.Run(r.Context(), sw.Send)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
