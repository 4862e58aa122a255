package http

import (
	"net/http"

	"github.com/nextlevelbuilder/agentgate/internal/sessions"
)

// SessionsHandler exposes conversation history management. The store is
// in-memory; these endpoints exist so the UI can enumerate and prune it.
type SessionsHandler struct {
	store *sessions.Store
}

func NewSessionsHandler(s *sessions.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

// RegisterRoutes registers the session routes on the given mux.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.handleDelete)
}

func (h *SessionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list := h.store.List()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list, "count": len(list)})
}

func (h *SessionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    s.ID,
		"created_at":    s.Created,
		"message_count": len(s.Messages),
	})
}

func (h *SessionsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.store.Delete(r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
