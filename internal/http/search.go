package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/search"
)

// SearchHandler proxies web searches for the UI and the agent's fallback
// search path. GET takes query params for quick browser testing; POST takes
// a JSON body.
type SearchHandler struct {
	client *search.Client
}

func NewSearchHandler(c *search.Client) *SearchHandler {
	return &SearchHandler{client: c}
}

// RegisterRoutes registers the search routes on the given mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.handleGet)
	mux.HandleFunc("POST /api/search", h.handlePost)
}

func (h *SearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		query = q.Get("q")
	}
	n, _ := strconv.Atoi(q.Get("max_results"))
	h.run(w, r, query, n)
}

func (h *SearchHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	h.run(w, r, req.Query, req.MaxResults)
}

func (h *SearchHandler) run(w http.ResponseWriter, r *http.Request, query string, numResults int) {
	if strings.TrimSpace(query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	resp, err := h.client.Search(r.Context(), query, numResults)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, search.ErrNoAPIKey):
		writeJSON(w, http.StatusServiceUnavailable, failedSearch(query, err))
	case errors.Is(err, search.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, failedSearch(query, err))
	default:
		slog.Error("search proxy failed", "query", query, "error", err)
		writeJSON(w, http.StatusBadGateway, failedSearch(query, err))
	}
}

func failedSearch(query string, err error) search.Response {
	return search.Response{Query: query, Results: []search.Result{}, Error: err.Error()}
}
