package http

import (
	"net/http"

	"github.com/nextlevelbuilder/agentgate/internal/skills"
)

// skillPreviewChars bounds the body excerpt in list rows.
const skillPreviewChars = 500

// SkillsHandler serves the skill registry.
type SkillsHandler struct {
	registry *skills.Registry
}

func NewSkillsHandler(reg *skills.Registry) *SkillsHandler {
	return &SkillsHandler{registry: reg}
}

// RegisterRoutes registers the skill routes on the given mux.
func (h *SkillsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/skills", h.handleList)
	mux.HandleFunc("GET /api/skills/{id}", h.handleGet)
}

// skillSummary trims the body down to a preview for list views.
type skillSummary struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	AllowedTools   []string `json:"allowed_tools"`
	Path           string   `json:"file_path"`
	ContentPreview string   `json:"content_preview"`
}

func (h *SkillsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	all := h.registry.List()
	items := make([]skillSummary, 0, len(all))
	for _, s := range all {
		tools := s.AllowedTools
		if tools == nil {
			tools = []string{}
		}
		items = append(items, skillSummary{
			ID:             s.ID,
			Name:           s.Name,
			Description:    s.Description,
			AllowedTools:   tools,
			Path:           s.Path,
			ContentPreview: s.Preview(skillPreviewChars),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skills":     items,
		"skills_dir": h.registry.Dir(),
		"count":      len(items),
	})
}

func (h *SkillsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
		return
	}
	if s.AllowedTools == nil {
		s.AllowedTools = []string{}
	}
	writeJSON(w, http.StatusOK, s)
}
