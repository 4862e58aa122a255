package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// warmupTimeout bounds one warmup run regardless of the triggering request.
const warmupTimeout = 30 * time.Second

// WarmupFunc readies slow dependencies (provider connectivity, MCP tool
// discovery) ahead of the first chat turn.
type WarmupFunc func(ctx context.Context) error

// SystemHandler serves health and warmup. Warmup runs are coalesced with
// singleflight so multiple tabs posting at once trigger one probe.
type SystemHandler struct {
	version string
	warm    WarmupFunc // nil: warmup succeeds immediately

	group   singleflight.Group
	mu      sync.RWMutex
	ready   bool
	warming bool
}

func NewSystemHandler(version string, warm WarmupFunc) *SystemHandler {
	return &SystemHandler{version: version, warm: warm}
}

// RegisterRoutes registers the health and warmup routes on the given mux.
func (h *SystemHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/warmup", h.handleWarmup)
	mux.HandleFunc("GET /api/warmup/status", h.handleStatus)
}

func (h *SystemHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *SystemHandler) handleWarmup(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()
	if ready {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	h.setWarming(true)
	_, err, _ := h.group.Do("warmup", func() (any, error) {
		if h.warm == nil {
			return nil, nil
		}
		// Detached from the request so one closed tab can't cancel the run
		// for the others coalesced onto it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), warmupTimeout)
		defer cancel()
		return nil, h.warm(ctx)
	})
	if err != nil {
		h.setWarming(false)
		slog.Warn("warmup failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	h.mu.Lock()
	h.ready = true
	h.warming = false
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *SystemHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]bool{"ready": h.ready, "warming_up": h.warming})
}

func (h *SystemHandler) setWarming(v bool) {
	h.mu.Lock()
	h.warming = v
	h.mu.Unlock()
}
