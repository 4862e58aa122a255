package http

import (
	"net/http"

	"github.com/nextlevelbuilder/agentgate/internal/metrics"
)

// MetricsHandler exposes the in-process metrics collector.
type MetricsHandler struct {
	collector *metrics.Collector
}

func NewMetricsHandler(c *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: c}
}

// RegisterRoutes registers the metrics routes on the given mux.
func (h *MetricsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/metrics", h.handleGet)
	mux.HandleFunc("POST /api/metrics/reset", h.handleReset)
}

func (h *MetricsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

func (h *MetricsHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.collector.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "message": "Metrics have been reset"})
}
