package handler

import (
	"net/http"

	"github.com/searchsync/indexqueue/internal/queue"
)

// MetricsHandler serves a human-readable JSON snapshot of the in-process work
// queue. Raw Prometheus metrics are served separately at /metrics.
type MetricsHandler struct {
	q *queue.WorkQueue
}

func NewMetricsHandler(q *queue.WorkQueue) *MetricsHandler {
	return &MetricsHandler{q: q}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time work queue depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	first, refresh := h.q.Depths()
	respondJSON(w, http.StatusOK, map[string]any{
		"work_queue_depth": map[string]int{
			"first":   first,
			"refresh": refresh,
			"total":   first + refresh,
		},
	})
}
