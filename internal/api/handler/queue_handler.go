package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/searchsync/indexqueue/internal/api/middleware"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/service"
)

// QueueHandler exposes the index queue administration to operators.
type QueueHandler struct {
	svc    *service.IndexQueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.IndexQueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

type initializeRequest struct {
	Configurations []string `json:"configurations"`
}

// Initialize handles POST /api/v1/sites/{site}/queue/initialize
//
// @Summary  Fill the queue of a site from the selected indexing configurations
// @Tags     queue
// @Accept   json
// @Produce  json
// @Param    site  path      string             true  "Site identifier"
// @Param    body  body      initializeRequest  true  "Configurations to initialize"
// @Success  200   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/sites/{site}/queue/initialize [post]
func (h *QueueHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	site := chi.URLParam(r, "site")
	initialized, err := h.svc.InitializeQueue(r.Context(), site, req.Configurations)
	if err != nil {
		h.logger.Warn("initialize queue failed",
			apimw.CorrelationField(r.Context()),
			zap.String("site", site),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"site": site, "initialized": initialized})
}

// Statistics handles GET /api/v1/sites/{site}/queue/statistics
//
// @Summary  Queue statistics of a site
// @Tags     queue
// @Produce  json
// @Param    site           path      string  true   "Site identifier"
// @Param    configuration  query     string  false  "Restrict to one indexing configuration"
// @Success  200            {object}  domain.Statistics
// @Router   /api/v1/sites/{site}/queue/statistics [get]
func (h *QueueHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Statistics(r.Context(), chi.URLParam(r, "site"), r.URL.Query().Get("configuration"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ConfigurationStatistics handles GET /api/v1/sites/{site}/queue/configurations
//
// @Summary  Queue statistics of a site per indexing configuration
// @Tags     queue
// @Produce  json
// @Param    site  path      string  true  "Site identifier"
// @Success  200   {array}   domain.ConfigurationStatistics
// @Router   /api/v1/sites/{site}/queue/configurations [get]
func (h *QueueHandler) ConfigurationStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ConfigurationStatistics(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": stats})
}

// Errors handles GET /api/v1/sites/{site}/queue/errors
//
// @Summary  Queue items of a site whose last dispatch failed
// @Tags     queue
// @Produce  json
// @Param    site  path      string  true  "Site identifier"
// @Success  200   {object}  map[string]any
// @Router   /api/v1/sites/{site}/queue/errors [get]
func (h *QueueHandler) Errors(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Errors(r.Context(), chi.URLParam(r, "site"))
	if err != nil {
		mapError(w, err)
		return
	}
	if items == nil {
		items = []*domain.QueueItem{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

// Clear handles DELETE /api/v1/sites/{site}/queue
//
// @Summary  Remove every queue item of a site
// @Tags     queue
// @Produce  json
// @Param    site  path      string  true  "Site identifier"
// @Success  200   {object}  map[string]any
// @Router   /api/v1/sites/{site}/queue [delete]
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	site := chi.URLParam(r, "site")
	n, err := h.svc.ClearQueue(r.Context(), site)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"site": site, "deleted": n})
}

// Index handles POST /api/v1/sites/{site}/queue/index
//
// @Summary  Index up to max pending items of a site now
// @Tags     queue
// @Produce  json
// @Param    site  path      string  true   "Site identifier"
// @Param    max   query     int     false  "Batch size (default 10, at most 100)"
// @Success  200   {object}  map[string]any
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/sites/{site}/queue/index [post]
func (h *QueueHandler) Index(w http.ResponseWriter, r *http.Request) {
	max := service.DefaultIndexBatchSize
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "max must be an integer")
			return
		}
		max = n
	}

	run, err := h.svc.IndexItems(r.Context(), chi.URLParam(r, "site"), max)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"site":    run.Site,
		"claimed": run.Claimed,
		"indexed": run.Indexed,
		"failed":  run.Failed,
		"ok":      run.OK(),
	})
}

// ResetErrors handles POST /api/v1/queue/errors/reset
//
// @Summary  Clear the errors of every queue item on every site
// @Tags     queue
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/queue/errors/reset [post]
func (h *QueueHandler) ResetErrors(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ResetAllErrors(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"reset": n})
}

// GetItem handles GET /api/v1/queue/items/{id}
//
// @Summary  Get one queue item
// @Tags     queue
// @Produce  json
// @Param    id   path      int  true  "Queue item id"
// @Success  200  {object}  domain.QueueItem
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/queue/items/{id} [get]
func (h *QueueHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	item, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Configurations handles GET /api/v1/configurations
//
// @Summary  Indexing configurations available for initialization
// @Tags     queue
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/configurations [get]
func (h *QueueHandler) Configurations(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": h.svc.Configurations()})
}
