package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/auth"
	"github.com/searchsync/indexqueue/internal/envelope"
)

// Action is one unit of work a rendering endpoint performs for a dispatch
// request. The returned value becomes the opaque action result.
type Action interface {
	Run(ctx context.Context, req *envelope.Request) (any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, req *envelope.Request) (any, error)

func (f ActionFunc) Run(ctx context.Context, req *envelope.Request) (any, error) {
	return f(ctx, req)
}

// Handler is the receiving side of the protocol: it runs the requested
// actions in order and answers with a response envelope.
type Handler struct {
	mu      sync.RWMutex
	actions map[string]Action
	logger  *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{actions: make(map[string]Action), logger: logger}
}

// Register binds an action name. Registering a name twice replaces the action.
func (h *Handler) Register(name string, a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions[name] = a
}

func (h *Handler) action(name string) (Action, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.actions[name]
	return a, ok
}

// ServeHTTP expects auth.Middleware to have verified the request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := auth.RequestFromContext(r.Context())
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	log := h.logger.With(zap.String("request_id", req.RequestID()))
	resp := envelope.NewResponse(req.RequestID())
	for _, name := range req.Actions() {
		a, known := h.action(name)
		if !known {
			_ = resp.AddActionResult(name, map[string]string{"error": "unknown action"})
			log.Warn("unknown action requested", zap.String("action", name))
			continue
		}

		result, err := a.Run(r.Context(), req)
		if err != nil {
			log.Warn("action failed", zap.String("action", name), zap.Error(err))
			result = map[string]string{"error": err.Error()}
		}
		if err := resp.AddActionResult(name, result); err != nil {
			log.Error("action result not encodable", zap.String("action", name), zap.Error(err))
			_ = resp.AddActionResult(name, map[string]string{"error": "result not encodable"})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}

// Routes mounts the handler behind the authentication middleware.
func Routes(v *auth.Verifier, h *Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Middleware(v, logger))
	r.Handle("/", h)
	return r
}

// PingAction answers with the item and page the request was issued for. It
// lets operators check dispatch wiring end to end.
func PingAction() Action {
	return ActionFunc(func(_ context.Context, req *envelope.Request) (any, error) {
		item, _ := req.Parameter(envelope.KeyItem)
		page, _ := req.Parameter(envelope.KeyPage)
		return map[string]any{"pong": true, "item": item, "page": page}, nil
	})
}
