package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/envelope"
)

type contextKey string

const requestKey contextKey = "index_queue_request"

// Middleware rejects requests without a valid envelope header with 403 and
// stores the verified request on the context for the next handler.
func Middleware(v *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, err := v.VerifyHeader(r.Context(), r.Header.Get(envelope.HeaderName))
			if err != nil {
				logger.Warn("rejected index queue request",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), requestKey, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestFromContext returns the request verified by Middleware.
func RequestFromContext(ctx context.Context) (*envelope.Request, bool) {
	req, ok := ctx.Value(requestKey).(*envelope.Request)
	return req, ok
}
