package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/envelope"
)

// ErrNotAuthenticated is the single opaque error returned for every rejected
// request; it never reveals which part of the check failed.
var ErrNotAuthenticated = errors.New("request not authenticated")

// Verifier decides whether an incoming dispatch request was issued by this
// installation's index queue.
type Verifier struct {
	secret string
	guard  ReplayGuard
	logger *zap.Logger
}

// NewVerifier returns a verifier for secret. guard is optional (nil = no
// replay protection).
func NewVerifier(secret string, guard ReplayGuard, logger *zap.Logger) *Verifier {
	return &Verifier{secret: secret, guard: guard, logger: logger}
}

// Verify checks the request hash and, when a replay guard is configured,
// rejects a request id that was already accepted.
func (v *Verifier) Verify(ctx context.Context, req *envelope.Request) error {
	if v.secret == "" || req == nil || !req.IsAuthenticated(v.secret) {
		return ErrNotAuthenticated
	}
	if v.guard == nil {
		return nil
	}

	first, err := v.guard.Remember(ctx, req.RequestID())
	if err != nil {
		v.logger.Error("replay guard unavailable, rejecting request",
			zap.String("request_id", req.RequestID()), zap.Error(err))
		return ErrNotAuthenticated
	}
	if !first {
		v.logger.Warn("replayed request id rejected", zap.String("request_id", req.RequestID()))
		return ErrNotAuthenticated
	}
	return nil
}

// VerifyHeader parses the raw envelope header value and verifies it.
func (v *Verifier) VerifyHeader(ctx context.Context, value string) (*envelope.Request, error) {
	if value == "" {
		return nil, ErrNotAuthenticated
	}
	req, err := envelope.ParseRequest([]byte(value))
	if err != nil {
		return nil, ErrNotAuthenticated
	}
	if err := v.Verify(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}
