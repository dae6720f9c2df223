package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/auth"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/envelope"
)

const secret = "installation-secret"

func headerFor(t *testing.T, itemID, pageID int64, key string) string {
	t.Helper()
	r := envelope.NewRequest()
	r.AddAction("indexPage")
	r.SetIndexQueueItem(&domain.QueueItem{ID: itemID, RecordPageID: pageID})
	payload, err := r.Payload(key)
	require.NoError(t, err)
	return string(payload)
}

type failingGuard struct{}

func (failingGuard) Remember(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestVerifier_VerifyHeader(t *testing.T) {
	ctx := context.Background()
	v := auth.NewVerifier(secret, nil, zap.NewNop())

	t.Run("valid request", func(t *testing.T) {
		req, err := v.VerifyHeader(ctx, headerFor(t, 5, 10, secret))
		require.NoError(t, err)
		assert.Equal(t, []string{"indexPage"}, req.Actions())
	})

	tests := []struct {
		name   string
		header string
	}{
		{"wrong secret", headerFor(t, 5, 10, "guessed")},
		{"empty header", ""},
		{"malformed header", `{"requestId":`},
		{"missing actions", `{"requestId":"a","item":5,"page":10,"hash":"` + envelope.Hash("5", "10", secret) + `"}`},
		{"missing hash", `{"requestId":"a","actions":"indexPage","item":5,"page":10}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.VerifyHeader(ctx, tc.header)
			assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
		})
	}
}

func TestVerifier_EmptySecretRejectsEverything(t *testing.T) {
	v := auth.NewVerifier("", nil, zap.NewNop())
	_, err := v.VerifyHeader(context.Background(), headerFor(t, 5, 10, ""))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestVerifier_ReplayGuard(t *testing.T) {
	ctx := context.Background()
	v := auth.NewVerifier(secret, auth.NewMemoryReplayGuard(time.Minute), zap.NewNop())
	header := headerFor(t, 5, 10, secret)

	_, err := v.VerifyHeader(ctx, header)
	require.NoError(t, err)

	_, err = v.VerifyHeader(ctx, header)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated, "same request id must not be accepted twice")

	_, err = v.VerifyHeader(ctx, headerFor(t, 5, 10, secret))
	assert.NoError(t, err, "a fresh request id for the same item is accepted")
}

func TestVerifier_ReplayGuardFailureIsFailClosed(t *testing.T) {
	v := auth.NewVerifier(secret, failingGuard{}, zap.NewNop())
	_, err := v.VerifyHeader(context.Background(), headerFor(t, 5, 10, secret))
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestMemoryReplayGuard_Expiry(t *testing.T) {
	ctx := context.Background()
	g := auth.NewMemoryReplayGuard(20 * time.Millisecond)

	first, err := g.Remember(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := g.Remember(ctx, "r1")
	assert.False(t, again)

	time.Sleep(50 * time.Millisecond)
	afterTTL, _ := g.Remember(ctx, "r1")
	assert.True(t, afterTTL)
}

func TestMiddleware(t *testing.T) {
	v := auth.NewVerifier(secret, nil, zap.NewNop())
	var seen *envelope.Request
	h := auth.Middleware(v, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.RequestFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/render", nil)
		req.Header.Set(envelope.HeaderName, headerFor(t, 5, 10, "wrong"))
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Nil(t, seen)
	})

	t.Run("passes verified request on", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/render", nil)
		req.Header.Set(envelope.HeaderName, headerFor(t, 5, 10, secret))
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, seen)
		assert.True(t, seen.IsAuthenticated(secret))
	})
}
