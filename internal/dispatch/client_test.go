package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/searchsync/indexqueue/internal/dispatch"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/envelope"
)

const secret = "installation-secret"

func newRequest() *envelope.Request {
	r := envelope.NewRequest()
	r.AddAction("indexPage")
	r.SetIndexQueueItem(&domain.QueueItem{ID: 5, RecordPageID: 10})
	r.SetTimeout(2 * time.Second)
	return r
}

// echoServer answers with a response envelope carrying the incoming request id.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in, err := envelope.ParseRequest([]byte(r.Header.Get(envelope.HeaderName)))
		if err != nil || !in.IsAuthenticated(secret) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		resp := envelope.NewResponse(in.RequestID())
		for _, a := range in.Actions() {
			_ = resp.AddActionResult(a, map[string]string{"pageIndexed": "Success"})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(logger *zap.Logger) *dispatch.Client {
	return dispatch.NewClient(dispatch.NewHTTPFetcher(false), dispatch.Options{Secret: secret, UserAgent: "test"}, logger)
}

func TestClient_Send(t *testing.T) {
	srv := echoServer(t)
	req := newRequest()

	resp, err := newClient(zap.NewNop()).Send(context.Background(), req, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID(), resp.RequestID())

	result, ok := resp.ActionResult("indexPage")
	require.True(t, ok)
	assert.JSONEq(t, `{"pageIndexed":"Success"}`, string(result))
}

func TestClient_SendCorrelationMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"cached-response","actionResults":{"indexPage":"ok"}}`))
	}))
	defer srv.Close()

	req := newRequest()
	_, err := newClient(zap.NewNop()).Send(context.Background(), req, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrCorrelation)
	assert.False(t, errors.Is(err, dispatch.ErrTransport))

	var f *dispatch.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, req.RequestID(), f.RequestID)
	assert.Equal(t, dispatch.ReasonCorrelation, dispatch.ReasonOf(err))
}

func TestClient_SendMalformedJSONIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Debug", "render-failed")
		_, _ = w.Write([]byte(`<html>Fatal error</html>`))
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.ErrorLevel)
	req := newRequest()
	req.SetAuthorizationCredentials("editor", "s3cret")

	_, err := newClient(zap.New(core)).Send(context.Background(), req, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrDecode)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, req.RequestID(), ctx["request_id"])
	assert.Equal(t, srv.URL, ctx["url"])
	assert.Equal(t, "<html>Fatal error</html>", ctx["raw_response"])

	headers, ok := ctx["request_headers"].(http.Header)
	require.True(t, ok)
	assert.NotEmpty(t, headers.Get(envelope.HeaderName))
	assert.Equal(t, "[redacted]", headers.Get("Authorization"))

	respHeaders, ok := ctx["response_headers"].(http.Header)
	require.True(t, ok)
	assert.Equal(t, "render-failed", respHeaders.Get("X-Debug"))
}

func TestClient_SendTransportFailures(t *testing.T) {
	t.Run("non 2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newClient(zap.NewNop()).Send(context.Background(), newRequest(), srv.URL)
		assert.ErrorIs(t, err, dispatch.ErrTransport)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		req := newRequest()
		req.SetTimeout(50 * time.Millisecond)
		_, err := newClient(zap.NewNop()).Send(context.Background(), req, srv.URL)
		assert.ErrorIs(t, err, dispatch.ErrTransport)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := newClient(zap.NewNop()).Send(context.Background(), newRequest(), url)
		assert.ErrorIs(t, err, dispatch.ErrTransport)
	})
}

func TestClient_SendWithoutQueueItem(t *testing.T) {
	req := envelope.NewRequest()
	req.AddAction("indexPage")

	_, err := newClient(zap.NewNop()).Send(context.Background(), req, "http://127.0.0.1:1")
	assert.ErrorIs(t, err, envelope.ErrNoQueueItem)
	assert.Equal(t, dispatch.Reason(""), dispatch.ReasonOf(err))
}

func TestHTTPFetcher_SelfSignedTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := dispatch.NewHTTPFetcher(false).Fetch(context.Background(), srv.URL, http.Header{}, time.Second)
	assert.Error(t, err, "strict verification rejects the test certificate")

	res, err := dispatch.NewHTTPFetcher(true).Fetch(context.Background(), srv.URL, http.Header{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Body))
}
