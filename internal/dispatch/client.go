package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/envelope"
)

// maxLoggedBody bounds how much of a raw response ends up in a log line.
const maxLoggedBody = 4096

// Options carries installation-wide settings used to sign outgoing requests.
type Options struct {
	Secret    string
	UserAgent string
}

// Client performs the full round trip for a request envelope: build headers,
// fetch, decode and correlate.
type Client struct {
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger
}

func NewClient(fetcher Fetcher, opts Options, logger *zap.Logger) *Client {
	return &Client{fetcher: fetcher, opts: opts, logger: logger}
}

// Send dispatches req to url. Failures are returned as *Failure; a request
// without an associated queue item is a plain precondition error.
func (c *Client) Send(ctx context.Context, req *envelope.Request, url string) (*envelope.Response, error) {
	headers, err := req.BuildHeaders(envelope.HeaderOptions{Secret: c.opts.Secret, UserAgent: c.opts.UserAgent})
	if err != nil {
		return nil, fmt.Errorf("build headers: %w", err)
	}

	result, fetchErr := c.fetcher.Fetch(ctx, url, headers, req.Timeout())
	if fetchErr != nil {
		c.logFailure(req, url, headers, result, fetchErr)
		return nil, &Failure{Reason: ReasonTransport, RequestID: req.RequestID(), URL: url, Err: fetchErr}
	}

	resp, err := envelope.DecodeResponse(result.Body)
	if err != nil {
		c.logFailure(req, url, headers, result, err)
		return nil, &Failure{Reason: ReasonDecode, RequestID: req.RequestID(), URL: url, Err: err}
	}

	if resp.RequestID() != req.RequestID() {
		err := fmt.Errorf("sent %s, received %s; are responses cached?", req.RequestID(), resp.RequestID())
		c.logger.Error("request id mismatch",
			zap.String("request_id", req.RequestID()),
			zap.String("received_request_id", resp.RequestID()),
			zap.String("url", url),
		)
		return nil, &Failure{Reason: ReasonCorrelation, RequestID: req.RequestID(), URL: url, Err: err}
	}

	return resp, nil
}

func (c *Client) logFailure(req *envelope.Request, url string, headers http.Header, result *FetchResult, err error) {
	fields := []zap.Field{
		zap.String("request_id", req.RequestID()),
		zap.String("url", url),
		zap.Any("request_headers", redact(headers)),
		zap.Error(err),
	}
	if result != nil {
		body := result.Body
		if len(body) > maxLoggedBody {
			body = body[:maxLoggedBody]
		}
		fields = append(fields,
			zap.Int("status", result.StatusCode),
			zap.Any("response_headers", result.Header),
			zap.ByteString("raw_response", body),
		)
	}
	c.logger.Error("failed to execute dispatch request", fields...)
}

// redact hides basic auth credentials from logged headers.
func redact(h http.Header) http.Header {
	out := h.Clone()
	if out.Get("Authorization") != "" {
		out.Set("Authorization", "[redacted]")
	}
	return out
}
