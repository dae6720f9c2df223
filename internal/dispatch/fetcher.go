package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// FetchResult is the raw outcome of a fetch. It is returned alongside an
// error when the server answered with a non-2xx status so the body can be logged.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs a single GET exchange with a hard timeout.
// Mocking this interface in tests gives full control over transport behaviour.
type Fetcher interface {
	Fetch(ctx context.Context, url string, header http.Header, timeout time.Duration) (*FetchResult, error)
}

// HTTPFetcher fetches over net/http. TLS verification can be relaxed for
// rendering endpoints reached through an internal or loopback address that
// serves a self-signed certificate.
type HTTPFetcher struct {
	httpClient *http.Client
}

func NewHTTPFetcher(insecureSkipVerify bool) *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // configurable, see DISPATCH_INSECURE_TLS
	}
	return &HTTPFetcher{httpClient: &http.Client{Transport: transport}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, header http.Header, timeout time.Duration) (*FetchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	if host := header.Get("Host"); host != "" {
		req.Host = host
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	result := &FetchResult{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if err != nil {
		return result, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return result, nil
}

// compile-time check that HTTPFetcher implements Fetcher
var _ Fetcher = (*HTTPFetcher)(nil)
