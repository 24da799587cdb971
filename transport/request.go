package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/st-keller/charsync/encode"
)

// maxErrorBody caps how much of a rejection body ends up in the error.
const maxErrorBody = 512

// Request issues one POST per payload. The API key travels inside the payload,
// so there is no connection state to repair.
type Request struct {
	endpoint string
	http     *http.Client

	mu     sync.Mutex
	closed bool
}

// NewRequest creates a Request channel posting to endpoint with client.
func NewRequest(endpoint string, client *http.Client) *Request {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Request{endpoint: endpoint, http: client}
}

// Endpoint returns the URL payloads are posted to.
func (r *Request) Endpoint() string {
	return r.endpoint
}

// Send posts the payload. 2xx is success; any other status is a rejection.
func (r *Request) Send(ctx context.Context, p *encode.Payload) Result {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return failed(FailureDisconnected, 0, ErrClosed, 0)
	}

	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(p.Bytes()))
	if err != nil {
		return failed(FailureNetwork, 0, fmt.Errorf("failed to build request: %w", err), 0)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	latency := time.Since(startTime)
	if err != nil {
		return failed(FailureNetwork, 0, fmt.Errorf("HTTP request failed: %w", err), latency)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return failed(FailureRejected, resp.StatusCode,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body)), latency)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return delivered(resp.StatusCode, latency)
}

// Close releases idle connections. Idempotent.
func (r *Request) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.http.CloseIdleConnections()
	return nil
}
