package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// Header names used on the wire.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderClientVersion  = "X-Client-Version"
)

// HTTPClient executes replays against an HTTP service.
//
// POST {base}/actions with the idempotency key in a header; HEAD
// {base}/healthz for reachability.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for baseURL. Each call is bounded by
// timeout in addition to the caller's context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

var _ Executor = (*HTTPClient)(nil)

// Execute implements Executor.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (Result, error) {
	if req.IdempotencyKey == "" {
		return Result{}, &Failure{Code: CodeInvalidRequest, Message: "missing idempotency key"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	httpReq.Header.Set(HeaderClientVersion, ir.ClientVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &Failure{Code: CodeTransport, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &Failure{Code: CodeTransport, Message: fmt.Sprintf("read response: %v", err), Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, decodeFailure(resp.StatusCode, data)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, &Failure{Code: CodeTransport, Message: fmt.Sprintf("decode response: %v", err), Retryable: true}
	}
	return res, nil
}

// Probe reports whether the service answers its health endpoint.
func (c *HTTPClient) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe: status %d", resp.StatusCode)
	}
	return nil
}

func decodeFailure(status int, data []byte) *Failure {
	var f Failure
	if err := json.Unmarshal(data, &f); err == nil && f.Code != "" {
		return &f
	}
	return &Failure{
		Code:      fmt.Sprintf("http_%d", status),
		Message:   strings.TrimSpace(string(data)),
		Retryable: status >= 500 || status == http.StatusTooManyRequests,
	}
}
