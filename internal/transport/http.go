package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

// HTTP speaks one JSON-RPC request/response per POST, the "streamable
// HTTP" shape MCP servers that aren't stdio subprocesses expose.
type HTTP struct {
	group       string
	url         string
	headers     map[string]string
	client      *http.Client
	tokenSource BearerTokenSource
}

// NewHTTP builds an HTTP transport for spec. tokenSource may be nil
// when spec has no oauth_client_id.
func NewHTTP(groupName string, spec *config.ServerSpec, tokenSource BearerTokenSource) (*HTTP, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("http transport for %q: no URL specified", groupName)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	return &HTTP{
		group:   groupName,
		url:     spec.URL,
		headers: spec.Headers,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tokenSource: tokenSource,
	}, nil
}

// Send POSTs req as JSON and decodes the response body as a single
// JSON-RPC Response. A non-2xx status becomes a transport Error
// rather than a JSON-RPC error object, since the downstream never got
// far enough to produce one.
func (t *HTTP) Send(ctx context.Context, req wire.Request) (wire.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "marshal", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if t.tokenSource != nil {
		token, err := t.tokenSource.Token(ctx, t.group)
		if err != nil {
			return wire.Response{}, &Error{Group: t.group, Op: "oauth token", Err: err}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wire.Response{}, &Error{
			Group: t.group,
			Op:    "request",
			Err:   fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 512)),
		}
	}

	if req.IsNotification() {
		return wire.Response{}, nil
	}

	var out wire.Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "decode response", Err: err}
	}
	return out, nil
}

// Close is a no-op: HTTP transports hold no persistent connection
// beyond the pooled client's idle keep-alives.
func (t *HTTP) Close() error { return nil }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
