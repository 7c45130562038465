package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

// SSE speaks MCP's two-leg SSE transport: a long-lived GET stream
// delivers an "endpoint" event naming where to POST requests, and
// subsequent "message" events on that same stream carry JSON-RPC
// responses, matched back to callers by id.
type SSE struct {
	group       string
	baseURL     string
	headers     map[string]string
	client      *http.Client
	tokenSource BearerTokenSource

	mu          sync.Mutex
	pending     map[string]chan wire.Response
	postURL     string
	endpointSet chan struct{}
	closed      bool
	closeCh     chan struct{}
	cancelGet   context.CancelFunc
}

// NewSSE opens the SSE stream and starts consuming it. It returns
// once the stream connection is established; the server's "endpoint"
// event (needed before the first Send) arrives asynchronously and
// Send waits for it.
func NewSSE(groupName string, spec *config.ServerSpec, tokenSource BearerTokenSource) (*SSE, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("sse transport for %q: no URL specified", groupName)
	}

	t := &SSE{
		group:       groupName,
		baseURL:     spec.URL,
		headers:     spec.Headers,
		tokenSource: tokenSource,
		pending:     make(map[string]chan wire.Response),
		endpointSet: make(chan struct{}),
		closeCh:     make(chan struct{}),
		client: &http.Client{
			// No per-request timeout: this client also serves the
			// long-lived GET stream.
			Transport: &http.Transport{IdleConnTimeout: 0},
		},
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancelGet = cancel

	resp, err := t.openStream(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	go t.consume(resp.Body)
	return t, nil
}

func (t *SSE) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return nil, &Error{Group: t.group, Op: "build stream request", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if t.tokenSource != nil {
		token, err := t.tokenSource.Token(ctx, t.group)
		if err != nil {
			return nil, &Error{Group: t.group, Op: "oauth token", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Group: t.group, Op: "open stream", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &Error{Group: t.group, Op: "open stream", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	return resp, nil
}

// consume reads Server-Sent Events off body: blocks of "event: NAME"
// and "data: PAYLOAD" lines separated by a blank line.
func (t *SSE) consume(body io.ReadCloser) {
	defer body.Close()
	defer t.markClosed(fmt.Errorf("sse stream closed"))

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			t.handleEvent(event, data.String())
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (t *SSE) handleEvent(event, data string) {
	switch event {
	case "endpoint":
		t.setPostURL(data)
	case "message", "":
		var resp wire.Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return
		}
		t.deliver(resp)
	}
}

func (t *SSE) setPostURL(endpoint string) {
	resolved := endpoint
	if base, err := url.Parse(t.baseURL); err == nil {
		if ref, err := url.Parse(endpoint); err == nil {
			resolved = base.ResolveReference(ref).String()
		}
	}
	t.mu.Lock()
	already := t.postURL != ""
	t.postURL = resolved
	t.mu.Unlock()
	if !already {
		close(t.endpointSet)
	}
}

func (t *SSE) deliver(resp wire.Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID.String()]
	if ok {
		delete(t.pending, resp.ID.String())
	}
	t.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (t *SSE) markClosed(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pending := t.pending
	t.pending = make(map[string]chan wire.Response)
	t.mu.Unlock()
	close(t.closeCh)
	for _, ch := range pending {
		close(ch)
	}
	_ = err
}

// Send waits for the endpoint event (if it hasn't arrived yet), then
// POSTs req to the discovered endpoint and waits for the matching
// reply to surface on the GET stream.
func (t *SSE) Send(ctx context.Context, req wire.Request) (wire.Response, error) {
	select {
	case <-t.endpointSet:
	case <-ctx.Done():
		return wire.Response{}, ctx.Err()
	case <-t.closeCh:
		return wire.Response{}, &Error{Group: t.group, Op: "send", Err: fmt.Errorf("transport closed")}
	case <-time.After(config.DefaultTimeout):
		return wire.Response{}, &Error{Group: t.group, Op: "send", Err: fmt.Errorf("timed out waiting for endpoint event")}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return wire.Response{}, &Error{Group: t.group, Op: "send", Err: fmt.Errorf("transport closed")}
	}
	postURL := t.postURL
	var replyCh chan wire.Response
	if !req.IsNotification() {
		replyCh = make(chan wire.Response, 1)
		t.pending[req.ID.String()] = replyCh
	}
	t.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "marshal", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if t.tokenSource != nil {
		token, err := t.tokenSource.Token(ctx, t.group)
		if err == nil {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return wire.Response{}, &Error{Group: t.group, Op: "post", Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wire.Response{}, &Error{Group: t.group, Op: "post", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if req.IsNotification() {
		return wire.Response{}, nil
	}

	select {
	case resp, ok := <-replyCh:
		if !ok {
			return wire.Response{}, &Error{Group: t.group, Op: "send", Err: fmt.Errorf("stream closed before reply")}
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, req.ID.String())
		t.mu.Unlock()
		return wire.Response{}, ctx.Err()
	case <-t.closeCh:
		return wire.Response{}, &Error{Group: t.group, Op: "send", Err: fmt.Errorf("transport closed")}
	}
}

// Close cancels the underlying GET stream.
func (t *SSE) Close() error {
	t.cancelGet()
	t.markClosed(fmt.Errorf("closed"))
	return nil
}
