// Package transport carries JSON-RPC requests to a single downstream
// MCP server and returns its response, over whichever wire the
// server's spec names: stdio, HTTP, or SSE. A Group (internal/group)
// owns one Transport per downstream and never speaks the wire
// protocol directly.
package transport

import (
	"context"
	"fmt"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

// Transport sends one JSON-RPC request and waits for its matching
// response. Implementations must be safe for concurrent use: a Group
// may have several calls in flight against the same downstream at
// once.
type Transport interface {
	// Send delivers req and blocks until the downstream replies or ctx
	// is done. req.IsNotification() requests must still be delivered,
	// but Send returns a zero Response immediately after writing them.
	Send(ctx context.Context, req wire.Request) (wire.Response, error)

	// Close tears down the underlying connection or subprocess. Send
	// calls already in flight fail with a transport *Error; Close
	// itself never blocks on them.
	Close() error
}

// Error wraps a transport-level failure (process exit, connection
// drop, non-2xx HTTP status) that isn't itself a JSON-RPC error
// object from the downstream.
type Error struct {
	Group string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Group, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs the Transport named by spec.Type.
func New(groupName string, spec *config.ServerSpec, tokenSource BearerTokenSource) (Transport, error) {
	switch spec.Type {
	case config.ServerTypeStdio:
		return NewStdio(groupName, spec)
	case config.ServerTypeHTTP:
		return NewHTTP(groupName, spec, tokenSource)
	case config.ServerTypeSSE:
		return NewSSE(groupName, spec, tokenSource)
	default:
		return nil, fmt.Errorf("transport: unknown server type %q", spec.Type)
	}
}

// BearerTokenSource supplies the current access token for an
// OAuth-protected HTTP/SSE downstream. Implemented by
// internal/oauth.Manager; nil for downstreams with no
// oauth_client_id configured.
type BearerTokenSource interface {
	Token(ctx context.Context, groupName string) (string, error)
}
