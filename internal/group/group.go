package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/transport"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

// ClientName/ClientVersion identify the proxy itself to every
// downstream during initialize.
const (
	ClientName    = "dynamic-mcp-gateway"
	ClientVersion = "0.1.0"
)

// Group is one configured downstream server: its connection, its
// cached tool/prompt/resource listings, and the counter for the ids of
// requests this group sends outbound. Matching replies to those ids is
// done by the transport. A Group's own id space is private; the
// front-end's ids are never forwarded downstream.
type Group struct {
	Name string
	spec *config.ServerSpec

	logger    *zap.Logger
	transport transport.Transport

	mu    sync.RWMutex
	state State
	err   error

	serverInfo wire.ServerInfo
	tools      []wire.Tool
	prompts    []wire.Prompt
	resources  []wire.Resource
	templates  []wire.ResourceTemplate

	nextID atomic.Int64
}

// New constructs a Group in StateConnecting over tr, a transport the
// caller has already built for spec. It does not block on the
// handshake; call Connect for that.
func New(name string, spec *config.ServerSpec, tr transport.Transport, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		Name:      name,
		spec:      spec,
		transport: tr,
		logger:    logger.With(zap.String("group", name)),
		state:     StateConnecting,
	}
}

// State returns the group's current lifecycle state.
func (g *Group) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// LastError returns the error that moved this group to StateFailed,
// if any.
func (g *Group) LastError() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

func (g *Group) setState(newState State) {
	g.mu.Lock()
	old := g.state
	if err := validateTransition(old, newState); err != nil {
		g.logger.Warn("unexpected group state transition", zap.String("from", old.String()), zap.String("to", newState.String()))
	}
	g.state = newState
	g.mu.Unlock()
	g.logger.Info("group state changed", zap.String("from", old.String()), zap.String("to", newState.String()))
}

func (g *Group) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
	g.setState(StateFailed)
}

// Connect performs the initialize handshake and populates the feature
// caches. A feature's own listing failure (e.g. tools/list erroring)
// downgrades just that feature to empty rather than failing the whole
// group; only a failed handshake itself fails the group.
func (g *Group) Connect(ctx context.Context) error {
	initParams := wire.InitializeParams{
		ProtocolVersion: wire.ProtocolVersion,
		Capabilities:    wire.DefaultClientCapabilities(),
		ClientInfo:      wire.ClientInfo{Name: ClientName, Version: ClientVersion},
	}
	resp, err := g.call(ctx, "initialize", initParams)
	if err != nil {
		g.fail(fmt.Errorf("initialize: %w", err))
		return g.err
	}
	if resp.Error != nil {
		g.fail(fmt.Errorf("initialize: %w", resp.Error))
		return g.err
	}

	var result wire.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		g.fail(fmt.Errorf("initialize: decode result: %w", err))
		return g.err
	}
	g.mu.Lock()
	g.serverInfo = result.ServerInfo
	g.mu.Unlock()

	if err := g.notify(ctx, "notifications/initialized", nil); err != nil {
		g.logger.Warn("failed to send initialized notification", zap.Error(err))
	}

	if g.spec.Features.Tools {
		g.loadTools(ctx)
	}
	if g.spec.Features.Prompts {
		g.loadPrompts(ctx)
	}
	if g.spec.Features.Resources {
		g.loadResources(ctx)
	}

	g.setState(StateReady)
	return nil
}

func (g *Group) loadTools(ctx context.Context) {
	resp, err := g.call(ctx, "tools/list", nil)
	if err != nil || resp.Error != nil {
		g.logger.Warn("tools/list failed, disabling tools for this group", zap.Error(firstErr(err, resp.Error)))
		return
	}
	var out struct {
		Tools []wire.Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		g.logger.Warn("tools/list: decode result failed", zap.Error(err))
		return
	}
	g.mu.Lock()
	g.tools = out.Tools
	g.mu.Unlock()
}

func (g *Group) loadPrompts(ctx context.Context) {
	resp, err := g.call(ctx, "prompts/list", nil)
	if err != nil || resp.Error != nil {
		g.logger.Warn("prompts/list failed, disabling prompts for this group", zap.Error(firstErr(err, resp.Error)))
		return
	}
	var out struct {
		Prompts []wire.Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		g.logger.Warn("prompts/list: decode result failed", zap.Error(err))
		return
	}
	g.mu.Lock()
	g.prompts = out.Prompts
	g.mu.Unlock()
}

func (g *Group) loadResources(ctx context.Context) {
	resp, err := g.call(ctx, "resources/list", nil)
	if err == nil && resp.Error == nil {
		var out struct {
			Resources []wire.Resource `json:"resources"`
		}
		if err := json.Unmarshal(resp.Result, &out); err == nil {
			g.mu.Lock()
			g.resources = out.Resources
			g.mu.Unlock()
		}
	} else {
		g.logger.Warn("resources/list failed, disabling resources for this group", zap.Error(firstErr(err, resp.Error)))
	}

	resp, err = g.call(ctx, "resources/templates/list", nil)
	if err != nil || resp.Error != nil {
		return
	}
	var out struct {
		ResourceTemplates []wire.ResourceTemplate `json:"resourceTemplates"`
	}
	if err := json.Unmarshal(resp.Result, &out); err == nil {
		g.mu.Lock()
		g.templates = out.ResourceTemplates
		g.mu.Unlock()
	}
}

func firstErr(err error, rpcErr *wire.Error) error {
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return rpcErr
	}
	return nil
}

// Tools returns this group's cached tool listing. Empty if the tools
// feature is disabled or tools/list failed on connect.
func (g *Group) Tools() []wire.Tool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]wire.Tool(nil), g.tools...)
}

// Prompts returns this group's cached prompt listing.
func (g *Group) Prompts() []wire.Prompt {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]wire.Prompt(nil), g.prompts...)
}

// Resources returns this group's cached resource listing.
func (g *Group) Resources() []wire.Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]wire.Resource(nil), g.resources...)
}

// ResourceTemplates returns this group's cached resource template listing.
func (g *Group) ResourceTemplates() []wire.ResourceTemplate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]wire.ResourceTemplate(nil), g.templates...)
}

// ServerInfo returns the name/version the downstream reported during
// initialize.
func (g *Group) ServerInfo() wire.ServerInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.serverInfo
}

// Description returns the description configured for this group,
// surfaced in get-modular-tools listings.
func (g *Group) Description() string { return g.spec.Description }

// Features returns the feature flags configured for this group,
// gating which method families the front-end forwards to it.
func (g *Group) Features() config.Features { return g.spec.Features }

// Call forwards method/params to the downstream with this group's own
// outbound id, honoring the group's configured per-call timeout.
// Params carried in the original front-end request are forwarded
// unmodified; only the id is rewritten.
func (g *Group) Call(ctx context.Context, method string, params json.RawMessage) (wire.Response, error) {
	if g.State() != StateReady {
		return wire.Response{}, fmt.Errorf("group %q is not ready (state=%s)", g.Name, g.State())
	}

	timeout := g.spec.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.callRaw(callCtx, method, params)
	if err != nil {
		if callCtx.Err() != nil {
			return wire.Response{}, &TimeoutError{Group: g.Name, Method: method}
		}
		return wire.Response{}, err
	}
	return resp, nil
}

// call marshals params itself; used for the proxy's own handshake
// traffic where params is a typed value, not raw passthrough JSON.
func (g *Group) call(ctx context.Context, method string, params any) (wire.Response, error) {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return wire.Response{}, err
		}
	}
	return g.callRaw(ctx, method, raw)
}

// callRaw allocates this group's next outbound id, sends, and blocks
// for the transport to resolve it. Stdio/HTTP/SSE transports already
// do id correlation internally (see internal/transport); Group layers
// its own id on top because the id it hands the transport is never
// the front-end's original id.
func (g *Group) callRaw(ctx context.Context, method string, params json.RawMessage) (wire.Response, error) {
	id := wire.NewIntID(g.nextID.Add(1))
	req := wire.Request{JSONRPC: wire.Version, ID: id, Method: method, Params: params}

	resp, err := g.transport.Send(ctx, req)
	if err != nil {
		return wire.Response{}, err
	}
	return resp, nil
}

// notify sends method as a true JSON-RPC notification: a null id, so
// transport.Send writes it and returns immediately rather than
// registering a pending reply slot. A spec-compliant downstream never
// replies to a notification, so routing this through call/callRaw
// (which always allocates an integer id) would block waiting for a
// reply that never comes.
func (g *Group) notify(ctx context.Context, method string, params any) error {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}
	req := wire.Request{JSONRPC: wire.Version, ID: wire.NullID(), Method: method, Params: raw}
	_, err := g.transport.Send(ctx, req)
	return err
}

// TimeoutError reports that a downstream call exceeded its group's
// configured timeout.
type TimeoutError struct {
	Group  string
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("group %q: downstream timeout calling %q", e.Group, e.Method)
}

// JSONRPCCode maps TimeoutError onto the wire error code the
// front-end reports to the host.
func (e *TimeoutError) JSONRPCCode() int { return wire.CodeInternalError }

// Close transitions the group through Closing to Closed and tears
// down its transport. Safe to call more than once.
func (g *Group) Close() error {
	g.mu.Lock()
	if g.state == StateClosed || g.state == StateClosing {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.setState(StateClosing)
	err := g.transport.Close()
	g.setState(StateClosed)
	return err
}
