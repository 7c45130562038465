// Package frontend speaks line-delimited JSON-RPC 2.0 to the host over
// stdin/stdout, presenting the whole registry of downstream groups as
// a single MCP server that advertises exactly two tools.
package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dynamic-mcp/gateway/internal/buildinfo"
	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/group"
	"github.com/dynamic-mcp/gateway/internal/registry"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

const (
	toolGetModularTools = "get-modular-tools"
	toolCallModularTool = "call-modular-tool"
)

// ServerInfo identifies the proxy itself to the host during initialize.
var ServerInfo = wire.ServerInfo{Name: "dynamic-mcp-gateway", Version: buildinfo.Version}

// Server reads requests from r one line at a time and writes responses
// to w, one JSON object per line. Each parsed request is dispatched on
// its own goroutine so a slow downstream never blocks the read loop or
// other in-flight requests; only writes to w are serialized.
type Server struct {
	registry *registry.Registry
	logger   *zap.Logger

	writeMu sync.Mutex
	out     *bufio.Writer

	wg sync.WaitGroup
}

// New builds a Server over reg. Call Run to start serving.
func New(reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{registry: reg, logger: logger}
}

// Run reads newline-delimited JSON-RPC requests from r until EOF,
// dispatching each on its own goroutine and writing responses to w as
// they complete. It returns nil on a clean EOF. ctx is handed to every
// dispatched request, so cancelling it aborts downstream calls in
// flight; it does not interrupt a read blocked on r.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = bufio.NewWriter(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.wg.Add(1)
		go func(line string) {
			defer s.wg.Done()
			s.handleLine(ctx, line)
		}(line)
	}

	s.wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("frontend: read stdin: %w", err)
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line string) {
	var req wire.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.writeResponse(wire.NewErrorResponse(wire.NullID(), wire.CodeParseError, "parse error", err.Error()))
		return
	}
	if req.IsNotification() {
		// The host has nothing to forward downstream for here; notifications
		// are acknowledged by absence of a reply, per JSON-RPC.
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(resp)
}

func (s *Server) writeResponse(resp wire.Response) {
	resp.JSONRPC = wire.Version
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.WriteByte('\n')
	s.out.Flush()
}

func (s *Server) dispatch(ctx context.Context, req wire.Request) wire.Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "prompts/list":
		return s.forwardWithFeatureGate(ctx, req, func(f config.Features) bool { return f.Prompts }, emptyPromptsResult)
	case "prompts/get":
		return s.forwardRequiringGroup(ctx, req)
	case "resources/list":
		return s.forwardWithFeatureGate(ctx, req, func(f config.Features) bool { return f.Resources }, emptyResourcesResult)
	case "resources/read":
		return s.forwardRequiringGroup(ctx, req)
	case "resources/templates/list":
		return s.forwardRequiringGroup(ctx, req)
	default:
		return wire.NewErrorResponse(req.ID, wire.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req wire.Request) wire.Response {
	return wire.NewResultResponse(req.ID, wire.InitializeResult{
		ProtocolVersion: wire.ProtocolVersion,
		Capabilities:    wire.FrontendCapabilities(),
		ServerInfo:      ServerInfo,
	})
}

func (s *Server) handleToolsList(req wire.Request) wire.Response {
	names := make([]string, 0)
	for _, g := range s.registry.Ready() {
		names = append(names, g.Name)
	}
	sort.Strings(names)

	description := s.statusDescription()
	groupSchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{
				"type": "string",
				"enum": names,
			},
		},
		"required": []string{"group"},
	})
	callSchema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group": map[string]any{"type": "string", "enum": names},
			"name":  map[string]any{"type": "string"},
			"args":  map[string]any{"type": "object"},
		},
		"required": []string{"group", "name"},
	})

	return wire.NewResultResponse(req.ID, map[string]any{
		"tools": []wire.Tool{
			{Name: toolGetModularTools, Description: description, InputSchema: groupSchema},
			{Name: toolCallModularTool, Description: "Call a tool on a connected downstream group.", InputSchema: callSchema},
		},
	})
}

// statusDescription embeds the current connected/failed group listing
// so the host can see proxy state without a dedicated status call.
func (s *Server) statusDescription() string {
	var b strings.Builder
	b.WriteString("Lists the tools available on a connected downstream group.")

	ready := s.registry.Ready()
	if len(ready) > 0 {
		b.WriteString(" Connected groups:")
		for _, g := range ready {
			fmt.Fprintf(&b, " %s(%s)", g.Name, g.Description())
		}
	}

	failed := s.registry.Failed()
	if len(failed) > 0 {
		b.WriteString(" Failed groups:")
		for _, g := range failed {
			fmt.Fprintf(&b, " %s(%v)", g.Name, g.LastError())
		}
	}
	return b.String()
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req wire.Request) wire.Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, "missing required parameter: name", nil)
	}

	switch params.Name {
	case toolGetModularTools:
		return s.callGetModularTools(req, params.Arguments)
	case toolCallModularTool:
		return s.callCallModularTool(ctx, req, params.Arguments)
	default:
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}
}

func (s *Server) callGetModularTools(req wire.Request, args json.RawMessage) wire.Response {
	var in struct {
		Group string `json:"group"`
	}
	if err := json.Unmarshal(args, &in); err != nil || in.Group == "" {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, "missing required parameter: group", nil)
	}

	g := s.registry.Get(in.Group)
	if g == nil || g.State() != group.StateReady {
		return wire.NewResultResponse(req.ID, wire.CallToolResult{
			Content: []wire.Content{wire.ErrorTextContent(fmt.Sprintf("Group %q unavailable: %s", in.Group, unavailableReason(g)))},
		})
	}

	var b strings.Builder
	for _, t := range g.Tools() {
		fmt.Fprintf(&b, "%s: %s\nschema: %s\n\n", t.Name, t.Description, schemaOrEmpty(t.InputSchema))
	}
	if b.Len() == 0 {
		b.WriteString("(no tools)")
	}
	return wire.NewResultResponse(req.ID, wire.CallToolResult{Content: []wire.Content{wire.TextContent(b.String())}})
}

func unavailableReason(g *group.Group) string {
	if g == nil {
		return "not configured"
	}
	if err := g.LastError(); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("state=%s", g.State())
}

func schemaOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

type callModularToolArgs struct {
	Group string          `json:"group"`
	Name  string          `json:"name"`
	Args  json.RawMessage `json:"args"`
}

func (s *Server) callCallModularTool(ctx context.Context, req wire.Request, args json.RawMessage) wire.Response {
	var in callModularToolArgs
	if err := json.Unmarshal(args, &in); err != nil || in.Group == "" || in.Name == "" {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, "missing required parameter: group or name", nil)
	}

	downstreamParams, err := json.Marshal(map[string]any{
		"name":      in.Name,
		"arguments": rawOrEmptyObject(in.Args),
	})
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "failed to build downstream request", err.Error())
	}

	resp, err := s.registry.Call(ctx, in.Group, "tools/call", downstreamParams)
	if err != nil {
		return wire.NewResultResponse(req.ID, wire.CallToolResult{
			Content: []wire.Content{wire.ErrorTextContent(err.Error())},
		})
	}
	if resp.Error != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, resp.Error.Message, resp.Error.Data)
	}
	return wire.Response{JSONRPC: wire.Version, ID: req.ID, Result: resp.Result}
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// forwardRequiringGroup forwards req verbatim to params.group, used for
// methods with no feature gate (prompts/get, resources/read,
// resources/templates/list).
func (s *Server) forwardRequiringGroup(ctx context.Context, req wire.Request) wire.Response {
	groupName, err := groupFromParams(req.Params)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, err.Error(), nil)
	}
	resp, err := s.registry.Call(ctx, groupName, req.Method, stripGroup(req.Params))
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, err.Error(), nil)
	}
	if resp.Error != nil {
		return wire.NewErrorResponse(req.ID, resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	return wire.Response{JSONRPC: wire.Version, ID: req.ID, Result: resp.Result}
}

// forwardWithFeatureGate forwards prompts/list and resources/list,
// which return an empty result instead of an error when the target
// group has the corresponding feature disabled.
func (s *Server) forwardWithFeatureGate(ctx context.Context, req wire.Request, enabled func(config.Features) bool, empty func() any) wire.Response {
	groupName, err := groupFromParams(req.Params)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, err.Error(), nil)
	}
	g := s.registry.Get(groupName)
	if g == nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, fmt.Sprintf("unknown group %q", groupName), nil)
	}
	if !enabled(g.Features()) {
		return wire.NewResultResponse(req.ID, empty())
	}
	if g.State() != group.StateReady {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, fmt.Sprintf("group %q is not ready", groupName), nil)
	}

	resp, err := s.registry.Call(ctx, groupName, req.Method, stripGroup(req.Params))
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, err.Error(), nil)
	}
	if resp.Error != nil {
		return wire.NewErrorResponse(req.ID, resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	return wire.Response{JSONRPC: wire.Version, ID: req.ID, Result: resp.Result}
}

func emptyPromptsResult() any   { return map[string]any{"prompts": []wire.Prompt{}} }
func emptyResourcesResult() any { return map[string]any{"resources": []wire.Resource{}} }

func groupFromParams(raw json.RawMessage) (string, error) {
	var in struct {
		Group string `json:"group"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Group == "" {
		return "", fmt.Errorf("missing required parameter: group")
	}
	return in.Group, nil
}

// stripGroup removes the proxy-only "group" key from raw before
// forwarding downstream, so a downstream sees only the parameters
// spec §4.7 says it should (e.g. {uri} or {name, arguments?}), not the
// routing key the front-end itself consumed.
func stripGroup(raw json.RawMessage) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	delete(m, "group")
	out, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return out
}
