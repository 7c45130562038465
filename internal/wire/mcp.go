package wire

import "encoding/json"

// Content is one block of a tool/prompt result: text, image, audio, or
// an embedded resource. Exactly one of the typed fields is populated,
// selected by Type.
type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	Data     string    `json:"data,omitempty"`     // base64, image/audio
	MimeType string    `json:"mimeType,omitempty"` // image/audio
	Resource *Resource `json:"resource,omitempty"`
	IsError  bool      `json:"isError,omitempty"`
}

// TextContent builds a plain text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ErrorTextContent builds a text content block flagged as a tool-level
// error (not a JSON-RPC error — see spec §4.1).
func ErrorTextContent(text string) Content {
	return Content{Type: "text", Text: text, IsError: true}
}

// Resource is embedded resource content returned inline in a content
// block, or a resource listing entry.
type Resource struct {
	URI         string           `json:"uri"`
	Name        string           `json:"name,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	MimeType    string           `json:"mimeType,omitempty"`
	Text        string           `json:"text,omitempty"`
	Blob        string           `json:"blob,omitempty"`
	Size        *int64           `json:"size,omitempty"`
	Annotations map[string]any   `json:"annotations,omitempty"`
	Icons       []map[string]any `json:"icons,omitempty"`
}

// ResourceTemplate describes a parametrized resource URI pattern.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt describes a downstream-advertised prompt.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument a Prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Tool describes one downstream-advertised tool, as cached by a Group
// and as surfaced verbatim by get-modular-tools.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallToolResult is the result shape of a tools/call response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// InitializeResult is the result shape of an initialize response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies the responding MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies the connecting MCP client (us, to downstreams).
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is what the proxy sends to a downstream on connect.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// DefaultClientCapabilities is the capability object the proxy
// advertises to every downstream during initialize (spec §4.4).
func DefaultClientCapabilities() map[string]any {
	return map[string]any{
		"tools":     map[string]any{},
		"prompts":   map[string]any{},
		"resources": map[string]any{},
	}
}

// FrontendCapabilities is the capability object the proxy advertises
// to its host during initialize (spec §4.7).
func FrontendCapabilities() map[string]any {
	return map[string]any{
		"tools": map[string]any{},
		"resources": map[string]any{
			"subscribe":   false,
			"listChanged": false,
		},
		"prompts": map[string]any{
			"listChanged": false,
		},
	}
}
