// Package config models the proxy's configuration: a named set of
// downstream server specs, each a tagged union over stdio/http/sse
// transports, plus the per-server feature flags that gate which MCP
// method families are forwarded to that downstream.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// DefaultTimeout bounds every outbound call to a downstream when a
// spec does not set its own (spec §4.4).
const DefaultTimeout = 30 * time.Second

// ServerType discriminates the ServerSpec tagged union.
type ServerType string

const (
	ServerTypeStdio ServerType = "stdio"
	ServerTypeHTTP  ServerType = "http"
	ServerTypeSSE   ServerType = "sse"
)

var groupNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Features controls which MCP method families the proxy forwards to a
// given group. A disabled family returns an empty list, never an
// error (spec §3).
type Features struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// DefaultFeatures returns all three families enabled, the implied
// default when a spec omits "features" entirely.
func DefaultFeatures() Features {
	return Features{Tools: true, Resources: true, Prompts: true}
}

// ServerSpec is one downstream server's configuration, after env-var
// substitution. Type selects which of the transport-specific fields
// are meaningful; the loader never leaves fields populated that don't
// belong to Type.
type ServerSpec struct {
	Type        ServerType
	Description string
	Enabled     bool
	Features    Features
	Timeout     time.Duration

	// Stdio-only.
	Command string
	Args    []string
	Env     map[string]string

	// Http/Sse-only.
	URL           string
	Headers       map[string]string
	OAuthClientID string
	OAuthScopes   []string
}

// Config is the fully loaded, validated, env-substituted proxy
// configuration: group name -> spec. Group names are unique by
// construction (they're map keys).
type Config struct {
	Servers map[string]*ServerSpec
}

// ValidationError names the offending field so CLI/log output can
// point a user at the exact fix, matching the teacher's
// config.ValidationError convention.
type ValidationError struct {
	Group string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("server %q: %s: %s", e.Group, e.Field, e.Msg)
}

// Validate checks the structural invariants spec §3 requires beyond
// what strict JSON decoding already enforces: unique/well-formed group
// names, non-empty descriptions, non-empty stdio commands, and
// absolute http(s) URLs.
func (c *Config) Validate() error {
	for name, spec := range c.Servers {
		if !groupNamePattern.MatchString(name) {
			return &ValidationError{Group: name, Field: "name", Msg: "must match [A-Za-z0-9_.-]+"}
		}
		if spec.Description == "" {
			return &ValidationError{Group: name, Field: "description", Msg: "must not be empty"}
		}
		switch spec.Type {
		case ServerTypeStdio:
			if spec.Command == "" {
				return &ValidationError{Group: name, Field: "command", Msg: "must not be empty"}
			}
		case ServerTypeHTTP, ServerTypeSSE:
			parsed, err := url.Parse(spec.URL)
			if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				return &ValidationError{Group: name, Field: "url", Msg: "must be an absolute http(s) URL"}
			}
		default:
			return &ValidationError{Group: name, Field: "type", Msg: fmt.Sprintf("unknown server type %q", spec.Type)}
		}
	}
	return nil
}
