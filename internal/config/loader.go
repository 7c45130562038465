package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// document is the top-level config file shape: {"mcpServers": {...}}.
// Strict: any other top-level key is rejected.
type document struct {
	McpServers map[string]json.RawMessage `json:"mcpServers"`
}

// typeProbe reads just the discriminator before committing to a
// variant-specific strict decode.
type typeProbe struct {
	Type ServerType `json:"type"`
}

type stdioFields struct {
	Type        ServerType        `json:"type"`
	Description string            `json:"description"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Features    *Features         `json:"features,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     *string           `json:"timeout,omitempty"`
}

type httpSseFields struct {
	Type          ServerType        `json:"type"`
	Description   string            `json:"description"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	OAuthClientID string            `json:"oauth_client_id,omitempty"`
	OAuthScopes   []string          `json:"oauth_scopes,omitempty"`
	Features      *Features         `json:"features,omitempty"`
	Enabled       *bool             `json:"enabled,omitempty"`
	Timeout       *string           `json:"timeout,omitempty"`
}

// Load reads path, decodes it as a strict JSON document, substitutes
// environment variables, and validates the result. Unknown fields at
// any level cause the load to fail, per spec §4.2/§8.
func Load(logger *zap.Logger, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return Parse(logger, data)
}

// Parse is Load's in-memory counterpart, used directly by tests. The
// reload controller goes through Load, which reads the file and then
// calls Parse.
func Parse(logger *zap.Logger, data []byte) (*Config, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := &Config{Servers: make(map[string]*ServerSpec, len(doc.McpServers))}
	for name, raw := range doc.McpServers {
		spec, err := decodeServerSpec(name, raw)
		if err != nil {
			return nil, err
		}
		substituteSpec(logger, spec)
		cfg.Servers[name] = spec
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeServerSpec(name string, raw json.RawMessage) (*ServerSpec, error) {
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("server %q: invalid spec: %w", name, err)
	}

	switch probe.Type {
	case ServerTypeStdio:
		f := stdioFields{Features: featuresDefaultPtr()}
		if err := strictDecode(raw, &f); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		if f.Description == "" {
			return nil, &ValidationError{Group: name, Field: "description", Msg: "must not be empty"}
		}
		return &ServerSpec{
			Type:        ServerTypeStdio,
			Description: f.Description,
			Command:     f.Command,
			Args:        f.Args,
			Env:         f.Env,
			Features:    resolveFeatures(f.Features),
			Enabled:     resolveEnabled(f.Enabled),
			Timeout:     resolveTimeout(f.Timeout),
		}, nil

	case ServerTypeHTTP, ServerTypeSSE:
		f := httpSseFields{Features: featuresDefaultPtr()}
		if err := strictDecode(raw, &f); err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		if f.Description == "" {
			return nil, &ValidationError{Group: name, Field: "description", Msg: "must not be empty"}
		}
		return &ServerSpec{
			Type:          probe.Type,
			Description:   f.Description,
			URL:           f.URL,
			Headers:       f.Headers,
			OAuthClientID: f.OAuthClientID,
			OAuthScopes:   f.OAuthScopes,
			Features:      resolveFeatures(f.Features),
			Enabled:       resolveEnabled(f.Enabled),
			Timeout:       resolveTimeout(f.Timeout),
		}, nil

	case "":
		return nil, &ValidationError{Group: name, Field: "type", Msg: "missing; must be one of stdio, http, sse"}
	default:
		return nil, &ValidationError{Group: name, Field: "type", Msg: fmt.Sprintf("unknown server type %q", probe.Type)}
	}
}

func strictDecode(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func featuresDefaultPtr() *Features {
	f := DefaultFeatures()
	return &f
}

func resolveFeatures(f *Features) Features {
	if f == nil {
		return DefaultFeatures()
	}
	return *f
}

func resolveEnabled(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

func resolveTimeout(s *string) time.Duration {
	if s == nil || *s == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return DefaultTimeout
	}
	return d
}
