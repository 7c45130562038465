package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStdioServer(t *testing.T) {
	cfg, err := Parse(nil, []byte(`{
		"mcpServers": {
			"everything": {
				"type": "stdio",
				"description": "reference test server",
				"command": "npx",
				"args": ["@modelcontextprotocol/server-everything"]
			}
		}
	}`))
	require.NoError(t, err)
	require.Contains(t, cfg.Servers, "everything")

	spec := cfg.Servers["everything"]
	assert.Equal(t, ServerTypeStdio, spec.Type)
	assert.True(t, spec.Enabled)
	assert.Equal(t, DefaultFeatures(), spec.Features)
	assert.Equal(t, DefaultTimeout, spec.Timeout)
}

func TestParseHTTPServerWithPartialFeatures(t *testing.T) {
	cfg, err := Parse(nil, []byte(`{
		"mcpServers": {
			"remote": {
				"type": "http",
				"description": "remote server",
				"url": "https://example.com/mcp",
				"features": {"prompts": false}
			}
		}
	}`))
	require.NoError(t, err)
	spec := cfg.Servers["remote"]
	assert.True(t, spec.Features.Tools)
	assert.True(t, spec.Features.Resources)
	assert.False(t, spec.Features.Prompts)
}

func TestParseRejectsUnknownTopLevelField(t *testing.T) {
	_, err := Parse(nil, []byte(`{"mcpServers": {}, "extra": true}`))
	require.Error(t, err)
}

func TestParseRejectsUnknownServerField(t *testing.T) {
	_, err := Parse(nil, []byte(`{
		"mcpServers": {
			"bad": {"type": "stdio", "description": "x", "command": "y", "bogus": 1}
		}
	}`))
	require.Error(t, err)
}

func TestParseRejectsMissingDescription(t *testing.T) {
	_, err := Parse(nil, []byte(`{
		"mcpServers": {"bad": {"type": "stdio", "command": "y"}}
	}`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestParseRejectsInvalidGroupName(t *testing.T) {
	_, err := Parse(nil, []byte(`{
		"mcpServers": {"bad name!": {"type": "stdio", "description": "x", "command": "y"}}
	}`))
	require.Error(t, err)
}

func TestParseRejectsNonAbsoluteURL(t *testing.T) {
	_, err := Parse(nil, []byte(`{
		"mcpServers": {"bad": {"type": "http", "description": "x", "url": "not-a-url"}}
	}`))
	require.Error(t, err)
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse(nil, []byte(`{
		"mcpServers": {"bad": {"type": "websocket", "description": "x"}}
	}`))
	require.Error(t, err)
}

func TestEnvVarSubstitution(t *testing.T) {
	require.NoError(t, os.Setenv("DYNAMIC_MCP_TEST_TOKEN", "secret123"))
	defer os.Unsetenv("DYNAMIC_MCP_TEST_TOKEN")

	cfg, err := Parse(nil, []byte(`{
		"mcpServers": {
			"remote": {
				"type": "http",
				"description": "x",
				"url": "https://example.com/mcp",
				"headers": {"Authorization": "Bearer ${DYNAMIC_MCP_TEST_TOKEN}"}
			}
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret123", cfg.Servers["remote"].Headers["Authorization"])
}

func TestEnvVarSubstitutionUndefinedLeavesPlaceholder(t *testing.T) {
	os.Unsetenv("DYNAMIC_MCP_DEFINITELY_UNSET")
	out := Substitute(nil, "${DYNAMIC_MCP_DEFINITELY_UNSET}")
	assert.Equal(t, "${DYNAMIC_MCP_DEFINITELY_UNSET}", out)
}

func TestEnvVarSubstitutionIsIdempotent(t *testing.T) {
	require.NoError(t, os.Setenv("DYNAMIC_MCP_TEST_IDEMPOTENT", "value"))
	defer os.Unsetenv("DYNAMIC_MCP_TEST_IDEMPOTENT")

	once := Substitute(nil, "${DYNAMIC_MCP_TEST_IDEMPOTENT}")
	twice := Substitute(nil, once)
	assert.Equal(t, once, twice)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(nil, "/nonexistent/path/to/config.json")
	require.Error(t, err)
}
