package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/oauth"
	"github.com/dynamic-mcp/gateway/internal/registry"
)

const configV1 = `{
	"mcpServers": {
		"alpha": {"type": "stdio", "description": "alpha server", "command": "true"}
	}
}`

const configV2 = `{
	"mcpServers": {
		"alpha": {"type": "stdio", "description": "alpha server, renamed", "command": "true"},
		"beta": {"type": "stdio", "description": "beta server", "command": "true"}
	}
}`

func writeConfig(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

func newTestController(t *testing.T, path string) *Controller {
	t.Helper()
	reg := registry.New(nil)
	store := oauth.NewStoreAt(t.TempDir())
	mgr := oauth.NewManager(store, nil)
	c, err := NewController(path, reg, mgr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestReconcileInitialLoadAddsGroups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, configV1)

	c := newTestController(t, path)
	require.NoError(t, c.Reconcile(context.Background()))

	assert.ElementsMatch(t, []string{"alpha"}, c.registry.Names())
}

func TestReconcileAddsRemovesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, configV1)

	c := newTestController(t, path)
	require.NoError(t, c.Reconcile(context.Background()))
	original := c.registry.Get("alpha")
	require.NotNil(t, original)

	writeConfig(t, path, configV2)
	require.NoError(t, c.Reconcile(context.Background()))

	assert.ElementsMatch(t, []string{"alpha", "beta"}, c.registry.Names())
	replaced := c.registry.Get("alpha")
	require.NotNil(t, replaced)
	assert.NotSame(t, original, replaced, "a changed spec should produce a new group, not a patched one")
}

func TestDiffClassifiesChanges(t *testing.T) {
	oldSpecs := map[string]*config.ServerSpec{
		"a": {Type: config.ServerTypeStdio, Command: "x"},
		"b": {Type: config.ServerTypeStdio, Command: "y"},
	}
	newSpecs := map[string]*config.ServerSpec{
		"a": {Type: config.ServerTypeStdio, Command: "x"},
		"c": {Type: config.ServerTypeStdio, Command: "z"},
	}
	toRemove, toAdd, toReplace := diff(oldSpecs, newSpecs)
	assert.Equal(t, []string{"b"}, toRemove)
	assert.Equal(t, []string{"c"}, toAdd)
	assert.Empty(t, toReplace)
}

func TestDiffDetectsFieldChange(t *testing.T) {
	oldSpecs := map[string]*config.ServerSpec{
		"a": {Type: config.ServerTypeStdio, Command: "x"},
	}
	newSpecs := map[string]*config.ServerSpec{
		"a": {Type: config.ServerTypeStdio, Command: "x-changed"},
	}
	toRemove, toAdd, toReplace := diff(oldSpecs, newSpecs)
	assert.Empty(t, toRemove)
	assert.Empty(t, toAdd)
	assert.Equal(t, []string{"a"}, toReplace)
}

func TestRunReconcilesOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, configV1)

	c := newTestController(t, path)
	require.NoError(t, c.Reconcile(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	writeConfig(t, path, configV2)

	require.Eventually(t, func() bool {
		return len(c.registry.Names()) == 2
	}, 3*time.Second, 20*time.Millisecond)
}
