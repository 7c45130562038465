package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/group"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

type fakeTransport struct{}

func (fakeTransport) Send(_ context.Context, req wire.Request) (wire.Response, error) {
	return wire.NewResultResponse(req.ID, map[string]any{}), nil
}
func (fakeTransport) Close() error { return nil }

func testSpec() *config.ServerSpec {
	return &config.ServerSpec{
		Type:        config.ServerTypeStdio,
		Description: "x",
		Features:    config.DefaultFeatures(),
		Timeout:     time.Second,
	}
}

func TestRegistryUpsertGetRemove(t *testing.T) {
	r := New(nil)
	g := group.New("g1", testSpec(), fakeTransport{}, nil)
	r.Upsert(g)

	assert.Equal(t, g, r.Get("g1"))
	assert.ElementsMatch(t, []string{"g1"}, r.Names())

	removed := r.Remove("g1")
	assert.Equal(t, g, removed)
	assert.Nil(t, r.Get("g1"))
}

func TestRegistryCallUnknownGroup(t *testing.T) {
	r := New(nil)
	_, err := r.Call(context.Background(), "missing", "tools/list", nil)
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRegistryReadyAndFailed(t *testing.T) {
	r := New(nil)
	g := group.New("g1", testSpec(), fakeTransport{}, nil)
	require.NoError(t, g.Connect(context.Background()))
	r.Upsert(g)

	assert.Len(t, r.Ready(), 1)
	assert.Len(t, r.Failed(), 0)
}
