package group

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/wire"
)

type fakeTransport struct {
	handle func(req wire.Request) (wire.Response, error)
	closed bool
}

func (f *fakeTransport) Send(_ context.Context, req wire.Request) (wire.Response, error) {
	return f.handle(req)
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestSpec() *config.ServerSpec {
	return &config.ServerSpec{
		Type:        config.ServerTypeStdio,
		Description: "test",
		Features:    config.DefaultFeatures(),
		Timeout:     time.Second,
	}
}

func TestGroupConnectSuccess(t *testing.T) {
	tr := &fakeTransport{handle: func(req wire.Request) (wire.Response, error) {
		switch req.Method {
		case "initialize":
			result := wire.InitializeResult{
				ProtocolVersion: wire.ProtocolVersion,
				ServerInfo:      wire.ServerInfo{Name: "downstream", Version: "1.0"},
			}
			return wire.NewResultResponse(req.ID, result), nil
		case "tools/list":
			return wire.NewResultResponse(req.ID, map[string]any{
				"tools": []wire.Tool{{Name: "echo"}},
			}), nil
		default:
			return wire.NewResultResponse(req.ID, map[string]any{}), nil
		}
	}}

	g := New("g1", newTestSpec(), tr, nil)
	require.NoError(t, g.Connect(context.Background()))
	assert.Equal(t, StateReady, g.State())
	assert.Equal(t, "downstream", g.ServerInfo().Name)
	require.Len(t, g.Tools(), 1)
	assert.Equal(t, "echo", g.Tools()[0].Name)
}

func TestGroupConnectFailsOnInitializeError(t *testing.T) {
	tr := &fakeTransport{handle: func(req wire.Request) (wire.Response, error) {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "boom", nil), nil
	}}

	g := New("g1", newTestSpec(), tr, nil)
	err := g.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, g.State())
}

func TestGroupFeatureFailureDowngradesNotFails(t *testing.T) {
	tr := &fakeTransport{handle: func(req wire.Request) (wire.Response, error) {
		switch req.Method {
		case "initialize":
			return wire.NewResultResponse(req.ID, wire.InitializeResult{ServerInfo: wire.ServerInfo{Name: "d"}}), nil
		case "tools/list":
			return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "tools broken", nil), nil
		default:
			return wire.NewResultResponse(req.ID, map[string]any{}), nil
		}
	}}

	g := New("g1", newTestSpec(), tr, nil)
	require.NoError(t, g.Connect(context.Background()))
	assert.Equal(t, StateReady, g.State())
	assert.Empty(t, g.Tools())
}

func TestGroupCallNotReadyErrors(t *testing.T) {
	tr := &fakeTransport{handle: func(req wire.Request) (wire.Response, error) {
		return wire.Response{}, nil
	}}
	g := New("g1", newTestSpec(), tr, nil)
	_, err := g.Call(context.Background(), "tools/call", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestGroupCloseTransitionsToClosed(t *testing.T) {
	tr := &fakeTransport{handle: func(req wire.Request) (wire.Response, error) {
		return wire.NewResultResponse(req.ID, map[string]any{}), nil
	}}
	g := New("g1", newTestSpec(), tr, nil)
	require.NoError(t, g.Close())
	assert.Equal(t, StateClosed, g.State())
	assert.True(t, tr.closed)
}
