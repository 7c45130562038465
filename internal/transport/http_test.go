package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dynamic-mcp/gateway/internal/config"
	"github.com/dynamic-mcp/gateway/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSendRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/list", req.Method)
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))

		resp := wire.NewResultResponse(req.ID, map[string]string{"ok": "yes"})
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	spec := &config.ServerSpec{Type: config.ServerTypeHTTP, URL: srv.URL}
	tr, err := NewHTTP("g1", spec, staticToken("tok123"))
	require.NoError(t, err)
	defer tr.Close()

	req, err := wire.NewRequest(wire.NewIntID(1), "tools/list", nil)
	require.NoError(t, err)

	resp, err := tr.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
}

func TestHTTPSendNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	spec := &config.ServerSpec{Type: config.ServerTypeHTTP, URL: srv.URL}
	tr, err := NewHTTP("g1", spec, nil)
	require.NoError(t, err)
	defer tr.Close()

	req, err := wire.NewRequest(wire.NewIntID(1), "tools/list", nil)
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), req)
	require.Error(t, err)
}

type staticToken string

func (s staticToken) Token(_ context.Context, _ string) (string, error) {
	return string(s), nil
}
