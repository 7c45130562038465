package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFetchesWellKnownMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wellKnownPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"issuer": "https://auth.example.com",
			"authorization_endpoint": "https://auth.example.com/authorize",
			"token_endpoint": "https://auth.example.com/token",
			"scopes_supported": ["read", "write"]
		}`))
	}))
	defer srv.Close()

	metadata, err := Discover(context.Background(), srv.Client(), srv.URL+"/mcp")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, "https://auth.example.com/token", metadata.TokenEndpoint)
}

func TestDiscoverRejectsIncompleteMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"issuer": "https://auth.example.com"}`))
	}))
	defer srv.Close()

	_, err := Discover(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
}

func TestDiscoverRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Discover(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
}
