package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ServerMetadata is the subset of RFC 8414 Authorization Server
// Metadata the flow needs.
type ServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

const wellKnownPath = "/.well-known/oauth-authorization-server"

// Discover fetches the authorization server metadata document for
// serverURL's host, per RFC 8414's well-known path.
func Discover(ctx context.Context, client *http.Client, serverURL string) (*ServerMetadata, error) {
	discoveryURL, err := discoveryURLFor(serverURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth discovery: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth discovery: fetch %s: %w", discoveryURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth discovery: %s returned HTTP %d", discoveryURL, resp.StatusCode)
	}

	var metadata ServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("oauth discovery: parse metadata: %w", err)
	}
	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth discovery: %s missing authorization_endpoint/token_endpoint", discoveryURL)
	}
	return &metadata, nil
}

func discoveryURLFor(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("oauth discovery: invalid server URL %q: %w", serverURL, err)
	}
	base := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	return strings.TrimSuffix(base, "/") + wellKnownPath, nil
}
