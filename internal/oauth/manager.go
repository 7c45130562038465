package oauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dynamic-mcp/gateway/internal/config"
)

// flowTimeout bounds how long a user has to complete the browser
// authorization step before the flow gives up.
const flowTimeout = 5 * time.Minute

// Manager obtains and refreshes bearer tokens for every
// OAuth-configured group. It implements transport.BearerTokenSource.
type Manager struct {
	store      *Store
	logger     *zap.Logger
	httpClient *http.Client

	mu     sync.Mutex
	specs  map[string]*config.ServerSpec
	tokens map[string]*Tokens

	flight singleflight.Group
}

// NewManager builds a Manager backed by store.
func NewManager(store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		specs:      make(map[string]*config.ServerSpec),
		tokens:     make(map[string]*Tokens),
	}
}

// Register associates groupName with the spec that configures its
// OAuth client id/scopes/URL, so Token can find them later.
func (m *Manager) Register(groupName string, spec *config.ServerSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[groupName] = spec
}

// Forget drops any cached credential state for groupName, called when
// a group is removed from the registry.
func (m *Manager) Forget(groupName string) {
	m.mu.Lock()
	delete(m.specs, groupName)
	delete(m.tokens, groupName)
	m.mu.Unlock()
}

// Token implements transport.BearerTokenSource: it returns a valid
// access token for groupName, performing the authorization flow or a
// refresh as needed. Concurrent callers for the same group share one
// in-flight flow via singleflight.
func (m *Manager) Token(ctx context.Context, groupName string) (string, error) {
	tokens, err := m.currentTokens(ctx, groupName)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

func (m *Manager) currentTokens(ctx context.Context, groupName string) (*Tokens, error) {
	m.mu.Lock()
	cached := m.tokens[groupName]
	m.mu.Unlock()

	if cached == nil {
		loaded, err := m.store.Load(groupName)
		if err != nil {
			return nil, err
		}
		cached = loaded
		if cached != nil {
			m.mu.Lock()
			m.tokens[groupName] = cached
			m.mu.Unlock()
		}
	}

	switch {
	case cached == nil:
		return m.obtain(ctx, groupName)
	case cached.IsExpired():
		return m.refreshOrReauth(ctx, groupName, cached)
	case cached.NeedsRefresh() && cached.RefreshToken != "":
		return m.refreshOrReauth(ctx, groupName, cached)
	default:
		return cached, nil
	}
}

func (m *Manager) specFor(groupName string) (*config.ServerSpec, error) {
	m.mu.Lock()
	spec, ok := m.specs[groupName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("oauth: group %q was never registered", groupName)
	}
	return spec, nil
}

func (m *Manager) refreshOrReauth(ctx context.Context, groupName string, tokens *Tokens) (*Tokens, error) {
	refreshed, err := m.refresh(ctx, groupName, tokens)
	if err == nil {
		return refreshed, nil
	}
	m.logger.Warn("oauth refresh failed, starting fresh authorization flow", zap.String("group", groupName), zap.Error(err))
	return m.obtain(ctx, groupName)
}

func (m *Manager) refresh(ctx context.Context, groupName string, tokens *Tokens) (*Tokens, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("oauth: no refresh token on file for %q", groupName)
	}
	spec, err := m.specFor(groupName)
	if err != nil {
		return nil, err
	}
	metadata, err := Discover(ctx, m.httpClient, spec.URL)
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID: spec.OAuthClientID,
		Endpoint: oauth2.Endpoint{AuthURL: metadata.AuthorizationEndpoint, TokenURL: metadata.TokenEndpoint},
		Scopes:   spec.OAuthScopes,
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh token for %q: %w", groupName, err)
	}

	result := tokensFromOAuth2(newToken, tokens.RefreshToken)
	if err := m.store.Save(groupName, result); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tokens[groupName] = result
	m.mu.Unlock()
	return result, nil
}

// obtain runs the full PKCE authorization-code flow for groupName.
// Concurrent callers wanting the same group's flow share one run.
func (m *Manager) obtain(ctx context.Context, groupName string) (*Tokens, error) {
	v, err, _ := m.flight.Do(groupName, func() (any, error) {
		return m.performFlow(ctx, groupName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tokens), nil
}

func (m *Manager) performFlow(ctx context.Context, groupName string) (*Tokens, error) {
	spec, err := m.specFor(groupName)
	if err != nil {
		return nil, err
	}
	if spec.OAuthClientID == "" {
		return nil, fmt.Errorf("oauth: group %q has no oauth_client_id configured", groupName)
	}

	metadata, err := Discover(ctx, m.httpClient, spec.URL)
	if err != nil {
		return nil, err
	}

	callback, redirectURI, err := newCallbackServer()
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:    spec.OAuthClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: metadata.AuthorizationEndpoint, TokenURL: metadata.TokenEndpoint},
		RedirectURL: redirectURI,
		Scopes:      spec.OAuthScopes,
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	m.logger.Info("opening browser for OAuth authorization", zap.String("group", groupName), zap.String("url", authURL))
	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser automatically; visit the URL manually", zap.String("group", groupName), zap.String("url", authURL), zap.Error(err))
	}

	flowCtx, cancel := context.WithTimeout(ctx, flowTimeout)
	defer cancel()

	code, gotState, err := callback.waitForCallback(flowCtx)
	if err != nil {
		return nil, fmt.Errorf("oauth: authorization for %q failed: %w", groupName, err)
	}
	if gotState != state {
		return nil, fmt.Errorf("oauth: authorization for %q failed: CSRF state mismatch", groupName)
	}

	token, err := oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("oauth: token exchange for %q failed: %w", groupName, err)
	}

	result := tokensFromOAuth2(token, "")
	if err := m.store.Save(groupName, result); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tokens[groupName] = result
	m.mu.Unlock()

	m.logger.Info("oauth authorization succeeded", zap.String("group", groupName))
	return result, nil
}

func tokensFromOAuth2(token *oauth2.Token, fallbackRefresh string) *Tokens {
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	result := &Tokens{AccessToken: token.AccessToken, RefreshToken: refresh}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		result.ExpiresAt = &expiry
	}
	return result
}
