package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const callbackPath = "/oauth/callback"

// callbackResult is what the browser's redirect back to us carries.
type callbackResult struct {
	code  string
	state string
	err   error
}

// callbackServer is a one-shot HTTP server bound to an ephemeral
// loopback port: it exists only long enough to receive the single
// authorization redirect for one flow.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	resultCh chan callbackResult
}

// newCallbackServer binds 127.0.0.1:0 and returns the server plus the
// exact redirect_uri to register for this flow.
func newCallbackServer() (*callbackServer, string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("oauth callback: bind loopback listener: %w", err)
	}

	cs := &callbackServer{
		listener: listener,
		resultCh: make(chan callbackResult, 1),
	}

	router := chi.NewRouter()
	router.Get(callbackPath, cs.handle)
	cs.server = &http.Server{Handler: router}

	go func() {
		_ = cs.server.Serve(listener)
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://localhost:%d%s", port, callbackPath)
	return cs, redirectURI, nil
}

func (cs *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		cs.deliver(callbackResult{err: fmt.Errorf("authorization server returned error: %s", errParam)})
		writeCallbackPage(w, false)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		cs.deliver(callbackResult{err: fmt.Errorf("callback missing code or state parameter")})
		writeCallbackPage(w, false)
		return
	}

	cs.deliver(callbackResult{code: code, state: state})
	writeCallbackPage(w, true)
}

func (cs *callbackServer) deliver(result callbackResult) {
	select {
	case cs.resultCh <- result:
	default:
	}
}

func writeCallbackPage(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if ok {
		w.Write([]byte("<html><body><h1>Authentication successful</h1><p>You can close this window.</p></body></html>"))
		return
	}
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte("<html><body><h1>Authentication failed</h1><p>You can close this window and retry.</p></body></html>"))
}

// waitForCallback blocks until the browser redirect arrives or ctx is
// done, then shuts the one-shot server down either way.
func (cs *callbackServer) waitForCallback(ctx context.Context) (string, string, error) {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cs.server.Shutdown(shutdownCtx)
	}()

	select {
	case result := <-cs.resultCh:
		return result.code, result.state, result.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}
