package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/oauth2"
)

// Exchanger trades an authorization code for the owner's tokens.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthResult is the outcome of one owner login.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

// Err reports why the login failed, or nil.
func (o OAuthResult) Err() error {
	return o.err
}

// OAuthHandler accepts exactly one OAuth2 callback for a terminal login.
type OAuthHandler struct {
	exchanger Exchanger
	state     string
	results   chan OAuthResult
	once      sync.Once
	hit       atomic.Bool
}

// NewOAuthHandler creates a handler that accepts only callbacks carrying state.
// The state token should be cryptographically random for CSRF protection.
func NewOAuthHandler(exchanger Exchanger, state string) *OAuthHandler {
	return &OAuthHandler{
		exchanger: exchanger,
		state:     state,
		results:   make(chan OAuthResult, 1),
	}
}

// Path is where the handler expects the provider to redirect.
func (h *OAuthHandler) Path() string {
	return "/callback"
}

// ServeHTTP checks state, exchanges the code and publishes the outcome on [OAuthHandler.Result].
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.hit.CompareAndSwap(false, true) {
		WriteJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "callback already processed"})
		return
	}

	token, status, err := h.complete(r)
	h.Send(OAuthResult{Token: token, err: err})
	if err != nil {
		WriteJSON(w, r, status, ErrorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, connectedPage)
}

func (h *OAuthHandler) complete(r *http.Request) (*oauth2.Token, int, error) {
	q := r.URL.Query()
	if q.Get("state") != h.state {
		return nil, http.StatusBadRequest, fmt.Errorf("%w: state mismatch", shared.ErrAuthFailed)
	}

	code := q.Get("code")
	if code == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, q.Get("error"), q.Get("error_description"))
	}

	token, err := h.exchanger.Exchange(r.Context(), code)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("token exchange failed: %w", err)
	}
	return token, http.StatusOK, nil
}

// Send publishes result once; later calls are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result receives exactly one outcome and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

const connectedPage = `<!DOCTYPE html>
<html>
<head><title>sharelist</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4rem">
    <h1 style="color: #1DB954">Spotify connected</h1>
    <p>You can close this window and return to the terminal.</p>
</body>
</html>
`
