package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shares"
	"github.com/desertthunder/sharelist/internal/tokens"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// TokenResolver turns a share code into a usable owner access token.
type TokenResolver interface {
	Resolve(ctx context.Context, shareCode string) (*tokens.Resolved, error)
}

// Catalog is the Spotify surface collaborators act on.
type Catalog interface {
	SearchTracks(ctx context.Context, token, query string, limit int) (*services.SpotifySearchResult, error)
	ListTracks(ctx context.Context, token, playlistID string, offset, limit int) (*services.SpotifyPlaylistTracks, error)
	AddTrack(ctx context.Context, token, playlistID, uri string) (*services.SpotifySnapshot, error)
	RemoveTrack(ctx context.Context, token, playlistID, uri string) (*services.SpotifySnapshot, error)
}

// TokenRefresher trades an owner's refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*services.RefreshedToken, error)
}

// ShareService creates shares and reads their metadata.
type ShareService interface {
	Create(ctx context.Context, req shares.CreateRequest, baseURL string) (*shares.Created, error)
	Show(ctx context.Context, code string) (*shares.Metadata, error)
}

// Options configures a [Server].
type Options struct {
	// PublicBaseURL prefixes share links. Empty falls back to the request origin.
	PublicBaseURL  string
	AllowedOrigins []string
	// RateLimit is requests per second per share code; zero disables limiting.
	RateLimit float64
	RateBurst int
	// Refresher backs POST /refresh-token. Nil leaves the route unmounted.
	Refresher TokenRefresher
	Logger    *log.Logger
}

// Server holds the collaborators behind the HTTP surface.
type Server struct {
	shares   ShareService
	resolver TokenResolver
	catalog  Catalog
	opts     Options
	logger   *log.Logger
}

// New creates a [Server].
func New(shares ShareService, resolver TokenResolver, catalog Catalog, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Server{shares: shares, resolver: resolver, catalog: catalog, opts: opts, logger: logger}
}

// Serve runs handler on addr until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, timeout time.Duration, logger *log.Logger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
