package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/sharelist/internal/server"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/shares"
	"github.com/desertthunder/sharelist/internal/ui"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const defaultAuthTimeout = 2 * time.Minute

// ownerLogin is what a completed login prints.
type ownerLogin struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Auth logs the owner in through the browser and either prints the tokens or shares --playlist with them.
func (r *Runner) Auth(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	client := r.client(config)
	owner, err := services.NewOwnerAuth(config.Credentials.Spotify, config.Spotify, client)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, config, owner, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	gateway := services.NewSpotifyGateway(config.Spotify.APIBaseURL, client, nil)
	profile, err := gateway.Profile(ctx, token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to read owner profile: %w", err)
	}
	r.writePlainln("%s", ui.Default.OK("Logged in as "+profile.DisplayName))

	playlist := cmd.String("playlist")
	if playlist == "" {
		if err := r.printOwnerPlaylists(ctx, gateway, token.AccessToken); err != nil {
			r.logger.Warn("could not list playlists", "error", err)
		}
		return r.writeJSON(ownerLogin{
			UserID:       profile.ID,
			DisplayName:  profile.DisplayName,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
		}, true)
	}

	a, err := r.buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer a.close()

	created, err := a.shares.Create(ctx, shares.CreateRequest{
		PlaylistID:   playlist,
		OwnerUserID:  profile.ID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, shareBaseURL(config))
	if err != nil {
		return err
	}
	return r.printCreated(created, false)
}

// printOwnerPlaylists lists what the owner could share with --playlist.
func (r *Runner) printOwnerPlaylists(ctx context.Context, gateway *services.SpotifyGateway, token string) error {
	page, err := gateway.OwnerPlaylists(ctx, token, 0)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return r.writePlainln("%s", ui.Default.Warn("No playlists found"))
	}

	var b strings.Builder
	b.WriteString(ui.Default.Title("Your playlists") + "\n")
	for _, p := range page.Items {
		fmt.Fprintf(&b, "  %-24s %s\n", p.ID, p.Name)
	}
	b.WriteString(ui.Default.Help("Rerun with --playlist <id> to share one."))
	return r.writePlainln("%s", b.String())
}

// callbackAddr is the local listen address implied by the redirect URI.
func callbackAddr(config *shared.Config) string {
	u, err := url.Parse(config.Credentials.Spotify.RedirectURI)
	if err != nil || u.Host == "" {
		return config.Server.Addr()
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return net.JoinHostPort(u.Host, "80")
	}
	return u.Host
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server
func (r *Runner) doOAuth(ctx context.Context, config *shared.Config, owner *services.OwnerAuth, timeout time.Duration) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}

	authURL := owner.AuthURL(state)
	oauthHandler := server.NewOAuthHandler(owner, state)
	router := chi.NewRouter()
	router.Handle(oauthHandler.Path(), oauthHandler)

	serverAddr := callbackAddr(config)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("%s", ui.Default.Warn("Could not open browser automatically."))
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}
	return result.Token, nil
}
