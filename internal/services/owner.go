package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/oauth2"
)

// ownerScopes are the permissions a share needs from the playlist owner.
var ownerScopes = []string{
	"user-read-private",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
}

// OwnerAuth runs the authorization code flow a playlist owner completes before creating a share.
type OwnerAuth struct {
	config *oauth2.Config
	client *http.Client
}

// NewOwnerAuth creates an [OwnerAuth] from the configured client and accounts endpoints.
func NewOwnerAuth(creds shared.SpotifyConfig, api shared.SpotifyAPIConfig, client *http.Client) (*OwnerAuth, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}

	if client == nil {
		client = NewHTTPClient(api.Timeout())
	}

	return &OwnerAuth{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Scopes:       ownerScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   api.AuthURL,
				TokenURL:  api.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: client,
	}, nil
}

// AuthURL returns the consent page URL for state.
func (a *OwnerAuth) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Config exposes the underlying [oauth2.Config].
func (a *OwnerAuth) Config() *oauth2.Config {
	return a.config
}

// Exchange trades an authorization code for the owner's token pair.
func (a *OwnerAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthFailed, err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider did not return a refresh token", shared.ErrNoRefreshToken)
	}
	return token, nil
}
