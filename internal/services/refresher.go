package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/sharelist/internal/metrics"
	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/oauth2"
)

// missingAccessToken is the reason reported when a 2xx refresh reply carries no access token.
const missingAccessToken = "missing access_token"

// RefresherConfig holds the confidential client used for the refresh grant.
type RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// RefreshedToken is the result of a successful refresh grant.
//
// RefreshToken always holds the token to keep using; Rotated reports whether the provider issued a new one.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	Rotated      bool
	Expiry       time.Time
}

// RefreshError describes why the provider refused or could not serve a refresh grant.
//
// Status is zero when no HTTP reply was received. Transport is set when the token
// endpoint could not be reached at all, as opposed to the provider refusing the grant.
type RefreshError struct {
	Status    int
	Body      string
	Reason    string
	Transport bool
}

func (e *RefreshError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("token refresh failed (%d): %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("token refresh failed: %s", e.Reason)
	}
}

func (e *RefreshError) Unwrap() error {
	return shared.ErrRefreshFailed
}

// SpotifyRefresher exchanges refresh tokens at the Spotify accounts service.
type SpotifyRefresher struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewSpotifyRefresher creates a [SpotifyRefresher] from explicitly injected client credentials.
func NewSpotifyRefresher(cfg RefresherConfig) (*SpotifyRefresher, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: token url is required", shared.ErrInvalidConfig)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(0)
	}

	return &SpotifyRefresher{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: client,
	}, nil
}

// Refresh performs a single form-encoded refresh_token grant.
func (r *SpotifyRefresher) Refresh(ctx context.Context, refreshToken string) (tok *RefreshedToken, err error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, shared.ErrNoRefreshToken)
	}

	start := time.Now()
	defer func() { metrics.ObserveProvider("token", start, err) }()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	t, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, refreshError(err)
	}

	return &RefreshedToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Rotated:      t.RefreshToken != "" && t.RefreshToken != refreshToken,
		Expiry:       t.Expiry,
	}, nil
}

func refreshError(err error) *RefreshError {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		re := &RefreshError{Body: string(rErr.Body), Reason: rErr.ErrorCode}
		if rErr.Response != nil {
			re.Status = rErr.Response.StatusCode
		}
		if re.Reason == "" {
			re.Reason = http.StatusText(re.Status)
		}
		return re
	}

	if strings.Contains(err.Error(), "missing access_token") {
		return &RefreshError{Reason: missingAccessToken}
	}
	return &RefreshError{Reason: err.Error(), Transport: isTransport(err)}
}

// isTransport reports whether err means no usable reply came back from the token endpoint.
func isTransport(err error) bool {
	var uErr *url.Error
	var nErr net.Error
	switch {
	case errors.As(err, &uErr), errors.As(err, &nErr):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	default:
		return strings.Contains(err.Error(), "cannot fetch token")
	}
}
