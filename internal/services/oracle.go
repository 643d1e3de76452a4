package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/sharelist/internal/metrics"
)

// SpotifyOracle checks whether an access token is still accepted by Spotify.
type SpotifyOracle struct {
	baseURL string
	client  *http.Client
}

// NewSpotifyOracle creates a [SpotifyOracle] against the API rooted at baseURL.
func NewSpotifyOracle(baseURL string, client *http.Client) *SpotifyOracle {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &SpotifyOracle{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// CheckLive performs a single GET /me with token.
//
// The returned error is only informational for [TransportError]; [Expired] and [Live] return nil.
func (o *SpotifyOracle) CheckLive(ctx context.Context, token string) (l Liveness, err error) {
	start := time.Now()
	defer func() { metrics.ObserveProvider("me", start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/me", nil)
	if err != nil {
		return TransportError, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.client.Do(req)
	if err != nil {
		return TransportError, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Expired, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Live, nil
	default:
		return TransportError, fmt.Errorf("unexpected status %d from /me", resp.StatusCode)
	}
}
