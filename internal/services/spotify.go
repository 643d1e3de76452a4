// Spotify Web API gateway used by share collaborators
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/sharelist/internal/metrics"
	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultSearchLimit = 10
	defaultTrackLimit  = 50
	maxTrackLimit      = 100
	maxSearchLimit     = 50
	maxErrorBody       = 64 << 10
)

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email,omitempty"`
	Country     string         `json:"country,omitempty"`
	Product     string         `json:"product,omitempty"` // premium, free, etc.
	Followers   followers      `json:"followers"`
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc,omitempty"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int             `json:"duration_ms"`
	Explicit    bool            `json:"explicit"`
	ExternalIDs externalIDs     `json:"external_ids"`
	Popularity  int             `json:"popularity"`
	URI         string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ReleaseDate string         `json:"release_date"`
	Images      []SpotifyImage `json:"images"`
	URI         string         `json:"uri"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type playlistTracksRef struct {
	Total int `json:"total"`
}

// SpotifyPlaylist represents playlist metadata.
type SpotifyPlaylist struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Owner       Owner             `json:"owner"`
	Public      bool              `json:"public"`
	Tracks      playlistTracksRef `json:"tracks"`
	Images      []SpotifyImage    `json:"images"`
	URI         string            `json:"uri"`
}

// Image returns the URL of the first playlist image, or "" when there is none.
func (p *SpotifyPlaylist) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// SpotifyPlaylistTrack represents a track within a playlist context.
type SpotifyPlaylistTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// SpotifyPlaylistTracks is one page of a playlist's items.
type SpotifyPlaylistTracks struct {
	Items    []SpotifyPlaylistTrack `json:"items"`
	Total    int                    `json:"total"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
	Next     *string                `json:"next"`
	Previous *string                `json:"previous"`
}

// SpotifyTrackPage is one page of search results.
type SpotifyTrackPage struct {
	Items  []SpotifyTrack `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Next   *string        `json:"next"`
}

// SpotifySearchResult is the body of GET /search?type=track.
type SpotifySearchResult struct {
	Tracks SpotifyTrackPage `json:"tracks"`
}

// SpotifyPlaylistPage is one page of the current user's playlists.
type SpotifyPlaylistPage struct {
	Items  []SpotifyPlaylist `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Next   *string           `json:"next"`
}

// SpotifySnapshot is returned by playlist mutations.
type SpotifySnapshot struct {
	SnapshotID string `json:"snapshot_id"`
}

// SpotifyGateway performs catalog and playlist calls with a token resolved for a share.
type SpotifyGateway struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSpotifyGateway creates a [SpotifyGateway]. A nil limiter disables outbound rate limiting.
func NewSpotifyGateway(baseURL string, client *http.Client, limiter *rate.Limiter) *SpotifyGateway {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &SpotifyGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: limiter,
	}
}

// doRequest performs an authenticated JSON request to the Spotify API.
func (g *SpotifyGateway) doRequest(ctx context.Context, token, method, endpoint string, body, result any) (err error) {
	op := strings.ToLower(method) + " " + opName(endpoint)
	start := time.Now()
	defer func() { metrics.ObserveProvider(op, start, err) }()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", shared.ErrAPIRequest, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}

	return nil
}

// opName reduces an endpoint to a low-cardinality metric label.
func opName(endpoint string) string {
	p, _, _ := strings.Cut(endpoint, "?")
	switch {
	case strings.HasPrefix(p, "/playlists/") && strings.HasSuffix(p, "/tracks"):
		return "playlist_tracks"
	case strings.HasPrefix(p, "/playlists/"):
		return "playlist"
	case p == "/search":
		return "search"
	case p == "/me":
		return "me"
	case p == "/me/playlists":
		return "me_playlists"
	default:
		return "other"
	}
}

// Profile retrieves the profile of the token's owner.
func (g *SpotifyGateway) Profile(ctx context.Context, token string) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := g.doRequest(ctx, token, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// OwnerPlaylists lists playlists owned or followed by the token's user. limit defaults to 50.
func (g *SpotifyGateway) OwnerPlaylists(ctx context.Context, token string, limit int) (*SpotifyPlaylistPage, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var page SpotifyPlaylistPage
	if err := g.doRequest(ctx, token, http.MethodGet, fmt.Sprintf("/me/playlists?limit=%d", limit), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Playlist retrieves playlist metadata by ID.
func (g *SpotifyGateway) Playlist(ctx context.Context, token, playlistID string) (*SpotifyPlaylist, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	endpoint := fmt.Sprintf("/playlists/%s?fields=%s", url.PathEscape(playlistID),
		url.QueryEscape("id,name,description,owner,public,tracks.total,images,uri"))

	var playlist SpotifyPlaylist
	if err := g.doRequest(ctx, token, http.MethodGet, endpoint, nil, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// SearchTracks searches the catalog for tracks. limit defaults to 10.
func (g *SpotifyGateway) SearchTracks(ctx context.Context, token, query string, limit int) (*SpotifySearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", fmt.Sprint(limit))

	var result SpotifySearchResult
	if err := g.doRequest(ctx, token, http.MethodGet, "/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTracks retrieves one page of playlist items. limit defaults to 50 and is capped at 100.
func (g *SpotifyGateway) ListTracks(ctx context.Context, token, playlistID string, offset, limit int) (*SpotifyPlaylistTracks, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultTrackLimit
	}
	if limit > maxTrackLimit {
		limit = maxTrackLimit
	}

	endpoint := fmt.Sprintf("/playlists/%s/tracks?offset=%d&limit=%d", url.PathEscape(playlistID), offset, limit)

	var page SpotifyPlaylistTracks
	if err := g.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AddTrack appends the track uri to the playlist.
func (g *SpotifyGateway) AddTrack(ctx context.Context, token, playlistID, uri string) (*SpotifySnapshot, error) {
	if playlistID == "" || uri == "" {
		return nil, fmt.Errorf("%w: playlist id and track uri", shared.ErrMissingArgument)
	}

	body := map[string][]string{"uris": {uri}}
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	var snap SpotifySnapshot
	if err := g.doRequest(ctx, token, http.MethodPost, endpoint, body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RemoveTrack removes every occurrence of the track uri from the playlist.
func (g *SpotifyGateway) RemoveTrack(ctx context.Context, token, playlistID, uri string) (*SpotifySnapshot, error) {
	if playlistID == "" || uri == "" {
		return nil, fmt.Errorf("%w: playlist id and track uri", shared.ErrMissingArgument)
	}

	type trackRef struct {
		URI string `json:"uri"`
	}
	body := struct {
		Tracks []trackRef `json:"tracks"`
	}{Tracks: []trackRef{{URI: uri}}}
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))

	var snap SpotifySnapshot
	if err := g.doRequest(ctx, token, http.MethodDelete, endpoint, body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
