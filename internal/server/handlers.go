package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/desertthunder/sharelist/internal/shares"
	"github.com/desertthunder/sharelist/internal/tokens"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// maxBody caps request bodies.
const maxBody = 64 << 10

// ListTracksRequest pages through playlist items.
type ListTracksRequest struct {
	Offset int `json:"offset" validate:"gte=0"`
	Limit  int `json:"limit" validate:"gte=0,lte=100"`
}

// SearchRequest is a catalog search.
type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0,lte=50"`
}

// TrackRequest names one track by Spotify URI.
type TrackRequest struct {
	URI string `json:"uri" validate:"required,startswith=spotify:"`
}

// MutationResponse reports a successful add or remove.
type MutationResponse struct {
	Success    bool   `json:"success"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// RefreshTokenRequest carries an owner's refresh token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshTokenResponse carries the new access token. RefreshToken is only set when Spotify rotated it.
type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "service": "sharelist"})
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req shares.CreateRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	created, err := s.shares.Create(r.Context(), req, s.baseURL(r))
	if err != nil {
		s.logger.Error("share creation failed", "playlist", req.PlaylistID, "error", err)
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decode(r, &req, false); err != nil {
		WriteJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "missing refresh token"})
		return
	}

	tok, err := s.opts.Refresher.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.logger.Warn("owner token refresh failed", "error", err)
		status, body := classifyRefresh(err)
		WriteJSON(w, r, status, body)
		return
	}

	resp := RefreshTokenResponse{AccessToken: tok.AccessToken}
	if tok.Rotated {
		resp.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = max(int(time.Until(tok.Expiry).Seconds()), 0)
	}
	WriteJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleShowShare(w http.ResponseWriter, r *http.Request) {
	meta, err := s.shares.Show(r.Context(), chi.URLParam(r, "shareCode"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, meta)
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	var req ListTracksRequest
	if err := decode(r, &req, true); err != nil {
		WriteError(w, r, err)
		return
	}

	res, ok := s.resolve(w, r)
	if !ok {
		return
	}

	page, err := s.catalog.ListTracks(r.Context(), res.Token, res.Record.PlaylistID, req.Offset, req.Limit)
	if err != nil {
		s.upstreamFailed(w, r, "list tracks", err)
		return
	}
	WriteJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	res, ok := s.resolve(w, r)
	if !ok {
		return
	}

	result, err := s.catalog.SearchTracks(r.Context(), res.Token, req.Query, req.Limit)
	if err != nil {
		s.upstreamFailed(w, r, "search", err)
		return
	}
	WriteJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	res, ok := s.resolve(w, r)
	if !ok {
		return
	}

	snap, err := s.catalog.AddTrack(r.Context(), res.Token, res.Record.PlaylistID, req.URI)
	if err != nil {
		s.upstreamFailed(w, r, "add track", err)
		return
	}
	WriteJSON(w, r, http.StatusOK, MutationResponse{Success: true, SnapshotID: snap.SnapshotID})
}

func (s *Server) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := decode(r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}

	res, ok := s.resolve(w, r)
	if !ok {
		return
	}

	snap, err := s.catalog.RemoveTrack(r.Context(), res.Token, res.Record.PlaylistID, req.URI)
	if err != nil {
		s.upstreamFailed(w, r, "remove track", err)
		return
	}
	WriteJSON(w, r, http.StatusOK, MutationResponse{Success: true, SnapshotID: snap.SnapshotID})
}

// resolve writes the failure response itself when the share has no usable token.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*tokens.Resolved, bool) {
	res, err := s.resolver.Resolve(r.Context(), chi.URLParam(r, "shareCode"))
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	return res, true
}

func (s *Server) upstreamFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Warn("spotify call failed", "op", op, "share", chi.URLParam(r, "shareCode"), "error", err)
	WriteError(w, r, err)
}

// baseURL picks the origin share links are built on.
func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(proto)
	}
	return scheme + "://" + r.Host
}

// decode reads a JSON body into v and validates it. An empty body is accepted when optional is set.
func decode(r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBody)

	if err := render.DecodeJSON(r.Body, v); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: malformed JSON body: %v", shared.ErrInvalidInput, err)
		}
	}
	return shared.Validate(v)
}
