// package shares creates share links and reads their public metadata
package shares

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/sethvargo/go-retry"
)

// codeAlphabet is the URL-safe set share codes are drawn from.
const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Encrypter seals tokens before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// PlaylistSource looks up playlist metadata with the owner's token.
type PlaylistSource interface {
	Playlist(ctx context.Context, token, playlistID string) (*services.SpotifyPlaylist, error)
}

// CreateRequest is what an owner submits to share a playlist.
type CreateRequest struct {
	PlaylistID    string `json:"playlist_id" validate:"required"`
	PlaylistName  string `json:"playlist_name"`
	PlaylistImage string `json:"playlist_image"`
	OwnerUserID   string `json:"user_id" validate:"required"`
	AccessToken   string `json:"access_token" validate:"required"`
	RefreshToken  string `json:"refresh_token" validate:"required"`
}

// Created describes a freshly stored share.
type Created struct {
	ID        string `json:"-"`
	ShareCode string `json:"share_code"`
	ShareURL  string `json:"share_url"`
}

// Metadata is the public view of a share.
type Metadata struct {
	ID            string    `json:"id"`
	ShareCode     string    `json:"share_code"`
	PlaylistID    string    `json:"playlist_id"`
	PlaylistName  string    `json:"playlist_name"`
	PlaylistImage string    `json:"playlist_image"`
	CreatedAt     time.Time `json:"created_at"`
}

// Options tunes a [Service].
type Options struct {
	CodeLength  int
	MaxAttempts int
	// Backoff is the first retry delay after a share code collision; it doubles per attempt.
	Backoff time.Duration
	// Playlists fills in a missing name or image at creation. Nil skips the lookup.
	Playlists PlaylistSource
	Logger    *log.Logger
}

// Service creates and reads shares.
type Service struct {
	store   models.ShareStore
	codec   Encrypter
	opts    Options
	logger  *log.Logger
	newCode func(n int) (string, error)
}

// NewService creates a [Service] over store.
func NewService(store models.ShareStore, codec Encrypter, opts Options) *Service {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 8
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 10 * time.Millisecond
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Service{store: store, codec: codec, opts: opts, logger: logger, newCode: GenerateCode}
}

// GenerateCode returns n characters drawn uniformly from [0-9a-z] using crypto/rand.
func GenerateCode(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for range n {
		i, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b.WriteByte(codeAlphabet[i.Int64()])
	}
	return b.String(), nil
}

// Create encrypts the owner's tokens, stores a new record under a fresh share code and returns its link.
//
// baseURL is the public origin the link is built on. A share code collision is retried with a new code.
func (s *Service) Create(ctx context.Context, req CreateRequest, baseURL string) (*Created, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}

	s.fillMetadata(ctx, &req)

	accessCT, err := s.codec.Encrypt(req.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshCT, err := s.codec.Encrypt(req.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	var record *models.ShareRecord
	backoff := retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), retry.NewExponential(s.opts.Backoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := s.newCode(s.opts.CodeLength)
		if err != nil {
			return err
		}

		candidate := &models.ShareRecord{
			ShareCode:             code,
			PlaylistID:            req.PlaylistID,
			PlaylistName:          req.PlaylistName,
			PlaylistImage:         req.PlaylistImage,
			OwnerUserID:           req.OwnerUserID,
			EncryptedAccessToken:  accessCT,
			EncryptedRefreshToken: refreshCT,
		}

		if _, err := s.store.Insert(ctx, candidate); err != nil {
			if errors.Is(err, shared.ErrShareCodeTaken) {
				s.logger.Warn("share code collision, regenerating", "code", code)
				return retry.RetryableError(err)
			}
			return err
		}

		record = candidate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create share: %w", err)
	}

	s.logger.Info("share created", "share", record.ShareCode, "playlist", record.PlaylistID, "owner", record.OwnerUserID)

	return &Created{
		ID:        record.ID,
		ShareCode: record.ShareCode,
		ShareURL:  ShareURL(baseURL, record.ShareCode),
	}, nil
}

// fillMetadata snapshots playlist name and image from Spotify when the owner left them out.
// Lookup failures are logged and the share is created without them.
func (s *Service) fillMetadata(ctx context.Context, req *CreateRequest) {
	if s.opts.Playlists == nil || (req.PlaylistName != "" && req.PlaylistImage != "") {
		return
	}

	pl, err := s.opts.Playlists.Playlist(ctx, req.AccessToken, req.PlaylistID)
	if err != nil {
		s.logger.Warn("playlist metadata lookup failed", "playlist", req.PlaylistID, "error", err)
		return
	}
	if req.PlaylistName == "" {
		req.PlaylistName = pl.Name
	}
	if req.PlaylistImage == "" {
		req.PlaylistImage = pl.Image()
	}
}

// Show returns the public metadata of the share with code.
func (s *Service) Show(ctx context.Context, code string) (*Metadata, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: share code", shared.ErrMissingArgument)
	}

	record, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return MetadataOf(record), nil
}

// MetadataOf projects the public fields of record.
func MetadataOf(record *models.ShareRecord) *Metadata {
	return &Metadata{
		ID:            record.ID,
		ShareCode:     record.ShareCode,
		PlaylistID:    record.PlaylistID,
		PlaylistName:  record.PlaylistName,
		PlaylistImage: record.PlaylistImage,
		CreatedAt:     record.CreatedAt,
	}
}

// ShareURL builds the collaborator link for code on baseURL.
func ShareURL(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/playlist/" + code
}
