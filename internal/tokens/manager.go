package tokens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sharelist/internal/metrics"
	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/services"
	"github.com/desertthunder/sharelist/internal/shared"
	"golang.org/x/sync/singleflight"
)

// Oracle reports whether Spotify still accepts an access token.
type Oracle interface {
	CheckLive(ctx context.Context, token string) (services.Liveness, error)
}

// Refresher mints a new access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*services.RefreshedToken, error)
}

// Codec seals tokens for storage.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Options tunes a [Manager].
type Options struct {
	// OptimisticOnTransportError hands out the stored token when the oracle cannot reach Spotify.
	OptimisticOnTransportError bool
	// RefreshTimeout bounds a refresh and its write; it is detached from the caller's cancellation.
	RefreshTimeout time.Duration
	// Locker coalesces refreshes across processes. Nil disables it.
	Locker Locker
	Logger *log.Logger
}

// Resolved is a usable access token for a share.
//
// Refreshed is true when the token differs from the one stored at lookup time.
type Resolved struct {
	Token     string
	Record    *models.ShareRecord
	Refreshed bool
}

// Manager resolves share codes to valid access tokens.
type Manager struct {
	store     models.ShareStore
	codec     Codec
	oracle    Oracle
	refresher Refresher
	opts      Options
	logger    *log.Logger
	group     singleflight.Group
}

// NewManager creates a [Manager] over its collaborators.
func NewManager(store models.ShareStore, codec Codec, oracle Oracle, refresher Refresher, opts Options) *Manager {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Manager{
		store:     store,
		codec:     codec,
		oracle:    oracle,
		refresher: refresher,
		opts:      opts,
		logger:    logger,
	}
}

// Resolve returns a currently usable access token for shareCode.
//
// Every error is an [*Error].
func (m *Manager) Resolve(ctx context.Context, shareCode string) (*Resolved, error) {
	res, err := m.resolve(ctx, shareCode)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			metrics.ResolutionOutcome(te.Kind.String())
		}
		return nil, err
	}
	return res, nil
}

func (m *Manager) resolve(ctx context.Context, shareCode string) (*Resolved, error) {
	if shareCode == "" {
		return nil, &Error{Kind: KindValidation, Reason: "share code is required", Err: shared.ErrMissingArgument}
	}
	logger := shared.WithLogger(m.logger, "share", shareCode)

	record, err := m.store.GetByCode(ctx, shareCode)
	if err != nil {
		if !errors.Is(err, shared.ErrShareNotFound) {
			logger.Error("share lookup failed", "error", err)
		}
		return nil, &Error{Kind: KindRecordNotFound, ShareCode: shareCode, Err: err}
	}

	access, refresh, err := m.decrypt(record)
	if err != nil {
		logger.Error("stored credential could not be decrypted", "id", record.ID, "error", err)
		return nil, &Error{Kind: KindCredentialCorrupt, ShareCode: shareCode, Err: err}
	}

	liveness, cause := m.oracle.CheckLive(ctx, access)
	switch liveness {
	case services.Live:
		metrics.ResolutionOutcome("live")
		return &Resolved{Token: access, Record: record}, nil

	case services.TransportError:
		if !m.opts.OptimisticOnTransportError {
			logger.Warn("liveness check failed", "error", cause)
			return nil, &Error{Kind: KindProviderTransport, ShareCode: shareCode, Err: fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, cause)}
		}
		logger.Debug("liveness check failed, using stored token", "error", cause)
		metrics.ResolutionOutcome("optimistic")
		return &Resolved{Token: access, Record: record}, nil
	}

	logger.Info("access token expired, refreshing")
	return m.refresh(ctx, logger, record, refresh)
}

func (m *Manager) decrypt(record *models.ShareRecord) (access, refresh string, err error) {
	if access, err = m.codec.Decrypt(record.EncryptedAccessToken); err != nil {
		return "", "", fmt.Errorf("access token: %w", err)
	}
	if refresh, err = m.codec.Decrypt(record.EncryptedRefreshToken); err != nil {
		return "", "", fmt.Errorf("refresh token: %w", err)
	}
	return access, refresh, nil
}

// refresh runs at most one refresh per share code at a time; concurrent callers share its result.
func (m *Manager) refresh(ctx context.Context, logger *log.Logger, stale *models.ShareRecord, refreshToken string) (*Resolved, error) {
	ch := m.group.DoChan(stale.ShareCode, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()
		return m.refreshOnce(rctx, logger, stale, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.(refreshed)
		metrics.ResolutionOutcome(out.outcome)
		return out.resolved, nil
	case <-ctx.Done():
		return nil, &Error{Kind: KindProviderTransport, ShareCode: stale.ShareCode, Reason: "request cancelled during refresh", Err: ctx.Err()}
	}
}

// refreshed is what one coalesced refresh hands to every waiting caller.
type refreshed struct {
	resolved *Resolved
	outcome  string
}

func (m *Manager) refreshOnce(ctx context.Context, logger *log.Logger, stale *models.ShareRecord, refreshToken string) (refreshed, error) {
	if m.opts.Locker != nil {
		release, acquired, err := m.opts.Locker.Acquire(ctx, stale.ShareCode)
		defer release()
		switch {
		case err != nil:
			logger.Warn("refresh lock unavailable, continuing without it", "error", err)
		case !acquired:
			logger.Warn("refresh lock wait elapsed, continuing without it")
		}
	}

	current, err := m.store.Get(ctx, stale.ID)
	switch {
	case err != nil:
		logger.Warn("failed to reload share before refresh", "error", err)
		current = stale
	case current.EncryptedAccessToken != stale.EncryptedAccessToken:
		if token, err := m.codec.Decrypt(current.EncryptedAccessToken); err == nil {
			logger.Info("reusing token refreshed concurrently")
			return refreshed{&Resolved{Token: token, Record: current, Refreshed: true}, "refreshed_elsewhere"}, nil
		}
		logger.Error("concurrently refreshed credential could not be decrypted", "id", current.ID)
	case current.EncryptedRefreshToken != stale.EncryptedRefreshToken:
		if rt, err := m.codec.Decrypt(current.EncryptedRefreshToken); err == nil {
			refreshToken = rt
		}
	}

	tok, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.RefreshResult("failed")
		logger.Warn("token refresh failed", "error", err)
		return refreshed{}, refreshFailure(stale.ShareCode, err)
	}
	metrics.RefreshResult("ok")

	accessCT, err := m.codec.Encrypt(tok.AccessToken)
	if err != nil {
		return refreshed{}, &Error{Kind: KindStore, ShareCode: stale.ShareCode, Reason: "failed to encrypt refreshed token", Err: err}
	}

	updated := *current
	updated.EncryptedAccessToken = accessCT
	updated.UpdatedAt = time.Now().UTC()

	if tok.Rotated {
		refreshCT, err := m.codec.Encrypt(tok.RefreshToken)
		if err != nil {
			return refreshed{}, &Error{Kind: KindStore, ShareCode: stale.ShareCode, Reason: "failed to encrypt rotated refresh token", Err: err}
		}
		updated.EncryptedRefreshToken = refreshCT
		err = m.store.UpdateTokens(ctx, current.ID, accessCT, refreshCT)
	} else {
		err = m.store.UpdateAccessToken(ctx, current.ID, accessCT)
	}
	if err != nil {
		logger.Error("failed to persist refreshed token", "id", current.ID, "error", err)
		return refreshed{}, &Error{Kind: KindStore, ShareCode: stale.ShareCode, Reason: "failed to persist refreshed token", Err: err}
	}

	logger.Info("access token refreshed", "rotated", tok.Rotated)
	return refreshed{&Resolved{Token: tok.AccessToken, Record: &updated, Refreshed: true}, "refreshed"}, nil
}

func refreshFailure(code string, err error) *Error {
	te := &Error{Kind: KindTokenRefreshFailed, ShareCode: code, Err: err}

	var re *services.RefreshError
	if errors.As(err, &re) {
		te.Status = re.Status
		te.Body = re.Body
		te.Reason = re.Reason
		if re.Transport {
			te.Kind = KindProviderTransport
			te.Reason = "token endpoint unreachable: " + re.Reason
		}
	}
	return te
}
