package models

import (
	"context"
	"fmt"
	"time"
)

// ShareRecord is the persisted unit of delegation created when an owner shares a playlist.
//
// ShareCode, PlaylistID and OwnerUserID never change after creation. EncryptedAccessToken is
// rewritten on every successful refresh and EncryptedRefreshToken only when the provider rotates it.
type ShareRecord struct {
	ID                    string    `json:"id"`
	ShareCode             string    `json:"share_code"`
	PlaylistID            string    `json:"playlist_id"`
	PlaylistName          string    `json:"playlist_name"`
	PlaylistImage         string    `json:"playlist_image"`
	OwnerUserID           string    `json:"owner_user_id"`
	EncryptedAccessToken  string    `json:"-"`
	EncryptedRefreshToken string    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Validate checks the fields every stored record must carry.
func (r *ShareRecord) Validate() error {
	switch {
	case r.ShareCode == "":
		return fmt.Errorf("share code is required")
	case r.PlaylistID == "":
		return fmt.Errorf("playlist id is required")
	case r.OwnerUserID == "":
		return fmt.Errorf("owner user id is required")
	case r.EncryptedAccessToken == "" || r.EncryptedRefreshToken == "":
		return fmt.Errorf("encrypted tokens are required")
	}
	return nil
}

// ShareStore persists [ShareRecord] values.
//
// Implementations return shared.ErrShareNotFound for missing records and
// shared.ErrShareCodeTaken when Insert collides on share code.
type ShareStore interface {
	// GetByCode looks a record up by its public share code.
	GetByCode(ctx context.Context, code string) (*ShareRecord, error)
	// Get looks a record up by internal id.
	Get(ctx context.Context, id string) (*ShareRecord, error)
	// Insert stores a new record and returns its id.
	Insert(ctx context.Context, record *ShareRecord) (string, error)
	// UpdateAccessToken rewrites only the access token column of the record with id.
	UpdateAccessToken(ctx context.Context, id, ciphertext string) error
	// UpdateTokens rewrites both token columns after the provider rotated the refresh token.
	UpdateTokens(ctx context.Context, id, access, refresh string) error
}

// ShareLister is implemented by stores that can enumerate an owner's shares.
type ShareLister interface {
	ListByOwner(ctx context.Context, owner string) ([]*ShareRecord, error)
}
