package repositories

import (
	"fmt"
	"time"

	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/shared"
)

const shareColumns = `id, share_code, playlist_id, playlist_name, playlist_image, owner_user_id,
	encrypted_access_token, encrypted_refresh_token, created_at, updated_at`

// scanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*models.ShareRecord, error) {
	var r models.ShareRecord
	err := row.Scan(
		&r.ID, &r.ShareCode, &r.PlaylistID, &r.PlaylistName, &r.PlaylistImage, &r.OwnerUserID,
		&r.EncryptedAccessToken, &r.EncryptedRefreshToken, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// prepareInsert assigns an id and timestamps when missing, then validates the record.
func prepareInsert(record *models.ShareRecord) error {
	if record.ID == "" {
		record.ID = shared.GenerateID()
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", shared.ErrShareNotFound, key)
}
