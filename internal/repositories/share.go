package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// ShareRepository implements [models.ShareStore] for SQLite.
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new [ShareRepository] with the given database connection
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// Insert stores a new share record, assigning an id when none is set.
func (r *ShareRepository) Insert(ctx context.Context, record *models.ShareRecord) (string, error) {
	if err := prepareInsert(record); err != nil {
		return "", err
	}

	query := `
		INSERT INTO shares (` + shareColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.ShareCode, record.PlaylistID, record.PlaylistName, record.PlaylistImage, record.OwnerUserID,
		record.EncryptedAccessToken, record.EncryptedRefreshToken, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", fmt.Errorf("%w: %s", shared.ErrShareCodeTaken, record.ShareCode)
		}
		return "", fmt.Errorf("failed to insert share: %w", err)
	}

	return record.ID, nil
}

// GetByCode retrieves a share by its public share code
func (r *ShareRepository) GetByCode(ctx context.Context, code string) (*models.ShareRecord, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE share_code = ?`

	record, err := scanShare(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, notFound(code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query share: %w", err)
	}
	return record, nil
}

// Get retrieves a share by internal id
func (r *ShareRepository) Get(ctx context.Context, id string) (*models.ShareRecord, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE id = ?`

	record, err := scanShare(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query share: %w", err)
	}
	return record, nil
}

// ListByOwner returns every share created by owner, newest first.
func (r *ShareRepository) ListByOwner(ctx context.Context, owner string) ([]*models.ShareRecord, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE owner_user_id = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var records []*models.ShareRecord
	for rows.Next() {
		record, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// UpdateAccessToken rewrites the access token ciphertext of the share with id.
func (r *ShareRepository) UpdateAccessToken(ctx context.Context, id, ciphertext string) error {
	query := `UPDATE shares SET encrypted_access_token = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, id, query, ciphertext, time.Now().UTC(), id)
}

// UpdateTokens rewrites both token ciphertexts of the share with id.
func (r *ShareRepository) UpdateTokens(ctx context.Context, id, access, refresh string) error {
	query := `
		UPDATE shares
		SET encrypted_access_token = ?, encrypted_refresh_token = ?, updated_at = ?
		WHERE id = ?
	`
	return r.exec(ctx, id, query, access, refresh, time.Now().UTC(), id)
}

func (r *ShareRepository) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update share: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return notFound(id)
	}
	return nil
}
