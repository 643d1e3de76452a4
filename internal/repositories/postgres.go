package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sharelist/internal/models"
	"github.com/desertthunder/sharelist/internal/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PGX is the subset of *pgxpool.Pool used by [PGShareRepository].
type PGX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS shares (
	id TEXT PRIMARY KEY,
	share_code TEXT NOT NULL UNIQUE,
	playlist_id TEXT NOT NULL,
	playlist_name TEXT NOT NULL DEFAULT '',
	playlist_image TEXT NOT NULL DEFAULT '',
	owner_user_id TEXT NOT NULL,
	encrypted_access_token TEXT NOT NULL,
	encrypted_refresh_token TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shares_owner ON shares(owner_user_id)`

// PGShareRepository implements [models.ShareStore] for Postgres.
type PGShareRepository struct {
	db PGX
}

// NewPGShareRepository creates a new [PGShareRepository] backed by db.
func NewPGShareRepository(db PGX) *PGShareRepository {
	return &PGShareRepository{db: db}
}

// EnsureSchema creates the shares table and its index when they do not exist.
func (r *PGShareRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create shares schema: %w", err)
	}
	return nil
}

func (r *PGShareRepository) Insert(ctx context.Context, record *models.ShareRecord) (string, error) {
	if err := prepareInsert(record); err != nil {
		return "", err
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO shares (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID, record.ShareCode, record.PlaylistID, record.PlaylistName, record.PlaylistImage, record.OwnerUserID,
		record.EncryptedAccessToken, record.EncryptedRefreshToken, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%w: %s", shared.ErrShareCodeTaken, record.ShareCode)
		}
		return "", fmt.Errorf("failed to insert share: %w", err)
	}

	return record.ID, nil
}

func (r *PGShareRepository) GetByCode(ctx context.Context, code string) (*models.ShareRecord, error) {
	return r.getBy(ctx, "share_code", code)
}

func (r *PGShareRepository) Get(ctx context.Context, id string) (*models.ShareRecord, error) {
	return r.getBy(ctx, "id", id)
}

// getBy is only called with fixed column names.
func (r *PGShareRepository) getBy(ctx context.Context, column, value string) (*models.ShareRecord, error) {
	query := `SELECT ` + shareColumns + ` FROM shares WHERE ` + column + ` = $1`

	record, err := scanShare(r.db.QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query share: %w", err)
	}
	return record, nil
}

func (r *PGShareRepository) ListByOwner(ctx context.Context, owner string) ([]*models.ShareRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+shareColumns+` FROM shares WHERE owner_user_id = $1 ORDER BY created_at DESC`, owner)
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

func (r *PGShareRepository) UpdateAccessToken(ctx context.Context, id, ciphertext string) error {
	return r.exec(ctx, id,
		`UPDATE shares SET encrypted_access_token = $1, updated_at = $2 WHERE id = $3`,
		ciphertext, time.Now().UTC(), id,
	)
}

func (r *PGShareRepository) UpdateTokens(ctx context.Context, id, access, refresh string) error {
	return r.exec(ctx, id,
		`UPDATE shares SET encrypted_access_token = $1, encrypted_refresh_token = $2, updated_at = $3 WHERE id = $4`,
		access, refresh, time.Now().UTC(), id,
	)
}

func (r *PGShareRepository) exec(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}
