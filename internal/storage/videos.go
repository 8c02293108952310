package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/squatguru/formguru/internal/models"
)

const videoColumns = `id, filename, original_name, size_bytes, sha256, status,
	processed_file, uploaded_at, processed_at`

func scanVideo(row pgx.Row) (models.VideoRow, error) {
	var v models.VideoRow
	err := row.Scan(&v.ID, &v.Filename, &v.OriginalName, &v.SizeBytes, &v.SHA256,
		&v.Status, &v.ProcessedFile, &v.UploadedAt, &v.ProcessedAt)
	return v, err
}

// InsertVideo adds an uploaded video to the catalog. UploadedAt is set by
// the database and written back into v.
func (db *DB) InsertVideo(ctx context.Context, v *models.VideoRow) error {
	if v.Status == "" {
		v.Status = models.VideoStatusUploaded
	}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO videos (id, filename, original_name, size_bytes, sha256, status)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING uploaded_at`,
		v.ID, v.Filename, v.OriginalName, v.SizeBytes, v.SHA256, v.Status,
	).Scan(&v.UploadedAt)
	if err != nil {
		return fmt.Errorf("inserting video: %w", err)
	}
	return nil
}

// ListVideos returns the catalog, newest upload first.
func (db *DB) ListVideos(ctx context.Context) ([]models.VideoRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying videos: %w", err)
	}
	defer rows.Close()

	var result []models.VideoRow
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning video: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// GetVideo returns one catalog row or ErrNotFound.
func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoRow, error) {
	v, err := scanVideo(db.Pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying video %s: %w", id, err)
	}
	return &v, nil
}

// SetVideoStatus moves a video to status. processedFile is recorded, and
// processed_at stamped, only for the processed state.
func (db *DB) SetVideoStatus(ctx context.Context, id uuid.UUID, status string, processedFile *string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE videos SET
		 status = $2,
		 processed_file = COALESCE($3, processed_file),
		 processed_at = CASE WHEN $2 = 'processed' THEN now() ELSE processed_at END
		 WHERE id = $1`,
		id, status, processedFile)
	if err != nil {
		return fmt.Errorf("updating video %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVideo removes a catalog row and its processing logs, returning the
// removed row so the caller can clean up files.
func (db *DB) DeleteVideo(ctx context.Context, id uuid.UUID) (*models.VideoRow, error) {
	v, err := scanVideo(db.Pool.QueryRow(ctx,
		`DELETE FROM videos WHERE id = $1 RETURNING `+videoColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deleting video %s: %w", id, err)
	}
	return &v, nil
}
