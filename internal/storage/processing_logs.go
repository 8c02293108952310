package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Processing log states.
const (
	ProcessingRunning = "running"
	ProcessingSuccess = "success"
	ProcessingError   = "error"
)

// ProcessingLog records one run of the pipeline over a video. It carries
// operational data only; the analysis summary itself is returned to the
// caller and not stored.
type ProcessingLog struct {
	ID             int64            `json:"id"`
	VideoID        uuid.UUID        `json:"video_id"`
	CreatedAt      time.Time        `json:"created_at"`
	Status         string           `json:"status"`
	Frames         int              `json:"frames"`
	FramesWithPose int              `json:"frames_with_pose"`
	DurationMs     *int             `json:"duration_ms"`
	ErrorMessage   *string          `json:"error_message"`
	Metadata       *json.RawMessage `json:"metadata"`
}

// InsertProcessingLog creates a new processing log entry and returns its ID.
func (db *DB) InsertProcessingLog(ctx context.Context, log ProcessingLog) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO processing_logs (video_id, status, frames, frames_with_pose,
		 duration_ms, error_message, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 RETURNING id`,
		log.VideoID, log.Status, log.Frames, log.FramesWithPose,
		log.DurationMs, log.ErrorMessage, log.Metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting processing log: %w", err)
	}
	return id, nil
}

// UpdateProcessingLog finalizes an entry, typically from "running" to "success" or "error".
func (db *DB) UpdateProcessingLog(ctx context.Context, id int64, log ProcessingLog) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE processing_logs SET
		 status = $2, frames = $3, frames_with_pose = $4,
		 duration_ms = $5, error_message = $6, metadata = $7
		 WHERE id = $1`,
		id, log.Status, log.Frames, log.FramesWithPose,
		log.DurationMs, log.ErrorMessage, log.Metadata,
	)
	if err != nil {
		return fmt.Errorf("updating processing log %d: %w", id, err)
	}
	return nil
}

// QueryProcessingLogs returns the most recent processing logs for a video.
func (db *DB) QueryProcessingLogs(ctx context.Context, videoID uuid.UUID, limit int) ([]ProcessingLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, video_id, created_at, status, frames, frames_with_pose,
		 duration_ms, error_message, metadata
		 FROM processing_logs
		 WHERE video_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		videoID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying processing logs: %w", err)
	}
	defer rows.Close()

	var result []ProcessingLog
	for rows.Next() {
		var l ProcessingLog
		if err := rows.Scan(&l.ID, &l.VideoID, &l.CreatedAt, &l.Status,
			&l.Frames, &l.FramesWithPose, &l.DurationMs, &l.ErrorMessage, &l.Metadata); err != nil {
			return nil, fmt.Errorf("scanning processing log: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
