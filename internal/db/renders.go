package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/reelsmith/internal/models"
)

const renderColumns = `
	id, video_id, status, stage, progress, scenes, options,
	video_url, thumbnail_url, duration_seconds, file_size_bytes, metadata,
	error_message, started_at, completed_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRender(row rowScanner) (*models.Render, error) {
	r := &models.Render{}
	err := row.Scan(
		&r.ID, &r.VideoID, &r.Status, &r.Stage, &r.Progress, &r.Scenes, &r.Options,
		&r.VideoURL, &r.ThumbnailURL, &r.DurationSeconds, &r.FileSizeBytes, &r.Metadata,
		&r.ErrorMessage, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (
			id, video_id, status, progress, scenes, options
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		render.ID, render.VideoID, render.Status, render.Progress,
		render.Scenes, render.Options,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	query := `SELECT ` + renderColumns + ` FROM renders WHERE id = $1`

	render, err := scanRender(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return render, nil
}

// ListRenders returns renders ordered by creation date (newest first).
// Supports optional status filter and limit.
func (db *DB) ListRenders(ctx context.Context, status string, limit int) ([]models.Render, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + renderColumns + ` FROM renders`
	if status != "" {
		rows, err = db.QueryContext(ctx, baseSelect+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	} else {
		rows, err = db.QueryContext(ctx, baseSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	var renders []models.Render
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, *r)
	}

	return renders, rows.Err()
}

func (db *DB) UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error {
	query := `UPDATE renders SET status = $1, updated_at = NOW() WHERE id = $2`
	if status == models.RenderStatusProcessing {
		query = `UPDATE renders SET status = $1, started_at = NOW(), updated_at = NOW() WHERE id = $2`
	}
	_, err := db.ExecContext(ctx, query, status, id)
	return err
}

func (db *DB) UpdateRenderProgress(ctx context.Context, id uuid.UUID, stage string, progress float64) error {
	query := `
		UPDATE renders
		SET stage = $1, progress = GREATEST(progress, $2), updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, stage, progress, id)
	return err
}

// RequeueRender returns an interrupted render to pending so another worker
// starts it from scratch.
func (db *DB) RequeueRender(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE renders
		SET status = $1, stage = NULL, progress = 0, started_at = NULL, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusPending, id)
	return err
}

func (db *DB) CompleteRender(ctx context.Context, id uuid.UUID, out *models.RenderOutput, metadata models.JSONB) error {
	query := `
		UPDATE renders
		SET status = $1, stage = 'done', progress = 100,
			video_url = $2, thumbnail_url = NULLIF($3, ''),
			duration_seconds = $4, file_size_bytes = $5, metadata = $6,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $7
	`
	_, err := db.ExecContext(
		ctx, query,
		models.RenderStatusCompleted, out.VideoURL, out.ThumbnailURL,
		out.Duration, out.FileSize, metadata, id,
	)
	return err
}

func (db *DB) FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE renders
		SET status = $1, error_message = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusFailed, errorMessage, id)
	return err
}
