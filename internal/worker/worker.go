package worker

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/bobarin/reelsmith/internal/render"
	"github.com/bobarin/reelsmith/internal/storage"
)

// Store is the slice of the database the worker needs.
type Store interface {
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error
	UpdateRenderProgress(ctx context.Context, id uuid.UUID, stage string, progress float64) error
	CompleteRender(ctx context.Context, id uuid.UUID, out *models.RenderOutput, metadata models.JSONB) error
	FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error
	RequeueRender(ctx context.Context, id uuid.UUID) error
}

// Jobs is the job queue plus its progress channel.
type Jobs interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
	EnqueueRender(ctx context.Context, renderID uuid.UUID) error
	PublishProgress(ctx context.Context, p queue.Progress) error
	ClearProgress(ctx context.Context, renderID uuid.UUID) error
}

// Uploader publishes finished files and returns their public URL.
type Uploader interface {
	UploadFile(ctx context.Context, objectPath, localPath, contentType string) (string, error)
}

// Renderer turns scenes into a finished video.
type Renderer interface {
	Render(ctx context.Context, videoID string, scenes []models.Scene, opts models.RenderOptions, progress render.ProgressFunc) (*models.RenderOutput, error)
}

// minProgressStep throttles progress writes to whole-percent changes.
const minProgressStep = 1.0

type Worker struct {
	db       Store
	queue    Jobs
	storage  Uploader // nil when uploads are disabled
	renderer Renderer
	logger   zerolog.Logger
	pollWait time.Duration
}

func New(database Store, q Jobs, stor Uploader, renderer Renderer, logger zerolog.Logger) *Worker {
	return &Worker{
		db:       database,
		queue:    q,
		storage:  stor,
		renderer: renderer,
		logger:   logger.With().Str("component", "worker").Logger(),
		pollWait: 5 * time.Second,
	}
}

// Start runs concurrency render loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	w.logger.Info().Int("concurrency", concurrency).Msg("worker started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			w.processQueue(gctx)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info().Msg("worker shutting down")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queue.QueueRender, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue // No job available, retry
		}

		logger := w.logger.With().Str("job_id", job.ID.String()).Str("render_id", job.RenderID.String()).Logger()
		logger.Info().Msg("processing render job")

		if err := w.HandleRender(ctx, job.RenderID); err != nil {
			logger.Error().Err(err).Msg("render failed")
		} else {
			logger.Info().Msg("render completed")
		}
	}
}

// HandleRender renders one queued render row, uploads the results when
// storage is configured, and records the outcome. A render interrupted by
// ctx cancellation goes back on the queue instead of failing.
func (w *Worker) HandleRender(ctx context.Context, renderID uuid.UUID) error {
	rec, err := w.db.GetRender(ctx, renderID)
	if err != nil {
		return fmt.Errorf("failed to get render: %w", err)
	}
	if rec.Status.Terminal() {
		w.logger.Warn().Str("render_id", renderID.String()).Str("status", string(rec.Status)).Msg("render already finished, skipping")
		return nil
	}

	if err := w.db.UpdateRenderStatus(ctx, renderID, models.RenderStatusProcessing); err != nil {
		return fmt.Errorf("failed to update render status: %w", err)
	}

	out, err := w.render(ctx, rec)

	// Outcomes are recorded even while shutting down.
	bg := context.WithoutCancel(ctx)
	defer w.clearProgress(bg, renderID)

	if err != nil {
		if ctx.Err() != nil {
			return w.requeue(bg, renderID, err)
		}
		w.fail(bg, renderID, err.Error())
		return err
	}

	metadata := models.JSONB{
		"legacy":        out.Legacy,
		"video_path":    out.VideoPath,
		"stage_timings": out.StageTimings,
	}
	if err := w.db.CompleteRender(bg, renderID, out, metadata); err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}
	return nil
}

func (w *Worker) requeue(ctx context.Context, renderID uuid.UUID, cause error) error {
	if err := w.db.RequeueRender(ctx, renderID); err != nil {
		w.fail(ctx, renderID, "interrupted by shutdown")
		return fmt.Errorf("failed to requeue interrupted render: %w", err)
	}
	if err := w.queue.EnqueueRender(ctx, renderID); err != nil {
		w.fail(ctx, renderID, "interrupted by shutdown")
		return fmt.Errorf("failed to requeue interrupted render: %w", err)
	}
	w.logger.Warn().Str("render_id", renderID.String()).Msg("render interrupted, requeued")
	return fmt.Errorf("render interrupted: %w", cause)
}

func (w *Worker) fail(ctx context.Context, renderID uuid.UUID, msg string) {
	if err := w.db.FailRender(ctx, renderID, msg); err != nil {
		w.logger.Error().Err(err).Str("render_id", renderID.String()).Msg("failed to record render failure")
	}
}

// clearProgress drops the live progress entry once the database row holds
// the outcome.
func (w *Worker) clearProgress(ctx context.Context, renderID uuid.UUID) {
	if err := w.queue.ClearProgress(ctx, renderID); err != nil {
		w.logger.Warn().Err(err).Str("render_id", renderID.String()).Msg("failed to clear progress")
	}
}

func (w *Worker) render(ctx context.Context, rec *models.Render) (*models.RenderOutput, error) {
	if err := w.db.UpdateRenderStatus(ctx, rec.ID, models.RenderStatusRendering); err != nil {
		return nil, fmt.Errorf("failed to update render status: %w", err)
	}

	out, err := w.renderer.Render(ctx, rec.VideoID, rec.Scenes, rec.Options, w.progress(ctx, rec.ID))
	if err != nil {
		return nil, err
	}

	if w.storage != nil {
		if err := w.upload(ctx, rec.ID, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// progress returns a callback that persists and publishes progress at most
// once per whole percent, always letting stage changes and completion through.
func (w *Worker) progress(ctx context.Context, renderID uuid.UUID) render.ProgressFunc {
	var (
		mu        sync.Mutex
		last      = -math.MaxFloat64
		lastStage string
	)
	return func(percent float64, stage string) {
		mu.Lock()
		if percent-last < minProgressStep && stage == lastStage && percent < 100 {
			mu.Unlock()
			return
		}
		last, lastStage = percent, stage
		mu.Unlock()

		if err := w.db.UpdateRenderProgress(ctx, renderID, stage, percent); err != nil {
			w.logger.Warn().Err(err).Str("render_id", renderID.String()).Msg("failed to store progress")
		}
		if err := w.queue.PublishProgress(ctx, queue.Progress{RenderID: renderID, Percent: percent, Stage: stage}); err != nil {
			w.logger.Warn().Err(err).Str("render_id", renderID.String()).Msg("failed to publish progress")
		}
	}
}

// upload publishes the video and thumbnail in parallel and swaps the local
// URLs for public ones.
func (w *Worker) upload(ctx context.Context, renderID uuid.UUID, out *models.RenderOutput) error {
	var videoURL, thumbURL string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := w.storage.UploadFile(gctx, storage.RenderPath(renderID, filepath.Base(out.VideoPath)), out.VideoPath, "video/mp4")
		if err != nil {
			return fmt.Errorf("failed to upload video: %w", err)
		}
		videoURL = url
		return nil
	})
	if out.ThumbnailPath != "" {
		g.Go(func() error {
			url, err := w.storage.UploadFile(gctx, storage.RenderPath(renderID, filepath.Base(out.ThumbnailPath)), out.ThumbnailPath, "image/jpeg")
			if err != nil {
				// A missing thumbnail never fails the render.
				w.logger.Warn().Err(err).Str("render_id", renderID.String()).Msg("thumbnail upload failed")
				return nil
			}
			thumbURL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out.VideoURL = videoURL
	if thumbURL != "" {
		out.ThumbnailURL = thumbURL
	}
	return nil
}
