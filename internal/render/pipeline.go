package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/reelsmith/internal/models"
)

// Render runs the scene-clip pipeline: every scene is encoded to its own
// clip, the clips are joined, music and overlay are added, and a thumbnail is
// taken. When the toolchain cannot run that pipeline the legacy renderer
// takes over and its progress fills only the first LegacyProgressCeiling
// percent.
func (r *Renderer) Render(ctx context.Context, videoID string, scenes []models.Scene, opts models.RenderOptions, progress ProgressFunc) (*models.RenderOutput, error) {
	caps := r.tools.Probe(ctx)
	t := newTracker(progress, 0, 100)

	if !caps.Fast() {
		r.logger.Warn().
			Str("video_id", videoID).
			Bool("ffmpeg", caps.FFmpeg).
			Bool("ffprobe", caps.FFprobe).
			Bool("h264", caps.H264).
			Msg("fast toolchain unavailable, using legacy renderer")
		out, err := r.renderLegacy(ctx, videoID, scenes, opts, caps.FFmpeg, caps.Encoder(), newTracker(progress, 0, LegacyProgressCeiling))
		if err != nil {
			return nil, err
		}
		t.done()
		return out, nil
	}

	j, err := r.prepare(videoID, scenes, opts, caps.Encoder())
	if err != nil {
		return nil, err
	}
	j.logger.Info().
		Int("scenes", len(j.scenes)).
		Int("width", j.width).
		Int("height", j.height).
		Int("fps", j.fps).
		Str("preset", j.preset.Name).
		Str("transition", string(j.transition)).
		Msg("starting render")

	timings := make(map[string]float64)
	timed := func(stage Stage, fn func() error) error {
		start := time.Now()
		t.stage(stage, 0)
		err := fn()
		elapsed := time.Since(start).Seconds()
		timings[string(stage)] = elapsed
		j.logger.Info().Str("stage", string(stage)).Float64("elapsed", elapsed).Err(err).Msg("stage finished")
		return err
	}

	clips := make([]*SceneClip, 0, len(j.scenes))
	err = timed(StageRenderingScenes, func() error {
		n := float64(len(j.scenes))
		for i, scene := range j.scenes {
			if err := ctx.Err(); err != nil {
				return err
			}
			clip, err := r.renderScene(ctx, j, scene, t.within(StageRenderingScenes, float64(i)/n, float64(i+1)/n))
			if err != nil {
				return &SceneError{SceneNumber: scene.SceneNumber, Err: err}
			}
			clips = append(clips, clip)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	durations := make([]float64, len(clips))
	for i, c := range clips {
		durations[i] = c.Duration
	}
	plan := r.planTransitions(j.transition, j.transitionDur, durations)

	concatPath := j.path("concat_temp.mp4")
	defer removeAll(concatPath)

	var (
		expected float64
		bridges  []string
	)
	err = timed(StageConcatenating, func() error {
		var err error
		expected, bridges, err = r.concatenate(ctx, j, clips, plan, concatPath, t)
		return err
	})
	if err != nil {
		// scene clips stay for diagnosis, bridges are rebuilt from them
		removeAll(bridges...)
		return nil, &StageError{Stage: StageConcatenating, Err: err}
	}

	final := j.path("final.mp4")
	err = timed(StagePostProcessing, func() error {
		return r.postProcess(ctx, j, concatPath, final, expected, t)
	})
	if err != nil {
		return nil, &StageError{Stage: StagePostProcessing, Err: err}
	}

	thumb := j.path("thumb.jpg")
	err = timed(StageThumbnail, func() error {
		return r.tools.ExtractThumbnail(ctx, final, thumb)
	})
	if err != nil {
		j.logger.Warn().Err(err).Msg("thumbnail extraction failed")
		thumb = ""
	}

	for _, c := range clips {
		removeAll(c.Path)
	}
	removeAll(bridges...)

	out, err := r.output(ctx, j, final, thumb, expected)
	if err != nil {
		return nil, err
	}
	out.StageTimings = timings
	t.done()
	j.logger.Info().Str("video", final).Int("duration", out.Duration).Int64("size", out.FileSize).Msg("render complete")
	return out, nil
}

// output describes a finished video file.
func (r *Renderer) output(ctx context.Context, j *job, video, thumb string, planned float64) (*models.RenderOutput, error) {
	info, err := os.Stat(video)
	if err != nil {
		return nil, fmt.Errorf("stat final video: %w", err)
	}
	duration := planned
	if d, err := r.tools.MediaDuration(ctx, video); err == nil && d > 0 {
		duration = d
	} else if err != nil {
		j.logger.Warn().Err(err).Msg("could not probe final video, using planned duration")
	}

	out := &models.RenderOutput{
		VideoPath: video,
		VideoURL:  "/uploads/" + filepath.Base(video),
		Duration:  int(duration),
		FileSize:  info.Size(),
	}
	if thumb != "" {
		out.ThumbnailPath = thumb
		out.ThumbnailURL = "/uploads/" + filepath.Base(thumb)
	}
	return out, nil
}
