package render

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/webp"

	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

const (
	// charsPerSecond estimates narration speed for scenes without audio.
	charsPerSecond     = 12.5
	minSceneDuration   = 2.0
	silentSceneSeconds = 2.0
)

// SceneClip is one encoded scene and its exact length.
type SceneClip struct {
	SceneNumber int
	Path        string
	Duration    float64
	ImagePath   string
	AudioPath   string
}

// RenderSceneClip renders a single scene with the given options.
func (r *Renderer) RenderSceneClip(ctx context.Context, videoID string, scene models.Scene, opts models.RenderOptions) (*SceneClip, error) {
	caps := r.tools.Probe(ctx)
	if !caps.FFmpeg {
		return nil, ErrToolchainUnavailable
	}
	j, err := r.prepare(videoID, []models.Scene{scene}, opts, caps.Encoder())
	if err != nil {
		return nil, err
	}
	clip, err := r.renderScene(ctx, j, j.scenes[0], nil)
	if err != nil {
		return nil, &SceneError{SceneNumber: scene.SceneNumber, Err: err}
	}
	return clip, nil
}

func (r *Renderer) renderScene(ctx context.Context, j *job, scene models.Scene, progress services.ProgressFunc) (*SceneClip, error) {
	logger := j.logger.With().Int("scene", scene.SceneNumber).Logger()

	base, err := loadSceneImage(scene.ImagePath, j.width, j.height)
	if err != nil {
		return nil, err
	}
	duration, audio := r.sceneDuration(ctx, j, scene)
	frames, err := j.sceneFrames(base, scene.Text, duration)
	if err != nil {
		return nil, err
	}

	var placements []services.AudioPlacement
	if audio != "" {
		placements = append(placements, services.AudioPlacement{Path: audio, Length: duration})
	}

	out := j.path(fmt.Sprintf("scene_%d_clip.mp4", scene.SceneNumber))
	err = r.tools.EncodeFrames(ctx, services.FrameJob{
		Frames:   frames,
		Width:    j.width,
		Height:   j.height,
		FPS:      j.fps,
		Duration: duration,
		Audio:    placements,
		Params:   j.params,
		Output:   out,
		Progress: progress,
	})
	if err != nil {
		return nil, fmt.Errorf("encode scene clip: %w", err)
	}

	logger.Info().Float64("duration", duration).Str("clip", out).Msg("scene rendered")
	return &SceneClip{
		SceneNumber: scene.SceneNumber,
		Path:        out,
		Duration:    duration,
		ImagePath:   scene.ImagePath,
		AudioPath:   audio,
	}, nil
}

// sceneFrames animates the base image and layers subtitles on top.
func (j *job) sceneFrames(base *image.RGBA, text string, duration float64) (effects.FrameFunc, error) {
	frames := effects.Animate(base, j.animation, duration, j.width, j.height, j.intensity)
	if !j.style.Enabled || strings.TrimSpace(text) == "" {
		return frames, nil
	}
	segments, err := effects.BuildSubtitleClips(text, j.width, j.height, duration, j.font, j.style)
	if err != nil {
		return nil, fmt.Errorf("build subtitles: %w", err)
	}
	return effects.Compose(frames, segments), nil
}

// sceneDuration returns the scene length and the narration file to use.
// Probed narration always wins; an unusable file falls back to the estimate.
func (r *Renderer) sceneDuration(ctx context.Context, j *job, scene models.Scene) (float64, string) {
	if scene.AudioPath != "" {
		logger := j.logger.With().Int("scene", scene.SceneNumber).Str("audio", scene.AudioPath).Logger()
		if _, err := os.Stat(scene.AudioPath); err != nil {
			logger.Warn().Err(err).Msg("narration audio missing, estimating duration")
		} else if d, err := r.tools.MediaDuration(ctx, scene.AudioPath); err != nil || d <= 0 {
			logger.Warn().Err(err).Msg("narration audio unreadable, estimating duration")
		} else {
			return d, scene.AudioPath
		}
	}
	return EstimateDuration(scene), ""
}

// EstimateDuration is the length of a scene without narration.
func EstimateDuration(scene models.Scene) float64 {
	if scene.Duration > 0 {
		return scene.Duration
	}
	text := strings.TrimSpace(scene.Text)
	if text == "" {
		return silentSceneSeconds
	}
	return math.Max(minSceneDuration, float64(utf8.RuneCountInString(text))/charsPerSecond)
}

// loadSceneImage decodes an image and fits it to the frame.
func loadSceneImage(path string, width, height int) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidScene, path, err)
	}
	return effects.FitToFrame(img, width, height), nil
}
