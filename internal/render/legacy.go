package render

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"sort"
	"time"

	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

const thumbnailQuality = 85

// RenderLegacy renders the whole video as one in-memory timeline encoded in
// a single ffmpeg pass. It needs only an ffmpeg binary.
func (r *Renderer) RenderLegacy(ctx context.Context, videoID string, scenes []models.Scene, opts models.RenderOptions, progress ProgressFunc) (*models.RenderOutput, error) {
	caps := r.tools.Probe(ctx)
	t := newTracker(progress, 0, 100)
	out, err := r.renderLegacy(ctx, videoID, scenes, opts, caps.FFmpeg, caps.Encoder(), t)
	if err != nil {
		return nil, err
	}
	t.done()
	return out, nil
}

func (r *Renderer) renderLegacy(ctx context.Context, videoID string, scenes []models.Scene, opts models.RenderOptions, hasFFmpeg bool, encoder string, t *tracker) (*models.RenderOutput, error) {
	j, err := r.prepare(videoID, scenes, opts, encoder)
	if err != nil {
		return nil, err
	}
	if !hasFFmpeg {
		return nil, ErrToolchainUnavailable
	}
	j.logger.Info().Int("scenes", len(j.scenes)).Str("encoder", encoder).Msg("starting legacy render")

	start := time.Now()
	t.stage(StageLegacyRender, 0)
	tl, err := r.buildTimeline(ctx, j, t)
	if err != nil {
		return nil, err
	}

	final := j.path("final.mp4")
	tmp := j.path("final_legacy_tmp.mp4")
	err = r.tools.EncodeFrames(ctx, services.FrameJob{
		Frames:      tl.frame,
		Width:       j.width,
		Height:      j.height,
		FPS:         j.fps,
		Duration:    tl.duration,
		Audio:       tl.audio,
		MusicPath:   j.musicPath,
		OverlayPath: j.overlayPath,
		Params:      j.params,
		Output:      tmp,
		Progress:    t.within(StageLegacyRender, 0.5, 1),
	})
	if err != nil {
		removeAll(tmp)
		return nil, &StageError{Stage: StageLegacyRender, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		removeAll(tmp)
		return nil, &StageError{Stage: StageLegacyRender, Err: err}
	}

	// The overlay only exists in the encoded file, so composited thumbnails
	// come from ffmpeg. Without one, frame 0 of the timeline is identical.
	thumb := j.path("thumb.jpg")
	if j.overlayPath != "" {
		err = r.tools.ExtractThumbnail(ctx, final, thumb)
	} else {
		err = writeJPEG(thumb, tl.frame(0))
	}
	if err != nil {
		j.logger.Warn().Err(err).Msg("thumbnail write failed")
		thumb = ""
	}

	out, err := r.output(ctx, j, final, thumb, tl.duration)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Seconds()
	out.Legacy = true
	out.StageTimings = map[string]float64{string(StageLegacyRender): elapsed}
	j.logger.Info().Str("video", final).Float64("elapsed", elapsed).Int("duration", out.Duration).Msg("legacy render complete")
	return out, nil
}

// segment is one clip placed on the timeline.
type segment struct {
	start    float64
	duration float64
	frames   effects.FrameFunc
	fadeIn   float64
	fadeOut  float64
}

type timeline struct {
	segments []segment
	audio    []services.AudioPlacement
	duration float64
}

type legacyScene struct {
	base     *image.RGBA
	frames   effects.FrameFunc
	duration float64
	audio    string
}

// buildTimeline lays out every scene with the same transitions the scene-clip
// pipeline would produce: crossfades overlap neighbours, fade_black darkens
// clip edges, and other kinds insert a bridging segment.
func (r *Renderer) buildTimeline(ctx context.Context, j *job, t *tracker) (*timeline, error) {
	entries := make([]legacyScene, 0, len(j.scenes))
	durations := make([]float64, 0, len(j.scenes))
	n := float64(len(j.scenes))
	for i, scene := range j.scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base, err := loadSceneImage(scene.ImagePath, j.width, j.height)
		if err != nil {
			return nil, &SceneError{SceneNumber: scene.SceneNumber, Err: err}
		}
		duration, audio := r.sceneDuration(ctx, j, scene)
		frames, err := j.sceneFrames(base, scene.Text, duration)
		if err != nil {
			return nil, &SceneError{SceneNumber: scene.SceneNumber, Err: err}
		}
		entries = append(entries, legacyScene{base: base, frames: frames, duration: duration, audio: audio})
		durations = append(durations, duration)
		t.stage(StageLegacyRender, 0.5*float64(i+1)/n)
	}

	plan := r.planTransitions(j.transition, j.transitionDur, durations)
	mode := selectConcatMode(j.transition, plan)
	j.logger.Debug().Str("mode", mode.String()).Msg("assembling timeline")

	tl := &timeline{}
	at := 0.0
	for i, e := range entries {
		seg := segment{start: at, duration: e.duration, frames: e.frames}
		var inEdge, outEdge float64
		if mode == concatFadeBlack || mode == concatCrossfade {
			if i > 0 {
				inEdge = plan[i-1].Duration
			}
			if i < len(plan) {
				outEdge = plan[i].Duration
			}
		}
		if mode == concatFadeBlack {
			seg.fadeIn, seg.fadeOut = inEdge, outEdge
		}
		tl.segments = append(tl.segments, seg)
		if e.audio != "" {
			tl.audio = append(tl.audio, services.AudioPlacement{
				Path:    e.audio,
				At:      at,
				Length:  e.duration,
				FadeIn:  inEdge,
				FadeOut: outEdge,
			})
		}
		at += e.duration

		if i >= len(plan) || !plan[i].active() {
			continue
		}
		switch mode {
		case concatCrossfade:
			at -= plan[i].Duration
		case concatBridges:
			next := entries[i+1]
			prevIn := effects.BridgeInput{Frame: e.base, Duration: e.duration}
			nextIn := effects.BridgeInput{Frame: next.base, Duration: next.duration}
			if j.bridgeAudio {
				prevIn.AudioPath = e.audio
				nextIn.AudioPath = next.audio
			}
			bridge := effects.CreateTransitionClip(prevIn, nextIn, plan[i].Kind, plan[i].Duration, j.width, j.height, j.fps)
			if bridge == nil {
				continue
			}
			tl.segments = append(tl.segments, segment{start: at, duration: bridge.Duration, frames: bridge.Frames})
			tl.audio = append(tl.audio, placements(bridge.Audio, at)...)
			at += bridge.Duration
		}
	}
	tl.duration = at
	return tl, nil
}

// frame renders the timeline at t.
func (tl *timeline) frame(t float64) *image.RGBA {
	if t > tl.duration {
		t = tl.duration
	}
	idx := sort.Search(len(tl.segments), func(i int) bool { return tl.segments[i].start > t }) - 1
	if idx < 0 {
		idx = 0
	}
	seg := tl.segments[idx]
	local := t - seg.start
	if local > seg.duration {
		local = seg.duration
	}
	img := seg.frames(local)

	if idx > 0 {
		prev := tl.segments[idx-1]
		if end := prev.start + prev.duration; t < end && end > seg.start {
			img = effects.Blend(prev.frames(t-prev.start), img, local/(end-seg.start))
		}
	}

	level := 1.0
	if seg.fadeIn > 0 && local < seg.fadeIn {
		level = local / seg.fadeIn
	}
	if seg.fadeOut > 0 && seg.duration-local < seg.fadeOut {
		level = min(level, (seg.duration-local)/seg.fadeOut)
	}
	if level < 1 {
		img = effects.Clone(img)
		effects.FadeToBlack(img, level)
	}
	return img
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return f.Close()
}
