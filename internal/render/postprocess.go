package render

import (
	"context"
	"fmt"

	"github.com/bobarin/reelsmith/internal/services"
)

// postProcess adds music and overlay to input in one pass. If that pass
// fails it retries the same compositing as two separate steps.
func (r *Renderer) postProcess(ctx context.Context, j *job, input, output string, duration float64, t *tracker) error {
	pj := services.PostJob{
		Input:       input,
		Output:      output,
		MusicPath:   j.musicPath,
		OverlayPath: j.overlayPath,
		Width:       j.width,
		Height:      j.height,
		Duration:    duration,
		Params:      j.params,
		Progress:    t.within(StagePostProcessing, 0, 1),
	}
	err := r.tools.PostProcess(ctx, pj)
	if err == nil {
		return nil
	}
	if j.musicPath == "" && j.overlayPath == "" {
		return err
	}

	j.logger.Warn().Err(err).Msg("single-pass post-processing failed, compositing step by step")
	removeAll(output)
	if ferr := r.postProcessSteps(ctx, j, pj); ferr != nil {
		return fmt.Errorf("post-processing fallback: %w (fast path: %v)", ferr, err)
	}
	return nil
}

func (r *Renderer) postProcessSteps(ctx context.Context, j *job, pj services.PostJob) error {
	if pj.MusicPath != "" && pj.OverlayPath != "" {
		mid := j.path("music_temp.mp4")
		defer removeAll(mid)

		step := pj
		step.Output = mid
		step.Progress = pj.Progress.Within(0, 0.5)
		if err := r.tools.MixBackgroundMusic(ctx, step); err != nil {
			return err
		}
		step = pj
		step.Input = mid
		step.Output = pj.Output
		step.Progress = pj.Progress.Within(0.5, 1)
		return r.tools.OverlayVideo(ctx, step)
	}

	if pj.MusicPath != "" {
		return r.tools.MixBackgroundMusic(ctx, pj)
	}
	return r.tools.OverlayVideo(ctx, pj)
}
