package render

import (
	"context"
	"fmt"
	"os"

	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/services"
)

// boundary is the transition between scene i and i+1.
type boundary struct {
	Kind     effects.Transition
	Duration float64
}

func (b boundary) active() bool {
	return b.Kind != effects.TransitionNone && b.Duration > 0
}

// planTransitions resolves one transition per boundary. Random kinds are
// drawn independently for each boundary; durations are clamped against the
// two neighbouring scenes.
func (r *Renderer) planTransitions(kind effects.Transition, requested float64, durations []float64) []boundary {
	if len(durations) < 2 {
		return nil
	}
	plan := make([]boundary, len(durations)-1)
	for i := range plan {
		k := kind
		if k == effects.TransitionRandom {
			k = r.randomTransition()
		}
		d := effects.ClampTransitionDuration(requested, durations[i], durations[i+1])
		if k == effects.TransitionNone || d <= 0 {
			plan[i] = boundary{Kind: effects.TransitionNone}
			continue
		}
		plan[i] = boundary{Kind: k, Duration: d}
	}
	return plan
}

type concatMode int

const (
	concatCopy concatMode = iota
	concatCrossfade
	concatFadeBlack
	concatBridges
)

func (m concatMode) String() string {
	switch m {
	case concatCrossfade:
		return "crossfade"
	case concatFadeBlack:
		return "fade_black"
	case concatBridges:
		return "bridges"
	}
	return "copy"
}

func selectConcatMode(kind effects.Transition, plan []boundary) concatMode {
	active := false
	for _, b := range plan {
		if b.active() {
			active = true
			break
		}
	}
	switch {
	case !active:
		return concatCopy
	case kind == effects.TransitionCrossfade:
		return concatCrossfade
	case kind == effects.TransitionFadeBlack:
		return concatFadeBlack
	}
	return concatBridges
}

// concatenate joins scene clips into output and returns the expected length
// of the result plus any bridge files it created.
func (r *Renderer) concatenate(ctx context.Context, j *job, clips []*SceneClip, plan []boundary, output string, t *tracker) (float64, []string, error) {
	mode := selectConcatMode(j.transition, plan)
	j.logger.Info().Int("clips", len(clips)).Str("mode", mode.String()).Msg("concatenating scenes")

	paths := make([]string, len(clips))
	durations := make([]float64, len(clips))
	total := 0.0
	for i, c := range clips {
		paths[i] = c.Path
		durations[i] = c.Duration
		total += c.Duration
	}

	switch mode {
	case concatCrossfade:
		overlaps := make([]float64, len(plan))
		for i, b := range plan {
			overlaps[i] = b.Duration
			total -= b.Duration
		}
		err := r.tools.ConcatCrossfade(ctx, services.CrossfadeJob{
			Inputs:    paths,
			Durations: durations,
			Overlaps:  overlaps,
			Output:    output,
			Params:    j.params,
			FPS:       j.fps,
			Progress:  t.within(StageConcatenating, 0, 1),
		})
		return total, nil, err

	case concatFadeBlack:
		fadeIn := make([]float64, len(clips))
		fadeOut := make([]float64, len(clips))
		for i, b := range plan {
			fadeOut[i] = b.Duration
			fadeIn[i+1] = b.Duration
		}
		err := r.tools.ConcatFadeBlack(ctx, services.FadeJob{
			Inputs:    paths,
			Durations: durations,
			FadeIn:    fadeIn,
			FadeOut:   fadeOut,
			Output:    output,
			Params:    j.params,
			FPS:       j.fps,
			Progress:  t.within(StageConcatenating, 0, 1),
		})
		return total, nil, err

	case concatBridges:
		sequence, bridges, extra, err := r.encodeBridges(ctx, j, clips, plan, t)
		if err != nil {
			return 0, bridges, err
		}
		total += extra
		err = r.tools.Concat(ctx, services.ConcatJob{
			Inputs:   sequence,
			Manifest: j.path("concat_temp_concat.txt"),
			Output:   output,
			ReEncode: true,
			Params:   j.params,
			FPS:      j.fps,
			Duration: total,
			Progress: t.within(StageConcatenating, 0.5, 1),
		})
		return total, bridges, err
	}

	err := r.tools.Concat(ctx, services.ConcatJob{
		Inputs:   paths,
		Manifest: j.path("concat_temp_concat.txt"),
		Output:   output,
		Duration: total,
		Progress: t.within(StageConcatenating, 0, 1),
	})
	return total, nil, err
}

// encodeBridges renders a bridging clip for every active boundary and
// returns the interleaved clip sequence.
func (r *Renderer) encodeBridges(ctx context.Context, j *job, clips []*SceneClip, plan []boundary, t *tracker) ([]string, []string, float64, error) {
	var (
		sequence []string
		bridges  []string
		extra    float64
	)
	inputs := make(map[int]effects.BridgeInput)
	load := func(i int) (effects.BridgeInput, error) {
		if in, ok := inputs[i]; ok {
			return in, nil
		}
		img, err := loadSceneImage(clips[i].ImagePath, j.width, j.height)
		if err != nil {
			return effects.BridgeInput{}, err
		}
		in := effects.BridgeInput{Frame: img, Duration: clips[i].Duration}
		if j.bridgeAudio {
			in.AudioPath = clips[i].AudioPath
		}
		inputs[i] = in
		return in, nil
	}

	active := 0
	for _, b := range plan {
		if b.active() {
			active++
		}
	}
	done := 0

	for i, c := range clips {
		sequence = append(sequence, c.Path)
		if i >= len(plan) || !plan[i].active() {
			continue
		}
		// only the two neighbours of a boundary are ever needed
		delete(inputs, i-1)
		prev, err := load(i)
		if err != nil {
			return nil, bridges, 0, err
		}
		next, err := load(i + 1)
		if err != nil {
			return nil, bridges, 0, err
		}

		bridge := effects.CreateTransitionClip(prev, next, plan[i].Kind, plan[i].Duration, j.width, j.height, j.fps)
		if bridge == nil {
			continue
		}
		out := j.path(fmt.Sprintf("bridge_%d.mp4", i+1))
		lo := 0.5 * float64(done) / float64(active)
		hi := 0.5 * float64(done+1) / float64(active)
		err = r.tools.EncodeFrames(ctx, services.FrameJob{
			Frames:   bridge.Frames,
			Width:    j.width,
			Height:   j.height,
			FPS:      j.fps,
			Duration: bridge.Duration,
			Audio:    placements(bridge.Audio, 0),
			Params:   j.params,
			Output:   out,
			Progress: t.within(StageConcatenating, lo, hi),
		})
		if err != nil {
			return nil, bridges, 0, fmt.Errorf("encode %s bridge %d: %w", bridge.Kind, i+1, err)
		}
		done++
		bridges = append(bridges, out)
		sequence = append(sequence, out)
		extra += bridge.Duration
		j.logger.Debug().Str("kind", string(bridge.Kind)).Float64("duration", bridge.Duration).Int("after_scene", c.SceneNumber).Msg("bridge rendered")
	}
	return sequence, bridges, extra, nil
}

// placements shifts bridge audio cuts onto a timeline starting at offset.
func placements(cuts []effects.AudioCut, offset float64) []services.AudioPlacement {
	if len(cuts) == 0 {
		return nil
	}
	out := make([]services.AudioPlacement, len(cuts))
	for i, c := range cuts {
		out[i] = services.AudioPlacement{
			Path:    c.Path,
			At:      offset + c.At,
			From:    c.From,
			Length:  c.Length,
			FadeIn:  c.FadeIn,
			FadeOut: c.FadeOut,
		}
	}
	return out
}

func removeAll(paths ...string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}
