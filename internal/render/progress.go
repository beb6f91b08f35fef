package render

import (
	"sync"

	"github.com/bobarin/reelsmith/internal/services"
)

// Stage is a step of the render pipeline.
type Stage string

const (
	StageRenderingScenes Stage = "rendering_scenes"
	StageConcatenating   Stage = "concatenating"
	StagePostProcessing  Stage = "post_processing"
	StageThumbnail       Stage = "thumbnail"
	StageDone            Stage = "done"
	StageLegacyRender    Stage = "legacy_render"
)

// Range returns the slice of the 0-100 scale owned by the stage.
func (s Stage) Range() (lo, hi float64) {
	switch s {
	case StageRenderingScenes:
		return 0, 70
	case StageConcatenating:
		return 70, 85
	case StagePostProcessing:
		return 85, 95
	case StageThumbnail:
		return 95, 100
	case StageDone:
		return 100, 100
	}
	return 0, 100
}

// LegacyProgressCeiling caps fallback progress on the overall scale.
const LegacyProgressCeiling = 20

// ProgressFunc receives the aggregate percentage and the current stage label.
type ProgressFunc func(percent float64, stage string)

// tracker maps stage-local fractions onto [lo, hi] of the caller's scale and
// never reports a smaller percentage than it already has.
type tracker struct {
	mu        sync.Mutex
	fn        ProgressFunc
	lo, hi    float64
	last      float64
	lastStage string
}

func newTracker(fn ProgressFunc, lo, hi float64) *tracker {
	return &tracker{fn: fn, lo: lo, hi: hi, last: -1}
}

func (t *tracker) set(percent float64, stage Stage) {
	if t == nil || t.fn == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p := t.lo + (t.hi-t.lo)*percent/100

	t.mu.Lock()
	if p < t.last {
		p = t.last
	}
	if p == t.last && string(stage) == t.lastStage {
		t.mu.Unlock()
		return
	}
	t.last = p
	t.lastStage = string(stage)
	t.mu.Unlock()

	t.fn(p, string(stage))
}

// stage reports fraction (0-1) of s.
func (t *tracker) stage(s Stage, fraction float64) {
	lo, hi := s.Range()
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	t.set(lo+(hi-lo)*fraction, s)
}

// within returns an ffmpeg progress hook covering [a, b] of stage s.
func (t *tracker) within(s Stage, a, b float64) services.ProgressFunc {
	return func(f float64) {
		t.stage(s, a+(b-a)*f)
	}
}

func (t *tracker) done() {
	t.set(100, StageDone)
}
