package effects

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"strings"

	"golang.org/x/image/draw"
)

// Transition is a canonical transition kind between two adjacent scenes.
type Transition string

const (
	TransitionNone       Transition = "none"
	TransitionCrossfade  Transition = "crossfade"
	TransitionFadeBlack  Transition = "fade_black"
	TransitionFadeWhite  Transition = "fade_white"
	TransitionFlash      Transition = "flash"
	TransitionSlideLeft  Transition = "slide_left"
	TransitionSlideRight Transition = "slide_right"
	TransitionSlideUp    Transition = "slide_up"
	TransitionSlideDown  Transition = "slide_down"
	TransitionWipeLeft   Transition = "wipe_left"
	TransitionWipeRight  Transition = "wipe_right"
	TransitionWipeUp     Transition = "wipe_up"
	TransitionWipeDown   Transition = "wipe_down"
	TransitionZoomIn     Transition = "zoom_in"
	TransitionZoomOut    Transition = "zoom_out"
	TransitionZoomCross  Transition = "zoom_cross"
	TransitionPixelate   Transition = "pixelate"
	TransitionRandom     Transition = "random"
)

// Transitions lists every canonical kind.
var Transitions = []Transition{
	TransitionNone, TransitionCrossfade, TransitionFadeBlack, TransitionFadeWhite,
	TransitionFlash, TransitionSlideLeft, TransitionSlideRight, TransitionSlideUp,
	TransitionSlideDown, TransitionWipeLeft, TransitionWipeRight, TransitionWipeUp,
	TransitionWipeDown, TransitionZoomIn, TransitionZoomOut, TransitionZoomCross,
	TransitionPixelate, TransitionRandom,
}

// bridgePool holds the kinds rendered as bridging clips; random draws from it.
var bridgePool = []Transition{
	TransitionFadeWhite, TransitionFlash,
	TransitionSlideLeft, TransitionSlideRight, TransitionSlideUp, TransitionSlideDown,
	TransitionWipeLeft, TransitionWipeRight, TransitionWipeUp, TransitionWipeDown,
	TransitionZoomIn, TransitionZoomOut, TransitionZoomCross,
	TransitionPixelate,
}

var transitionAliases = map[string]Transition{
	"dissolve":            TransitionCrossfade,
	"dreamy_dissolve":     TransitionCrossfade,
	"smooth_dissolve":     TransitionCrossfade,
	"soft_dissolve":       TransitionCrossfade,
	"gentle_dissolve":     TransitionCrossfade,
	"cinematic_crossfade": TransitionCrossfade,
	"cinematic_blackout":  TransitionFadeBlack,
	"dip_to_black":        TransitionFadeBlack,
	"dramatic_blackout":   TransitionFadeBlack,
	"fade_to_black":       TransitionFadeBlack,
	"dip_to_white":        TransitionFadeWhite,
	"fade_to_white":       TransitionFadeWhite,
	"flash_white":         TransitionFlash,
	"flash_light":         TransitionFlash,
	"slide_push_left":     TransitionSlideLeft,
	"slide_push_right":    TransitionSlideRight,
	"slide_push_up":       TransitionSlideUp,
	"slide_push_down":     TransitionSlideDown,
	"push_left":           TransitionSlideLeft,
	"push_right":          TransitionSlideRight,
	"push_up":             TransitionSlideUp,
	"push_down":           TransitionSlideDown,
	"parallax_left":       TransitionSlideLeft,
	"parallax_right":      TransitionSlideRight,
	"parallax_up":         TransitionSlideUp,
	"parallax_down":       TransitionSlideDown,
	"wipe_soft_left":      TransitionWipeLeft,
	"wipe_soft_right":     TransitionWipeRight,
	"wipe_soft_up":        TransitionWipeUp,
	"wipe_soft_down":      TransitionWipeDown,
	"pan_left":            TransitionWipeLeft,
	"pan_right":           TransitionWipeRight,
	"pan_up":              TransitionWipeUp,
	"pan_down":            TransitionWipeDown,
	"zoom_in_slow":        TransitionZoomIn,
	"zoom_in_fast":        TransitionZoomIn,
	"zoom_out_slow":       TransitionZoomOut,
	"zoom_out_fast":       TransitionZoomOut,
	"cross_zoom":          TransitionZoomCross,
	"zoom_blur":           TransitionZoomCross,
	"pixelate_in":         TransitionPixelate,
	"pixelate_out":        TransitionPixelate,
	"random_mix":          TransitionRandom,
	"mix":                 TransitionRandom,
	"shuffle":             TransitionRandom,
	"all":                 TransitionRandom,
}

// NormalizeTransition resolves a free-form name through the alias table.
// Names that match nothing become TransitionNone.
func NormalizeTransition(s string) Transition {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return TransitionNone
	}
	for _, t := range Transitions {
		if string(t) == key {
			return t
		}
	}
	if t, ok := transitionAliases[key]; ok {
		return t
	}
	return TransitionNone
}

// UsesBridge reports whether the kind is rendered as a bridging clip rather
// than by the concatenation stage itself.
func (t Transition) UsesBridge() bool {
	for _, k := range bridgePool {
		if k == t {
			return true
		}
	}
	return false
}

// RandomTransition draws one bridging kind uniformly from the pool.
func RandomTransition(r *rand.Rand) Transition {
	return bridgePool[r.Intn(len(bridgePool))]
}

// ClampTransitionDuration limits a requested duration to [0, min(d1,d2)/2].
func ClampTransitionDuration(requested, d1, d2 float64) float64 {
	if math.IsNaN(requested) || requested <= 0 {
		return 0
	}
	limit := math.Min(d1, d2) / 2
	if limit < 0 {
		limit = 0
	}
	return math.Min(requested, limit)
}

// BridgeInput is one side of a scene boundary.
type BridgeInput struct {
	Frame     *image.RGBA
	AudioPath string
	// Duration is the narration length of the scene, used to find its tail.
	Duration float64
}

// AudioCut places a slice of an audio file on a clip's timeline.
type AudioCut struct {
	Path    string
	At      float64
	From    float64
	Length  float64
	FadeIn  float64
	FadeOut float64
}

// Bridge is a short clip played between two scenes.
type Bridge struct {
	Kind     Transition
	Duration float64
	FPS      int
	Frames   FrameFunc
	Audio    []AudioCut
}

// CreateTransitionClip builds the bridging clip for kind. It returns nil when
// there is nothing to bridge: a non-positive duration, a kind handled by the
// concatenation stage, or a missing source frame.
func CreateTransitionClip(prev, next BridgeInput, kind Transition, duration float64, width, height, fps int) *Bridge {
	if duration <= 0 || !kind.UsesBridge() || prev.Frame == nil || next.Frame == nil {
		return nil
	}
	a := FitToFrame(prev.Frame, width, height)
	b := FitToFrame(next.Frame, width, height)
	render := transitionFrame(kind, a, b, width, height)

	return &Bridge{
		Kind:     kind,
		Duration: duration,
		FPS:      fps,
		Frames: func(t float64) *image.RGBA {
			return render(progressAt(t, duration))
		},
		Audio: bridgeAudio(prev, next, duration),
	}
}

func bridgeAudio(prev, next BridgeInput, duration float64) []AudioCut {
	var cuts []AudioCut
	if prev.AudioPath != "" {
		length := duration
		if prev.Duration > 0 {
			length = math.Min(duration, prev.Duration)
		}
		cuts = append(cuts, AudioCut{
			Path:    prev.AudioPath,
			From:    math.Max(0, prev.Duration-length),
			Length:  length,
			FadeOut: length,
		})
	}
	if next.AudioPath != "" {
		length := duration
		if next.Duration > 0 {
			length = math.Min(duration, next.Duration)
		}
		cuts = append(cuts, AudioCut{
			Path:   next.AudioPath,
			Length: length,
			FadeIn: length,
		})
	}
	return cuts
}

var white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

func transitionFrame(kind Transition, a, b *image.RGBA, w, h int) func(p float64) *image.RGBA {
	switch kind {
	case TransitionSlideLeft, TransitionSlideRight, TransitionSlideUp, TransitionSlideDown:
		return func(p float64) *image.RGBA { return slide(kind, a, b, w, h, p) }

	case TransitionZoomIn:
		return zoomBlend(a, b, w, h, 1, 0.35, 0.65, 0.35)
	case TransitionZoomOut:
		return zoomBlend(a, b, w, h, 1.15, -0.35, 0.85, 0.15)
	case TransitionZoomCross:
		return zoomBlend(a, b, w, h, 1, 0.4, 0.6, 0.4)

	case TransitionFlash:
		return func(p float64) *image.RGBA {
			out := Blend(a, b, p)
			MixToward(out, white, 1-math.Abs(2*p-1))
			return out
		}

	case TransitionFadeWhite:
		return func(p float64) *image.RGBA {
			out := Blend(a, b, p)
			MixToward(out, white, p)
			return out
		}

	case TransitionWipeLeft, TransitionWipeRight, TransitionWipeUp, TransitionWipeDown:
		return func(p float64) *image.RGBA { return wipe(kind, a, b, w, h, p) }

	case TransitionPixelate:
		return func(p float64) *image.RGBA {
			return Blend(a, pixelate(b, w, h, max(1, int(20*(1-p)))), p)
		}
	}
	return func(p float64) *image.RGBA { return Blend(a, b, p) }
}

// slide moves both frames as rigid translations: prev leaves through one edge
// while next enters from the opposite one.
func slide(kind Transition, a, b *image.RGBA, w, h int, p float64) *image.RGBA {
	out := NewCanvas(w, h)
	dx := int(math.Round(float64(w) * p))
	dy := int(math.Round(float64(h) * p))

	var prevAt, nextAt image.Point
	switch kind {
	case TransitionSlideLeft:
		prevAt, nextAt = image.Pt(-dx, 0), image.Pt(w-dx, 0)
	case TransitionSlideRight:
		prevAt, nextAt = image.Pt(dx, 0), image.Pt(dx-w, 0)
	case TransitionSlideUp:
		prevAt, nextAt = image.Pt(0, -dy), image.Pt(0, h-dy)
	case TransitionSlideDown:
		prevAt, nextAt = image.Pt(0, dy), image.Pt(0, dy-h)
	}
	draw.Draw(out, b.Bounds().Add(nextAt), b, image.Point{}, draw.Src)
	draw.Draw(out, a.Bounds().Add(prevAt), a, image.Point{}, draw.Src)
	return out
}

// zoomBlend zooms prev and next with linear scale ramps and crossfades them.
func zoomBlend(a, b *image.RGBA, w, h int, prevStart, prevRate, nextStart, nextRate float64) func(p float64) *image.RGBA {
	return func(p float64) *image.RGBA {
		za := zoomCentered(a, w, h, prevStart+prevRate*p)
		zb := zoomCentered(b, w, h, nextStart+nextRate*p)
		return Blend(za, zb, p)
	}
}

// wipe reveals next behind a hard edge at w*p (or h*p) from the side the
// wipe starts on.
func wipe(kind Transition, a, b *image.RGBA, w, h int, p float64) *image.RGBA {
	out := Clone(a)
	ex := int(math.Round(float64(w) * p))
	ey := int(math.Round(float64(h) * p))

	var r image.Rectangle
	switch kind {
	case TransitionWipeLeft:
		r = image.Rect(w-ex, 0, w, h)
	case TransitionWipeRight:
		r = image.Rect(0, 0, ex, h)
	case TransitionWipeUp:
		r = image.Rect(0, h-ey, w, h)
	case TransitionWipeDown:
		r = image.Rect(0, 0, w, ey)
	}
	draw.Draw(out, r, b, r.Min, draw.Src)
	return out
}

// pixelate renders img as a mosaic of block x block cells.
func pixelate(img *image.RGBA, w, h, block int) *image.RGBA {
	if block <= 1 {
		return img
	}
	small := image.NewRGBA(image.Rect(0, 0, max(1, w/block), max(1, h/block)))
	draw.NearestNeighbor.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), draw.Src, nil)
	return out
}
