package effects

import (
	"image"
	"math"
	"strings"
)

// Animation is the motion applied to a still scene image.
type Animation string

const (
	AnimationNone     Animation = "none"
	AnimationZoomIn   Animation = "zoom_in"
	AnimationZoomOut  Animation = "zoom_out"
	AnimationPanLeft  Animation = "pan_left"
	AnimationPanRight Animation = "pan_right"
	AnimationPanUp    Animation = "pan_up"
	AnimationPanDown  Animation = "pan_down"
	AnimationKenBurns Animation = "ken_burns"
)

// Animations lists every supported animation kind.
var Animations = []Animation{
	AnimationNone,
	AnimationZoomIn,
	AnimationZoomOut,
	AnimationPanLeft,
	AnimationPanRight,
	AnimationPanUp,
	AnimationPanDown,
	AnimationKenBurns,
}

const (
	MinIntensity = 1.0
	MaxIntensity = 2.0

	// Pan headroom per unit of intensity above 1.
	panHeadroom = 0.1

	kenBurnsZoom = 0.15
	kenBurnsPan  = 0.1
)

// ParseAnimation maps a free-form name onto an Animation. Unknown and empty
// names yield AnimationNone.
func ParseAnimation(s string) Animation {
	name := Animation(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range Animations {
		if a == name {
			return a
		}
	}
	return AnimationNone
}

// ClampIntensity limits a zoom multiplier to [MinIntensity, MaxIntensity].
func ClampIntensity(v float64) float64 {
	if math.IsNaN(v) || v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

// Animate returns a frame generator that applies kind to base over duration
// seconds. Every frame is sampled from the same base image, so equal t always
// produces identical pixels.
func Animate(base *image.RGBA, kind Animation, duration float64, width, height int, intensity float64) FrameFunc {
	src := FitToFrame(base, width, height)
	intensity = ClampIntensity(intensity)
	w, h := float64(width), float64(height)

	switch kind {
	case AnimationZoomIn:
		return func(t float64) *image.RGBA {
			p := progressAt(t, duration)
			return zoomCentered(src, width, height, 1+(intensity-1)*p)
		}

	case AnimationZoomOut:
		return func(t float64) *image.RGBA {
			p := progressAt(t, duration)
			return zoomCentered(src, width, height, intensity-(intensity-1)*p)
		}

	case AnimationPanLeft, AnimationPanRight, AnimationPanUp, AnimationPanDown:
		scale := 1 + panHeadroom*(intensity-1)
		spanX := w*scale - w
		spanY := h*scale - h
		return func(t float64) *image.RGBA {
			p := progressAt(t, duration)
			offX, offY := spanX/2, spanY/2
			switch kind {
			case AnimationPanLeft:
				offX = spanX * (1 - p)
			case AnimationPanRight:
				offX = spanX * p
			case AnimationPanUp:
				offY = spanY * (1 - p)
			case AnimationPanDown:
				offY = spanY * p
			}
			return viewport(src, width, height, scale, offX, offY)
		}

	case AnimationKenBurns:
		return func(t float64) *image.RGBA {
			p := progressAt(t, duration)
			scale := 1 + kenBurnsZoom*p
			offX := math.Min(kenBurnsPan*w*p, w*scale-w)
			offY := math.Min(kenBurnsPan*h*p, h*scale-h)
			return viewport(src, width, height, scale, offX, offY)
		}
	}

	return func(float64) *image.RGBA { return src }
}
