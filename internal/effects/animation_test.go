package effects

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

// gradient builds a deterministic test picture with distinct pixels.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 0xff})
		}
	}
	return img
}

func TestParseAnimation(t *testing.T) {
	tests := []struct {
		in   string
		want Animation
	}{
		{"zoom_in", AnimationZoomIn},
		{" Ken_Burns ", AnimationKenBurns},
		{"", AnimationNone},
		{"spin", AnimationNone},
		{"pan_down", AnimationPanDown},
	}
	for _, tt := range tests {
		if got := ParseAnimation(tt.in); got != tt.want {
			t.Errorf("ParseAnimation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampIntensity(t *testing.T) {
	if got := ClampIntensity(0.5); got != 1 {
		t.Errorf("ClampIntensity(0.5) = %v, want 1", got)
	}
	if got := ClampIntensity(3); got != 2 {
		t.Errorf("ClampIntensity(3) = %v, want 2", got)
	}
	if got := ClampIntensity(1.4); got != 1.4 {
		t.Errorf("ClampIntensity(1.4) = %v, want 1.4", got)
	}
}

func TestAnimateDeterministic(t *testing.T) {
	base := gradient(64, 112)
	for _, kind := range Animations {
		t.Run(string(kind), func(t *testing.T) {
			frames := Animate(base, kind, 3, 64, 112, 1.5)
			for _, ts := range []float64{0, 0.7, 1.5, 3} {
				a := frames(ts)
				b := frames(ts)
				if !bytes.Equal(a.Pix, b.Pix) {
					t.Fatalf("frame at t=%v differs between calls", ts)
				}
			}
		})
	}
}

func TestZoomInStartsAtBaseImage(t *testing.T) {
	base := gradient(90, 160)
	frames := Animate(base, AnimationZoomIn, 3, 90, 160, 1.5)

	first := frames(0)
	if !bytes.Equal(first.Pix, base.Pix) {
		t.Fatal("frame at t=0 should equal the unscaled base image")
	}

	last := frames(3)
	if bytes.Equal(last.Pix, base.Pix) {
		t.Fatal("frame at t=duration should be zoomed")
	}

	// At 1.5x the center pixel is fixed while a pixel a third of the way from
	// the center to the edge shows content from half as far out.
	want := base.RGBAAt(45+10, 80)
	got := last.RGBAAt(45+15, 80)
	if diff(got.R, want.R) > 8 {
		t.Errorf("zoomed pixel R = %d, want about %d", got.R, want.R)
	}
}

func TestZoomOutEndsAtBaseImage(t *testing.T) {
	base := gradient(40, 70)
	frames := Animate(base, AnimationZoomOut, 2, 40, 70, 1.8)
	if !bytes.Equal(frames(2).Pix, base.Pix) {
		t.Fatal("zoom_out should end on the base image")
	}
	if !bytes.Equal(frames(5).Pix, base.Pix) {
		t.Fatal("progress beyond duration should clamp to the final frame")
	}
}

func TestPanWithoutHeadroomIsStatic(t *testing.T) {
	base := gradient(40, 70)
	frames := Animate(base, AnimationPanLeft, 2, 40, 70, 1.0)
	if !bytes.Equal(frames(1).Pix, base.Pix) {
		t.Fatal("pan at intensity 1 has no headroom and should not move")
	}
}

func TestPanLeftMovesWindow(t *testing.T) {
	base := gradient(100, 100)
	frames := Animate(base, AnimationPanLeft, 2, 100, 100, 2.0)
	start := frames(0)
	end := frames(2)
	// the window starts at the right edge of the scaled canvas
	if start.RGBAAt(0, 50).R <= end.RGBAAt(0, 50).R {
		t.Errorf("left column should move from right content to left content: start R=%d end R=%d",
			start.RGBAAt(0, 50).R, end.RGBAAt(0, 50).R)
	}
}

func TestAnimateNoneReturnsSource(t *testing.T) {
	base := gradient(20, 30)
	frames := Animate(base, AnimationNone, 2, 20, 30, 2)
	if frames(1) != base {
		t.Fatal("none should return the unmodified source frame")
	}
}

func TestAnimateFitsForeignSizes(t *testing.T) {
	base := gradient(200, 100)
	frames := Animate(base, AnimationKenBurns, 2, 36, 64, 1)
	got := frames(1).Bounds()
	if got.Dx() != 36 || got.Dy() != 64 {
		t.Fatalf("frame size = %v, want 36x64", got)
	}
}

func diff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
