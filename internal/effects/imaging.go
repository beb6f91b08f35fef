package effects

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// FrameFunc returns the frame to show at time t (seconds). The returned image
// may be shared with later calls, so callers must Clone before modifying it.
type FrameFunc func(t float64) *image.RGBA

// aspectTolerance is the aspect-ratio difference below which FitToFrame
// resizes without cropping.
const aspectTolerance = 0.01

// NewCanvas returns an opaque black w x h image.
func NewCanvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// Clone returns a copy of img with its origin moved to (0,0).
func Clone(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// FitToFrame converts src into an exactly w x h frame. When the aspect ratio
// differs from the target it is center-cropped to the target aspect first so
// the resample never stretches the picture.
func FitToFrame(src image.Image, w, h int) *image.RGBA {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
			return rgba
		}
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
		return out
	}

	crop := b
	srcAspect := float64(b.Dx()) / float64(b.Dy())
	dstAspect := float64(w) / float64(h)
	if math.Abs(srcAspect-dstAspect) > aspectTolerance {
		if srcAspect > dstAspect {
			cw := int(math.Round(float64(b.Dy()) * dstAspect))
			x0 := b.Min.X + (b.Dx()-cw)/2
			crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
		} else {
			ch := int(math.Round(float64(b.Dx()) / dstAspect))
			y0 := b.Min.Y + (b.Dy()-ch)/2
			crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
		}
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), src, crop, draw.Src, nil)
	return out
}

// viewport renders src scaled by scale and shifted by (-offX, -offY) into a
// w x h black canvas. An offset of ((scale-1)*w/2, (scale-1)*h/2) keeps the
// result centered; scale < 1 leaves a black border.
func viewport(src *image.RGBA, w, h int, scale, offX, offY float64) *image.RGBA {
	b := src.Bounds()
	if scale == 1 && offX == 0 && offY == 0 && b.Dx() == w && b.Dy() == h {
		return Clone(src)
	}
	dst := NewCanvas(w, h)
	s2d := f64.Aff3{
		scale, 0, -offX - scale*float64(b.Min.X),
		0, scale, -offY - scale*float64(b.Min.Y),
	}
	draw.ApproxBiLinear.Transform(dst, s2d, src, b, draw.Src, nil)
	return dst
}

// zoomCentered scales src around its center, cropping when scale > 1 and
// padding with black when scale < 1.
func zoomCentered(src *image.RGBA, w, h int, scale float64) *image.RGBA {
	if scale < 0.1 {
		scale = 0.1
	}
	offX := (float64(w)*scale - float64(w)) / 2
	offY := (float64(h)*scale - float64(h)) / 2
	return viewport(src, w, h, scale, offX, offY)
}

// Blend writes a*(1-alpha) + b*alpha into a new image. a and b must share
// dimensions.
func Blend(a, b *image.RGBA, alpha float64) *image.RGBA {
	alpha = clamp01(alpha)
	out := image.NewRGBA(image.Rect(0, 0, a.Bounds().Dx(), a.Bounds().Dy()))
	switch alpha {
	case 0:
		draw.Draw(out, out.Bounds(), a, a.Bounds().Min, draw.Src)
		return out
	case 1:
		draw.Draw(out, out.Bounds(), b, b.Bounds().Min, draw.Src)
		return out
	}
	ka := 1 - alpha
	n := len(out.Pix)
	if len(a.Pix) < n || len(b.Pix) < n {
		n = min(len(a.Pix), len(b.Pix))
	}
	for i := 0; i < n; i++ {
		out.Pix[i] = uint8(float64(a.Pix[i])*ka + float64(b.Pix[i])*alpha + 0.5)
	}
	return out
}

// MixToward moves every pixel of img toward c by amount in [0,1], in place.
func MixToward(img *image.RGBA, c color.RGBA, amount float64) {
	amount = clamp01(amount)
	if amount == 0 {
		return
	}
	k := 1 - amount
	target := [4]float64{float64(c.R), float64(c.G), float64(c.B), float64(c.A)}
	for i := 0; i < len(img.Pix); i += 4 {
		for j := 0; j < 4; j++ {
			img.Pix[i+j] = uint8(float64(img.Pix[i+j])*k + target[j]*amount + 0.5)
		}
	}
}

// FadeToBlack darkens img in place; level 1 leaves it untouched, 0 is black.
func FadeToBlack(img *image.RGBA, level float64) {
	MixToward(img, color.RGBA{A: 0xff}, 1-clamp01(level))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func progressAt(t, duration float64) float64 {
	if duration <= 0 {
		return 1
	}
	return clamp01(t / duration)
}
