package effects

import (
	"fmt"
	"image"
	"image/color"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// SubtitlePosition anchors the subtitle block vertically.
type SubtitlePosition string

const (
	PositionTop    SubtitlePosition = "top"
	PositionCenter SubtitlePosition = "center"
	PositionBottom SubtitlePosition = "bottom"
)

// MaxChunkChars is the character budget of one on-screen subtitle chunk.
const MaxChunkChars = 60

const (
	subtitlePadding = 20
	subtitleLineGap = 10
)

// SubtitleStyle controls how subtitle chunks are drawn.
type SubtitleStyle struct {
	Enabled           bool
	FontSize          float64
	Position          SubtitlePosition
	TextColor         color.RGBA
	BackgroundOpacity uint8
	OutlineWidth      int
}

// DefaultSubtitleStyle returns white 60px text with a 3px outline on a
// translucent band at the bottom of the frame.
func DefaultSubtitleStyle() SubtitleStyle {
	return SubtitleStyle{
		Enabled:           true,
		FontSize:          60,
		Position:          PositionBottom,
		TextColor:         color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		BackgroundOpacity: 180,
		OutlineWidth:      3,
	}
}

// ParsePosition returns the named position, defaulting to bottom.
func ParsePosition(s string) SubtitlePosition {
	switch SubtitlePosition(strings.ToLower(strings.TrimSpace(s))) {
	case PositionTop:
		return PositionTop
	case PositionCenter:
		return PositionCenter
	}
	return PositionBottom
}

// ParseHexColor parses #RGB or #RRGGBB (leading # optional).
func ParseHexColor(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
}

// SubtitleSegment is one chunk of narration text drawn onto a transparent
// full-frame overlay and shown during [Start, Start+Duration).
type SubtitleSegment struct {
	Text     string
	Overlay  *image.RGBA
	Area     image.Rectangle
	Start    float64
	Duration float64
}

// End returns the exclusive end time of the segment.
func (s SubtitleSegment) End() float64 { return s.Start + s.Duration }

var sentenceBreak = regexp.MustCompile(`[.!?。！？]\s+`)

// SplitSubtitleText breaks text into display chunks: first after sentence
// ending punctuation, then greedily by words for sentences longer than
// maxChars characters.
func SplitSubtitleText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = MaxChunkChars
	}

	var sentences []string
	last := 0
	for _, m := range sentenceBreak.FindAllStringIndex(text, -1) {
		_, size := utf8.DecodeRuneInString(text[m[0]:])
		sentences = append(sentences, text[last:m[0]+size])
		last = m[1]
	}
	sentences = append(sentences, text[last:])

	var chunks []string
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if utf8.RuneCountInString(sentence) <= maxChars {
			chunks = append(chunks, sentence)
			continue
		}

		current := ""
		for _, word := range strings.Fields(sentence) {
			switch {
			case current == "":
				current = word
			case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= maxChars:
				current += " " + word
			default:
				chunks = append(chunks, current)
				current = word
			}
		}
		if current != "" {
			chunks = append(chunks, current)
		}
	}
	return chunks
}

// SegmentDurations shares total between chunks in proportion to their word
// counts. The last chunk takes whatever remains so the durations add up to
// total.
func SegmentDurations(chunks []string, total float64) []float64 {
	if len(chunks) == 0 {
		return nil
	}
	counts := make([]int, len(chunks))
	words := 0
	for i, c := range chunks {
		counts[i] = max(1, len(strings.Fields(c)))
		words += counts[i]
	}

	durations := make([]float64, len(chunks))
	used := 0.0
	for i := range chunks[:len(chunks)-1] {
		durations[i] = total * float64(counts[i]) / float64(words)
		used += durations[i]
	}
	durations[len(chunks)-1] = total - used
	return durations
}

var (
	defaultFontOnce sync.Once
	defaultFont     *opentype.Font
	defaultFontErr  error
)

// DefaultFont returns the embedded Go Bold face used when no font file is
// configured.
func DefaultFont() (*opentype.Font, error) {
	defaultFontOnce.Do(func() {
		defaultFont, defaultFontErr = opentype.Parse(gobold.TTF)
	})
	return defaultFont, defaultFontErr
}

// ParseFont parses TrueType or OpenType font data.
func ParseFont(data []byte) (*opentype.Font, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return f, nil
}

// BuildSubtitleClips renders text as a sequence of overlays that exactly tile
// [0, total]. A nil fnt selects DefaultFont. Disabled styles and blank text
// produce no segments.
func BuildSubtitleClips(text string, width, height int, total float64, fnt *opentype.Font, style SubtitleStyle) ([]SubtitleSegment, error) {
	if !style.Enabled || strings.TrimSpace(text) == "" || total <= 0 {
		return nil, nil
	}
	if fnt == nil {
		var err error
		if fnt, err = DefaultFont(); err != nil {
			return nil, err
		}
	}
	size := style.FontSize
	if size <= 0 {
		size = DefaultSubtitleStyle().FontSize
	}
	face, err := opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer face.Close()

	chunks := SplitSubtitleText(text, MaxChunkChars)
	durations := SegmentDurations(chunks, total)

	segments := make([]SubtitleSegment, len(chunks))
	start := 0.0
	for i, chunk := range chunks {
		overlay, area := drawSubtitle(chunk, width, height, face, style)
		segments[i] = SubtitleSegment{
			Text:     chunk,
			Overlay:  overlay,
			Area:     area,
			Start:    start,
			Duration: durations[i],
		}
		start += durations[i]
	}
	return segments, nil
}

// SegmentAt returns the segment visible at t, or nil.
func SegmentAt(segments []SubtitleSegment, t float64) *SubtitleSegment {
	for i := range segments {
		if t >= segments[i].Start && t < segments[i].End() {
			return &segments[i]
		}
	}
	// the final instant belongs to the last segment
	if n := len(segments); n > 0 && t == segments[n-1].End() {
		return &segments[n-1]
	}
	return nil
}

// Compose layers the subtitle visible at each instant over frames.
func Compose(frames FrameFunc, segments []SubtitleSegment) FrameFunc {
	if len(segments) == 0 {
		return frames
	}
	return func(t float64) *image.RGBA {
		frame := frames(t)
		seg := SegmentAt(segments, t)
		if seg == nil {
			return frame
		}
		out := Clone(frame)
		draw.Draw(out, seg.Area, seg.Overlay, seg.Area.Min, draw.Over)
		return out
	}
}

func drawSubtitle(text string, width, height int, face font.Face, style SubtitleStyle) (*image.RGBA, image.Rectangle) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	lines := wrapText(text, face, width-subtitlePadding*4)
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := ascent + metrics.Descent.Ceil()
	block := len(lines)*lineHeight + (len(lines)-1)*subtitleLineGap

	var y int
	switch style.Position {
	case PositionTop:
		y = subtitlePadding * 2
	case PositionCenter:
		y = (height - block) / 2
	default:
		y = height - block - subtitlePadding*3
	}

	band := image.Rect(0, y-subtitlePadding, width, y+block+subtitlePadding).Intersect(img.Bounds())
	draw.Draw(img, band, image.NewUniform(color.RGBA{A: style.BackgroundOpacity}), image.Point{}, draw.Src)

	outline := image.NewUniform(color.RGBA{A: 0xff})
	fill := image.NewUniform(style.TextColor)
	d := &font.Drawer{Dst: img, Face: face}
	ow := style.OutlineWidth

	for i, line := range lines {
		x := (width - d.MeasureString(line).Ceil()) / 2
		baseline := y + i*(lineHeight+subtitleLineGap) + ascent

		d.Src = outline
		for dx := -ow; dx <= ow; dx++ {
			for dy := -ow; dy <= ow; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				d.Dot = fixed.P(x+dx, baseline+dy)
				d.DrawString(line)
			}
		}

		d.Src = fill
		d.Dot = fixed.P(x, baseline)
		d.DrawString(line)
	}

	area := band.Union(image.Rect(0, y-ow, width, y+block+ow)).Intersect(img.Bounds())
	return img, area
}

func wrapText(text string, face font.Face, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	limit := fixed.I(maxWidth)

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if font.MeasureString(face, candidate) <= limit {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	return append(lines, current)
}
