package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// RenderingPreset is a named bundle of encoder settings.
type RenderingPreset struct {
	Name        string   `json:"name"`
	CRF         int      `json:"crf"`
	SpeedPreset string   `json:"encoder_speed_preset"`
	DefaultFPS  int      `json:"default_fps"`
	ExtraFlags  []string `json:"extra_muxer_flags"`
}

const (
	PresetFast    = "fast"
	PresetQuality = "quality"
)

var presets = map[string]RenderingPreset{
	PresetFast: {
		Name:        PresetFast,
		CRF:         26,
		SpeedPreset: "veryfast",
		DefaultFPS:  24,
		ExtraFlags:  []string{"-movflags", "+faststart", "-pix_fmt", "yuv420p"},
	},
	PresetQuality: {
		Name:        PresetQuality,
		CRF:         20,
		SpeedPreset: "medium",
		DefaultFPS:  30,
		ExtraFlags:  []string{"-movflags", "+faststart", "-pix_fmt", "yuv420p", "-profile:v", "high"},
	},
}

// LookupPreset resolves a preset name case-insensitively. An empty name
// resolves to fallback; anything else unknown is ErrUnknownPreset.
func LookupPreset(name, fallback string) (RenderingPreset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(fallback))
	}
	p, ok := presets[key]
	if !ok {
		return RenderingPreset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// Presets returns every preset ordered by name.
func Presets() []RenderingPreset {
	out := make([]RenderingPreset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Params returns the encoder arguments for codec.
func (p RenderingPreset) Params(codec string) services.EncodeParams {
	return services.EncodeParams{
		Codec:       codec,
		CRF:         p.CRF,
		SpeedPreset: p.SpeedPreset,
		ExtraFlags:  append([]string(nil), p.ExtraFlags...),
	}
}

// FPS returns requested when positive, else the preset default.
func (p RenderingPreset) FPS(requested int) int {
	if requested > 0 {
		return requested
	}
	return p.DefaultFPS
}

var resolutions = map[string][2]int{
	"720p":  {720, 1280},
	"1080p": {1080, 1920},
	"2k":    {1440, 2560},
	"1440p": {1440, 2560},
	"4k":    {2160, 3840},
	"2160p": {2160, 3840},
}

// ResolutionTiers lists the advertised resolution names.
var ResolutionTiers = []string{"720p", "1080p", "2K", "4K"}

// Dimensions returns width and height for a resolution tier. Unknown tiers
// fall back to 1080p.
func Dimensions(resolution string, orientation models.Orientation) (int, int) {
	wh, ok := resolutions[strings.ToLower(strings.TrimSpace(resolution))]
	if !ok {
		wh = resolutions["1080p"]
	}
	if orientation == models.OrientationLandscape {
		return wh[1], wh[0]
	}
	return wh[0], wh[1]
}
