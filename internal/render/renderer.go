package render

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/font/opentype"

	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// Toolchain is the encoder backend the renderer drives.
type Toolchain interface {
	Probe(ctx context.Context) services.Capabilities
	MediaDuration(ctx context.Context, path string) (float64, error)
	EncodeFrames(ctx context.Context, job services.FrameJob) error
	Concat(ctx context.Context, job services.ConcatJob) error
	ConcatCrossfade(ctx context.Context, job services.CrossfadeJob) error
	ConcatFadeBlack(ctx context.Context, job services.FadeJob) error
	PostProcess(ctx context.Context, job services.PostJob) error
	MixBackgroundMusic(ctx context.Context, job services.PostJob) error
	OverlayVideo(ctx context.Context, job services.PostJob) error
	ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error
}

// Dirs locates generated media and the read-only asset folders.
type Dirs struct {
	Uploads  string
	Music    string
	Overlays string
	Fonts    string
}

// Renderer turns scenes into a finished video.
type Renderer struct {
	tools         Toolchain
	dirs          Dirs
	logger        zerolog.Logger
	defaultPreset string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithRand sets the source used for random transitions.
func WithRand(r *rand.Rand) Option {
	return func(rr *Renderer) { rr.rng = r }
}

// WithDefaultPreset sets the preset used when a render names none.
func WithDefaultPreset(name string) Option {
	return func(rr *Renderer) { rr.defaultPreset = name }
}

func New(tools Toolchain, dirs Dirs, logger zerolog.Logger, opts ...Option) *Renderer {
	if dirs.Uploads == "" {
		dirs.Uploads = "uploads"
	}
	r := &Renderer{
		tools:         tools,
		dirs:          dirs,
		logger:        logger.With().Str("component", "renderer").Logger(),
		defaultPreset: PresetFast,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// job is a render request with every option resolved.
type job struct {
	videoID       string
	scenes        []models.Scene
	width, height int
	fps           int
	preset        RenderingPreset
	params        services.EncodeParams
	animation     effects.Animation
	intensity     float64
	style         effects.SubtitleStyle
	font          *opentype.Font
	transition    effects.Transition
	transitionDur float64
	musicPath     string
	overlayPath   string
	bridgeAudio   bool
	uploads       string
	logger        zerolog.Logger
}

func (r *Renderer) prepare(videoID string, scenes []models.Scene, opts models.RenderOptions, encoder string) (*job, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	preset, err := LookupPreset(opts.RenderingPreset, r.defaultPreset)
	if err != nil {
		return nil, err
	}

	ordered := append([]models.Scene(nil), scenes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SceneNumber < ordered[j].SceneNumber })
	for i, s := range ordered {
		if s.SceneNumber <= 0 {
			return nil, fmt.Errorf("%w: scene_number must be positive, got %d", ErrInvalidScene, s.SceneNumber)
		}
		if i > 0 && ordered[i-1].SceneNumber == s.SceneNumber {
			return nil, fmt.Errorf("%w: duplicate scene_number %d", ErrInvalidScene, s.SceneNumber)
		}
		if strings.TrimSpace(s.ImagePath) == "" {
			return nil, fmt.Errorf("%w: scene %d has no image_path", ErrInvalidScene, s.SceneNumber)
		}
	}

	if videoID == "" {
		videoID = "render"
	}
	if strings.ContainsAny(videoID, `/\`) || strings.Contains(videoID, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVideoID, videoID)
	}
	logger := r.logger.With().Str("video_id", videoID).Logger()
	width, height := Dimensions(opts.Resolution, opts.Orientation)

	j := &job{
		videoID:       videoID,
		scenes:        ordered,
		width:         width,
		height:        height,
		fps:           preset.FPS(opts.FPS),
		preset:        preset,
		params:        preset.Params(encoder),
		animation:     effects.ParseAnimation(opts.ImageAnimation),
		intensity:     effects.ClampIntensity(opts.ImageAnimationIntensity),
		style:         subtitleStyle(opts.SubtitleStyle),
		transition:    effects.NormalizeTransition(opts.TransitionType),
		transitionDur: opts.TransitionDuration,
		bridgeAudio:   opts.BridgeAudio,
		uploads:       r.dirs.Uploads,
		logger:        logger,
	}
	j.font = r.loadFont(opts.Font, logger)
	j.musicPath = r.asset(r.dirs.Music, opts.BackgroundMusic, "background music", logger)
	j.overlayPath = r.asset(r.dirs.Overlays, opts.VideoOverlay, "video overlay", logger)
	return j, nil
}

// subtitleStyle fills unset fields with the defaults.
func subtitleStyle(s *models.SubtitleStyle) effects.SubtitleStyle {
	style := effects.DefaultSubtitleStyle()
	if s == nil {
		return style
	}
	if s.Enabled != nil {
		style.Enabled = *s.Enabled
	}
	if s.FontSize > 0 {
		style.FontSize = float64(s.FontSize)
	}
	if s.Position != "" {
		style.Position = effects.ParsePosition(s.Position)
	}
	if s.TextColor != "" {
		if c, ok := effects.ParseHexColor(s.TextColor); ok {
			style.TextColor = c
		}
	}
	if s.BgOpacity != nil {
		style.BackgroundOpacity = uint8(clampInt(*s.BgOpacity, 0, 255))
	}
	if s.OutlineWidth != nil {
		style.OutlineWidth = clampInt(*s.OutlineWidth, 0, 20)
	}
	return style
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (r *Renderer) loadFont(name string, logger zerolog.Logger) *opentype.Font {
	if name == "" {
		return nil
	}
	path := filepath.Join(r.dirs.Fonts, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("font", name).Msg("font not found, using default")
		return nil
	}
	fnt, err := effects.ParseFont(data)
	if err != nil {
		logger.Warn().Err(err).Str("font", name).Msg("font unreadable, using default")
		return nil
	}
	return fnt
}

// asset resolves an optional file in an asset folder. Missing files are
// skipped with a warning.
func (r *Renderer) asset(dir, name, what string, logger zerolog.Logger) string {
	if name == "" {
		return ""
	}
	path := filepath.Join(dir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		logger.Warn().Err(err).Str("file", name).Msgf("%s not found, skipping", what)
		return ""
	}
	return path
}

func (r *Renderer) randomTransition() effects.Transition {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return effects.RandomTransition(r.rng)
}

func (j *job) path(name string) string {
	return filepath.Join(j.uploads, fmt.Sprintf("video_%s_%s", j.videoID, name))
}
