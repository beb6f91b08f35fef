package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderStatus string

const (
	RenderStatusPending    RenderStatus = "pending"
	RenderStatusProcessing RenderStatus = "processing"
	RenderStatusRendering  RenderStatus = "rendering"
	RenderStatusCompleted  RenderStatus = "completed"
	RenderStatusFailed     RenderStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RenderStatus) Terminal() bool {
	return s == RenderStatusCompleted || s == RenderStatusFailed
}

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Scene is one narrated unit of a video: a still image plus optional
// narration audio, rendered in SceneNumber order.
type Scene struct {
	SceneNumber int    `json:"scene_number" yaml:"scene_number"`
	Text        string `json:"text" yaml:"text"`
	ImagePath   string `json:"image_path" yaml:"image_path"`
	AudioPath   string `json:"audio_path,omitempty" yaml:"audio_path,omitempty"`
	// Duration is only used when there is no narration audio.
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// SceneList is stored as a JSONB array.
type SceneList []Scene

func (s SceneList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SceneList) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// SubtitleStyle mirrors the subtitle_style options object. Nil pointers take
// the renderer defaults.
type SubtitleStyle struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	FontSize     int    `json:"font_size,omitempty" yaml:"font_size,omitempty"`
	Position     string `json:"position,omitempty" yaml:"position,omitempty"`     // "top", "center", "bottom"
	TextColor    string `json:"text_color,omitempty" yaml:"text_color,omitempty"` // hex, e.g. "#FFFFFF"
	BgOpacity    *int   `json:"bg_opacity,omitempty" yaml:"bg_opacity,omitempty"` // 0-255
	OutlineWidth *int   `json:"outline_width,omitempty" yaml:"outline_width,omitempty"`
}

// RenderOptions are the per-video rendering settings.
type RenderOptions struct {
	Resolution              string         `json:"resolution,omitempty" yaml:"resolution,omitempty"`   // "720p", "1080p", "2K", "4K"
	Orientation             Orientation    `json:"orientation,omitempty" yaml:"orientation,omitempty"` // "portrait" or "landscape"
	FPS                     int            `json:"fps,omitempty" yaml:"fps,omitempty"`
	BackgroundMusic         string         `json:"background_music,omitempty" yaml:"background_music,omitempty"`
	VideoOverlay            string         `json:"video_overlay,omitempty" yaml:"video_overlay,omitempty"`
	Font                    string         `json:"font,omitempty" yaml:"font,omitempty"`
	SubtitleStyle           *SubtitleStyle `json:"subtitle_style,omitempty" yaml:"subtitle_style,omitempty"`
	TransitionType          string         `json:"transition_type,omitempty" yaml:"transition_type,omitempty"`
	TransitionDuration      float64        `json:"transition_duration,omitempty" yaml:"transition_duration,omitempty"`
	ImageAnimation          string         `json:"image_animation,omitempty" yaml:"image_animation,omitempty"`
	ImageAnimationIntensity float64        `json:"image_animation_intensity,omitempty" yaml:"image_animation_intensity,omitempty"`
	RenderingPreset         string         `json:"rendering_preset,omitempty" yaml:"rendering_preset,omitempty"` // "fast" or "quality"
	// BridgeAudio plays the blended narration tail/head under bridging clips
	// instead of silence.
	BridgeAudio bool `json:"bridge_audio,omitempty" yaml:"bridge_audio,omitempty"`
}

func (o RenderOptions) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *RenderOptions) Scan(value interface{}) error {
	return scanJSON(value, o)
}

// RenderOutput is everything a caller learns about a finished render.
type RenderOutput struct {
	VideoPath     string             `json:"video_path"`
	ThumbnailPath string             `json:"thumbnail_path,omitempty"`
	VideoURL      string             `json:"video_url"`
	ThumbnailURL  string             `json:"thumbnail_url,omitempty"`
	Duration      int                `json:"duration"`
	FileSize      int64              `json:"file_size"`
	Legacy        bool               `json:"legacy,omitempty"`
	StageTimings  map[string]float64 `json:"stage_timings,omitempty"`
}

// Render is a queued or finished render job.
type Render struct {
	ID              uuid.UUID     `json:"id"`
	VideoID         string        `json:"video_id"`
	Status          RenderStatus  `json:"status"`
	Stage           *string       `json:"stage,omitempty"`
	Progress        float64       `json:"progress"`
	Scenes          SceneList     `json:"scenes"`
	Options         RenderOptions `json:"options"`
	VideoURL        *string       `json:"video_url,omitempty"`
	ThumbnailURL    *string       `json:"thumbnail_url,omitempty"`
	DurationSeconds *int          `json:"duration_seconds,omitempty"`
	FileSizeBytes   *int64        `json:"file_size_bytes,omitempty"`
	Metadata        JSONB         `json:"metadata,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
