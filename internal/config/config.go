package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase (optional: uploads are skipped when URL or key is empty)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Media folders
	UploadDir   string
	MusicDir    string
	OverlaysDir string
	FontDir     string

	// ffmpeg
	FFmpegPath    string
	FFprobePath   string
	FFmpegThreads int // 0 = ffmpeg default

	// Rendering
	DefaultRenderingPreset string

	// Logging
	LogLevel  string
	LogPretty bool

	// Worker
	MaxConcurrentJobs int
}

// Load reads the server configuration. DATABASE_URL is required.
func Load() (*Config, error) {
	cfg := load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRender reads the configuration for local command-line renders, which
// need neither Postgres nor Redis.
func LoadRender() (*Config, error) {
	cfg := load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() *Config {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return &Config{
		APIPort:                getEnv("API_PORT", "8080"),
		WorkerEnabled:          getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:          getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:     getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:  getEnv("SUPABASE_STORAGE_BUCKET", "rendered-videos"),
		UploadDir:              getEnv("UPLOAD_DIR", "./uploads"),
		MusicDir:               getEnv("MUSIC_DIR", "./music"),
		OverlaysDir:            getEnv("OVERLAYS_DIR", "./overlays"),
		FontDir:                getEnv("FONT_DIR", "./font"),
		FFmpegPath:             getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:            getEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegThreads:          getEnvInt("FFMPEG_THREADS", 0),
		DefaultRenderingPreset: getEnv("DEFAULT_RENDERING_PRESET", "fast"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogPretty:              getEnvBool("LOG_PRETTY", false),
		MaxConcurrentJobs:      getEnvInt("MAX_CONCURRENT_JOBS", 5),
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.FFmpegThreads < 0 {
		return fmt.Errorf("FFMPEG_THREADS must not be negative, got %d", c.FFmpegThreads)
	}
	switch strings.ToLower(c.DefaultRenderingPreset) {
	case "fast", "quality":
	default:
		return fmt.Errorf("DEFAULT_RENDERING_PRESET must be fast or quality, got %q", c.DefaultRenderingPreset)
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	return nil
}

// StorageEnabled reports whether finished videos are uploaded.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
