package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bobarin/reelsmith/internal/api"
	"github.com/bobarin/reelsmith/internal/config"
	"github.com/bobarin/reelsmith/internal/db"
	"github.com/bobarin/reelsmith/internal/logging"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/bobarin/reelsmith/internal/render"
	"github.com/bobarin/reelsmith/internal/services"
	"github.com/bobarin/reelsmith/internal/storage"
	"github.com/bobarin/reelsmith/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Init(false, false)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogPretty)
	log.Info().Msg("starting reelsmith API")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	handler := api.NewHandler(database, q, cfg.DefaultRenderingPreset, cfg.UploadDir, logging.WithComponent("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		UploadDir:          cfg.UploadDir,
	})

	if cfg.BackendAPIKey != "" {
		log.Info().Msg("API key authentication enabled")
	} else {
		log.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to create upload dir")
		}

		ffmpegSvc := services.NewFFmpegService(logging.WithComponent("ffmpeg"), services.FFmpegOptions{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			Threads:     cfg.FFmpegThreads,
		})
		renderer := render.New(ffmpegSvc, render.Dirs{
			Uploads:  cfg.UploadDir,
			Music:    cfg.MusicDir,
			Overlays: cfg.OverlaysDir,
			Fonts:    cfg.FontDir,
		}, log.Logger, render.WithDefaultPreset(cfg.DefaultRenderingPreset))

		var uploader worker.Uploader
		if cfg.StorageEnabled() {
			uploader = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, log.Logger)
			log.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("supabase storage enabled")
		} else {
			log.Info().Msg("supabase storage disabled, outputs stay under /uploads")
		}

		w := worker.New(database, q, uploader, renderer, log.Logger)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
			close(workerDone)
		}()
	} else {
		close(workerDone)
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if workerCancel != nil {
		workerCancel()
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	select {
	case <-workerDone:
	case <-ctx.Done():
		log.Warn().Msg("worker did not stop in time")
	}

	log.Info().Msg("server exited")
}
