package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bobarin/reelsmith/internal/config"
	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/logging"
	"github.com/bobarin/reelsmith/internal/manifest"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/render"
	"github.com/bobarin/reelsmith/internal/services"
)

var (
	verbose      bool
	manifestPath string
	outDir       string
	presetName   string
	forceLegacy  bool
	cfg          *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "reelsmith",
	Short:         "reelsmith - scene-based video renderer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadRender()
		if err != nil {
			return err
		}
		logging.Init(verbose || logging.ParseLevel(cfg.LogLevel), true)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	renderCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "render manifest (YAML)")
	renderCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: UPLOAD_DIR)")
	renderCmd.Flags().StringVar(&presetName, "preset", "", "rendering preset, overrides the manifest")
	renderCmd.Flags().BoolVar(&forceLegacy, "legacy", false, "use the single-pass legacy renderer")
	_ = renderCmd.MarkFlagRequired("manifest")

	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(transitionsCmd)
	rootCmd.AddCommand(probeCmd)
}

func newFFmpeg() *services.FFmpegService {
	return services.NewFFmpegService(logging.WithComponent("ffmpeg"), services.FFmpegOptions{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		Threads:     cfg.FFmpegThreads,
	})
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a manifest to an mp4",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return err
		}
		if presetName != "" {
			m.Options.RenderingPreset = presetName
		}

		uploads := cfg.UploadDir
		if outDir != "" {
			uploads = outDir
		}
		if err := os.MkdirAll(uploads, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		r := render.New(newFFmpeg(), render.Dirs{
			Uploads:  uploads,
			Music:    cfg.MusicDir,
			Overlays: cfg.OverlaysDir,
			Fonts:    cfg.FontDir,
		}, log.Logger, render.WithDefaultPreset(cfg.DefaultRenderingPreset))

		progress := func(percent float64, stage string) {
			log.Info().Str("stage", stage).Msgf("%5.1f%%", percent)
		}

		var out *models.RenderOutput
		if forceLegacy {
			out, err = r.RenderLegacy(cmd.Context(), m.VideoID, m.Scenes, m.Options, progress)
		} else {
			out, err = r.Render(cmd.Context(), m.VideoID, m.Scenes, m.Options, progress)
		}
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "video:     %s\n", out.VideoPath)
		if out.ThumbnailPath != "" {
			fmt.Fprintf(w, "thumbnail: %s\n", out.ThumbnailPath)
		}
		fmt.Fprintf(w, "duration:  %ds\n", out.Duration)
		fmt.Fprintf(w, "size:      %d bytes\n", out.FileSize)
		if out.Legacy {
			fmt.Fprintln(w, "renderer:  legacy")
		}
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List rendering presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		for _, p := range render.Presets() {
			fmt.Fprintf(w, "%-8s crf=%d preset=%s fps=%d flags=%s\n",
				p.Name, p.CRF, p.SpeedPreset, p.DefaultFPS, strings.Join(p.ExtraFlags, " "))
		}
		return nil
	},
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "List transitions and image animations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "transitions:")
		for _, t := range effects.Transitions {
			fmt.Fprintf(w, "  %s\n", t)
		}
		fmt.Fprintln(w, "animations:")
		for _, a := range effects.Animations {
			fmt.Fprintf(w, "  %s\n", a)
		}
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report which render path the local ffmpeg supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		caps := newFFmpeg().Probe(cmd.Context())
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ffmpeg:  %t %s\n", caps.FFmpeg, caps.Version)
		fmt.Fprintf(w, "ffprobe: %t\n", caps.FFprobe)
		fmt.Fprintf(w, "libx264: %t\n", caps.H264)
		path := "legacy"
		if caps.Fast() {
			path = "scene clips"
		} else if !caps.FFmpeg {
			path = "unavailable"
		}
		fmt.Fprintf(w, "encoder: %s\nrender path: %s\n", caps.Encoder(), path)
		return nil
	},
}
