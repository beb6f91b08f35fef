package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// Audio format of every clip we produce, so clips stay concat-compatible.
	audioCodec      = "aac"
	audioBitrate    = "192k"
	audioSampleRate = "44100"

	// MusicVolume attenuates background music under narration.
	MusicVolume = 0.3
	// OverlayOpacity is the alpha applied to the looping video overlay.
	OverlayOpacity = 0.5

	probeTimeout = 5 * time.Second
	stderrTail   = 20
)

// ProgressFunc receives the completed fraction [0,1] of a running command.
type ProgressFunc func(fraction float64)

// Within rescales fractions onto [lo, hi] of f.
func (f ProgressFunc) Within(lo, hi float64) ProgressFunc {
	if f == nil {
		return nil
	}
	return func(v float64) { f(lo + (hi-lo)*v) }
}

// EncodeParams are the video encoder settings of one ffmpeg output.
type EncodeParams struct {
	Codec       string
	CRF         int
	SpeedPreset string
	ExtraFlags  []string
}

func (p EncodeParams) videoArgs() []string {
	codec := p.Codec
	if codec == "" {
		codec = "libx264"
	}
	args := []string{"-c:v", codec}
	if codec == "libx264" {
		if p.SpeedPreset != "" {
			args = append(args, "-preset", p.SpeedPreset)
		}
		args = append(args, "-crf", strconv.Itoa(p.CRF))
		return append(args, p.ExtraFlags...)
	}

	// encoders without crf get a fixed quantizer and no x264 profile
	args = append(args, "-q:v", "2")
	for i := 0; i < len(p.ExtraFlags); i++ {
		if p.ExtraFlags[i] == "-profile:v" {
			i++
			continue
		}
		args = append(args, p.ExtraFlags[i])
	}
	return args
}

func audioArgs() []string {
	return []string{"-c:a", audioCodec, "-b:a", audioBitrate, "-ar", audioSampleRate, "-ac", "2"}
}

// CommandError is returned when ffmpeg or ffprobe exits unsuccessfully.
type CommandError struct {
	Tool string
	Args []string
	Err  error
	Tail string
}

func (e *CommandError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v\n%s", e.Tool, e.Err, e.Tail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Capabilities describes which parts of the ffmpeg toolchain are callable.
type Capabilities struct {
	FFmpeg  bool
	FFprobe bool
	H264    bool
	Version string
}

// Fast reports whether the full scene-clip + concat pipeline can run.
func (c Capabilities) Fast() bool {
	return c.FFmpeg && c.FFprobe && c.H264
}

// Encoder returns the best available video encoder.
func (c Capabilities) Encoder() string {
	if c.H264 {
		return "libx264"
	}
	return "mpeg4"
}

// FFmpegOptions configures FFmpegService.
type FFmpegOptions struct {
	FFmpegPath  string
	FFprobePath string
	Threads     int
}

// FFmpegService runs ffmpeg and ffprobe subprocesses.
type FFmpegService struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
}

func NewFFmpegService(logger zerolog.Logger, opts FFmpegOptions) *FFmpegService {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	return &FFmpegService{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  opts.FFmpegPath,
		ffprobePath: opts.FFprobePath,
		threads:     opts.Threads,
	}
}

// Probe checks which tools respond. It never fails; missing tools are
// reported as false.
func (s *FFmpegService) Probe(ctx context.Context) Capabilities {
	var caps Capabilities

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.ffmpegPath, "-version").Output()
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.ffmpegPath).Msg("ffmpeg not callable")
		return caps
	}
	caps.FFmpeg = true
	if line, _, _ := strings.Cut(string(out), "\n"); line != "" {
		caps.Version = strings.TrimSpace(line)
	}

	if err := exec.CommandContext(ctx, s.ffprobePath, "-version").Run(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.ffprobePath).Msg("ffprobe not callable")
	} else {
		caps.FFprobe = true
	}

	encoders, err := exec.CommandContext(ctx, s.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err == nil {
		caps.H264 = hasEncoder(string(encoders), "libx264")
	}

	s.logger.Debug().
		Bool("ffprobe", caps.FFprobe).
		Bool("h264", caps.H264).
		Str("version", caps.Version).
		Msg("toolchain probed")
	return caps
}

func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

// MediaDuration returns the duration of a media file in seconds. It uses
// ffprobe and falls back to the container header printed by ffmpeg when
// ffprobe is not installed.
func (s *FFmpegService) MediaDuration(ctx context.Context, path string) (float64, error) {
	if _, err := exec.LookPath(s.ffprobePath); err != nil {
		return s.headerDuration(ctx, path)
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return 0, &CommandError{Tool: "ffprobe", Args: args, Err: err, Tail: strings.TrimSpace(stderr.String())}
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse duration of %s: %w", path, err)
	}
	return seconds, nil
}

var headerDurationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

func (s *FFmpegService) headerDuration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	// ffmpeg exits non-zero without an output file; only the header matters
	cmd := exec.CommandContext(ctx, s.ffmpegPath, "-hide_banner", "-i", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	return parseHeaderDuration(stderr.String())
}

func parseHeaderDuration(text string) (float64, error) {
	m := headerDurationRe.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no duration in ffmpeg header")
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + sec, nil
}

// run executes ffmpeg with progress reporting. feed, when set, writes to the
// process stdin. expected is the output duration used to turn ffmpeg's
// out_time into a fraction.
func (s *FFmpegService) run(ctx context.Context, args []string, expected float64, feed func(io.Writer) error, onProgress ProgressFunc) error {
	full := []string{"-y", "-hide_banner", "-nostats", "-loglevel", "error", "-progress", "pipe:1"}
	if s.threads > 0 {
		full = append(full, "-threads", strconv.Itoa(s.threads))
	}
	full = append(full, args...)

	s.logger.Debug().Strs("args", full).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, s.ffmpegPath, full...)
	tail := &tailWriter{max: stderrTail}
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stdin io.WriteCloser
	if feed != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		parseProgress(stdout, expected, onProgress)
		return nil
	})
	if feed != nil {
		g.Go(func() error {
			defer stdin.Close()
			return feed(stdin)
		})
	}
	feedErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CommandError{Tool: "ffmpeg", Args: full, Err: waitErr, Tail: tail.String()}
	}
	if feedErr != nil {
		return fmt.Errorf("failed to write frames: %w", feedErr)
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// parseProgress reads `-progress` key=value blocks and reports out_time
// relative to expected.
func parseProgress(r io.Reader, expected float64, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || onProgress == nil || expected <= 0 {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			frac := float64(us) / 1e6 / expected
			if frac > 1 {
				frac = 1
			}
			onProgress(frac)
		}
	}
	// drain so ffmpeg never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

// tailWriter keeps the last max lines written to it.
type tailWriter struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial string
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	text := w.partial + string(p)
	parts := strings.Split(text, "\n")
	w.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line = strings.TrimSpace(line); line != "" {
			w.lines = append(w.lines, line)
		}
	}
	if len(w.lines) > w.max {
		w.lines = w.lines[len(w.lines)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := append([]string(nil), w.lines...)
	if p := strings.TrimSpace(w.partial); p != "" {
		lines = append(lines, p)
	}
	if len(lines) > w.max {
		lines = lines[len(lines)-w.max:]
	}
	return strings.Join(lines, "\n")
}

// writeFrames streams frames as packed RGBA.
func writeFrames(w io.Writer, frames func(t float64) *image.RGBA, count, fps, width, height int) error {
	bw := bufio.NewWriterSize(w, 4*width*height)
	for i := 0; i < count; i++ {
		img := frames(float64(i) / float64(fps))
		if err := writeRGBA(bw, img, width, height); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRGBA(w io.Writer, img *image.RGBA, width, height int) error {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("frame is %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}
	row := 4 * width
	if img.Stride == row && b.Min == (image.Point{}) {
		_, err := w.Write(img.Pix[:row*height])
		return err
	}
	for y := 0; y < height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		if _, err := w.Write(img.Pix[off : off+row]); err != nil {
			return err
		}
	}
	return nil
}

// escapeManifestPath quotes a path for a concat demuxer manifest line.
func escapeManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
