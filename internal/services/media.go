package services

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// AudioPlacement puts a slice of an audio file onto an output timeline.
// Length <= 0 plays the source to its end and disables the fade out.
type AudioPlacement struct {
	Path    string
	At      float64
	From    float64
	Length  float64
	FadeIn  float64
	FadeOut float64
}

// FrameJob encodes generated frames plus mixed audio in one ffmpeg pass.
type FrameJob struct {
	Frames        func(t float64) *image.RGBA
	Width, Height int
	FPS           int
	Duration      float64
	Audio         []AudioPlacement
	MusicPath     string
	OverlayPath   string
	Params        EncodeParams
	Output        string
	Progress      ProgressFunc
}

// EncodeFrames pipes raw RGBA frames into ffmpeg. The audio track is a silent
// bed of exactly Duration seconds with every placement mixed on top, so the
// output length never depends on the narration files.
func (s *FFmpegService) EncodeFrames(ctx context.Context, job FrameJob) error {
	if job.Frames == nil {
		return fmt.Errorf("no frame source")
	}
	if job.Duration <= 0 || job.FPS <= 0 {
		return fmt.Errorf("invalid duration %.3fs at %d fps", job.Duration, job.FPS)
	}

	count := int(math.Ceil(job.Duration*float64(job.FPS) - 1e-9))
	dur := formatSeconds(job.Duration)

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", job.Width, job.Height),
		"-framerate", strconv.Itoa(job.FPS),
		"-i", "pipe:0",
		"-f", "lavfi",
		"-t", dur,
		"-i", "anullsrc=r=" + audioSampleRate + ":cl=stereo",
	}
	next := 2
	for _, p := range job.Audio {
		args = append(args, "-i", p.Path)
	}
	placementStart := next
	next += len(job.Audio)

	musicIdx, overlayIdx := -1, -1
	if job.MusicPath != "" {
		musicIdx = next
		next++
		args = append(args, "-stream_loop", "-1", "-i", job.MusicPath)
	}
	if job.OverlayPath != "" {
		overlayIdx = next
		args = append(args, "-stream_loop", "-1", "-i", job.OverlayPath)
	}

	var graph []string
	narration := "[1:a]"
	if len(job.Audio) > 0 {
		var mixed string
		graph, mixed = placementGraph("[1:a]", job.Audio, placementStart)
		narration = mixed
	}
	graph = append(graph, audioOutGraph(narration, musicIdx)...)
	graph = append(graph, videoOutGraph("[0:v]", overlayIdx, job.Width, job.Height)...)

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "[v]",
		"-map", "[a]",
	)
	args = append(args, job.Params.videoArgs()...)
	args = append(args, "-r", strconv.Itoa(job.FPS))
	args = append(args, audioArgs()...)
	args = append(args, "-t", dur, job.Output)

	feed := func(w io.Writer) error {
		return writeFrames(w, job.Frames, count, job.FPS, job.Width, job.Height)
	}
	if err := s.run(ctx, args, job.Duration, feed, job.Progress); err != nil {
		return fmt.Errorf("encode %s: %w", job.Output, err)
	}
	return nil
}

// placementGraph trims, fades and delays each placement and mixes them over
// bed without changing its length.
func placementGraph(bed string, placements []AudioPlacement, firstInput int) ([]string, string) {
	graph := make([]string, 0, len(placements)+1)
	inputs := bed
	for i, p := range placements {
		chain := []string{}
		if p.Length > 0 {
			chain = append(chain, fmt.Sprintf("atrim=start=%s:duration=%s", formatSeconds(p.From), formatSeconds(p.Length)))
		} else {
			chain = append(chain, fmt.Sprintf("atrim=start=%s", formatSeconds(p.From)))
		}
		chain = append(chain,
			"asetpts=PTS-STARTPTS",
			"aformat=sample_rates="+audioSampleRate+":channel_layouts=stereo",
		)
		if p.FadeIn > 0 {
			chain = append(chain, fmt.Sprintf("afade=t=in:st=0:d=%s", formatSeconds(p.FadeIn)))
		}
		if p.FadeOut > 0 && p.Length > 0 {
			chain = append(chain, fmt.Sprintf("afade=t=out:st=%s:d=%s",
				formatSeconds(math.Max(0, p.Length-p.FadeOut)), formatSeconds(p.FadeOut)))
		}
		if p.At > 0 {
			ms := int64(math.Round(p.At * 1000))
			chain = append(chain, fmt.Sprintf("adelay=%d|%d", ms, ms))
		}
		label := fmt.Sprintf("[p%d]", i)
		graph = append(graph, fmt.Sprintf("[%d:a]%s%s", firstInput+i, strings.Join(chain, ","), label))
		inputs += label
	}
	graph = append(graph, fmt.Sprintf("%samix=inputs=%d:duration=first:dropout_transition=0:normalize=0[narr]", inputs, len(placements)+1))
	return graph, "[narr]"
}

// audioOutGraph produces [a]: narration alone, or narration with looping
// music attenuated to MusicVolume.
func audioOutGraph(narration string, musicIdx int) []string {
	if musicIdx < 0 {
		return []string{narration + "anull[a]"}
	}
	return []string{
		fmt.Sprintf("[%d:a]aformat=sample_rates=%s:channel_layouts=stereo,volume=%.2f[bg]", musicIdx, audioSampleRate, MusicVolume),
		narration + "[bg]amix=inputs=2:duration=first:dropout_transition=2:normalize=0[a]",
	}
}

// videoOutGraph produces [v]: the base stream, optionally under a looping
// overlay scaled to the frame and drawn at OverlayOpacity.
func videoOutGraph(base string, overlayIdx, width, height int) []string {
	if overlayIdx < 0 {
		return []string{base + "format=yuv420p[v]"}
	}
	return []string{
		fmt.Sprintf("[%d:v]scale=%d:%d,format=rgba,colorchannelmixer=aa=%.2f[ov]", overlayIdx, width, height, OverlayOpacity),
		base + "[ov]overlay=0:0:shortest=1,format=yuv420p[v]",
	}
}

// ConcatJob joins clips listed in a concat demuxer manifest.
type ConcatJob struct {
	Inputs   []string
	Manifest string
	Output   string
	ReEncode bool
	Params   EncodeParams
	FPS      int
	Duration float64
	Progress ProgressFunc
}

// Concat joins clips with the concat demuxer. Without ReEncode the streams
// are copied as they are. The manifest is removed whatever the outcome.
func (s *FFmpegService) Concat(ctx context.Context, job ConcatJob) error {
	if len(job.Inputs) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	f, err := os.Create(job.Manifest)
	if err != nil {
		return fmt.Errorf("failed to create concat manifest: %w", err)
	}
	defer os.Remove(job.Manifest)

	for _, path := range job.Inputs {
		fmt.Fprintf(f, "file '%s'\n", escapeManifestPath(absPath(path)))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write concat manifest: %w", err)
	}

	args := []string{"-f", "concat", "-safe", "0", "-i", job.Manifest}
	if job.ReEncode {
		args = append(args, job.Params.videoArgs()...)
		if job.FPS > 0 {
			args = append(args, "-r", strconv.Itoa(job.FPS))
		}
		args = append(args, audioArgs()...)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, job.Output)

	s.logger.Info().Int("clips", len(job.Inputs)).Bool("reencode", job.ReEncode).Msg("concatenating clips")
	if err := s.run(ctx, args, job.Duration, nil, job.Progress); err != nil {
		return fmt.Errorf("concatenate: %w", err)
	}
	return nil
}

// CrossfadeJob joins clips with overlapping dissolves.
type CrossfadeJob struct {
	Inputs    []string
	Durations []float64
	// Overlaps[i] is the dissolve between Inputs[i] and Inputs[i+1].
	Overlaps []float64
	Output   string
	Params   EncodeParams
	FPS      int
	Progress ProgressFunc
}

// ConcatCrossfade chains xfade/acrossfade filters. Each dissolve overlaps
// the neighbours, so the result is shorter than the sum of the inputs.
func (s *FFmpegService) ConcatCrossfade(ctx context.Context, job CrossfadeJob) error {
	n := len(job.Inputs)
	if n == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	if len(job.Durations) != n || len(job.Overlaps) != n-1 {
		return fmt.Errorf("crossfade needs %d durations and %d overlaps", n, n-1)
	}
	if n == 1 {
		return s.Concat(ctx, ConcatJob{Inputs: job.Inputs, Manifest: job.Output + ".txt", Output: job.Output, ReEncode: true, Params: job.Params, FPS: job.FPS, Duration: job.Durations[0], Progress: job.Progress})
	}

	var args []string
	for _, in := range job.Inputs {
		args = append(args, "-i", in)
	}
	graph, total := crossfadeGraph(job.Durations, job.Overlaps)
	args = append(args, "-filter_complex", strings.Join(graph, ";"), "-map", "[v]", "-map", "[a]")
	args = append(args, job.Params.videoArgs()...)
	if job.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(job.FPS))
	}
	args = append(args, audioArgs()...)
	args = append(args, job.Output)

	s.logger.Info().Int("clips", n).Float64("duration", total).Msg("crossfading clips")
	if err := s.run(ctx, args, total, nil, job.Progress); err != nil {
		return fmt.Errorf("crossfade concatenate: %w", err)
	}
	return nil
}

func crossfadeGraph(durations, overlaps []float64) ([]string, float64) {
	var graph []string
	vPrev, aPrev := "[0:v]", "[0:a]"
	length := durations[0]
	for i, d := range overlaps {
		offset := length - d
		vOut, aOut := fmt.Sprintf("[vx%d]", i+1), fmt.Sprintf("[ax%d]", i+1)
		graph = append(graph,
			fmt.Sprintf("%s[%d:v]xfade=transition=fade:duration=%s:offset=%s%s", vPrev, i+1, formatSeconds(d), formatSeconds(offset), vOut),
			fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", aPrev, i+1, formatSeconds(d), aOut),
		)
		vPrev, aPrev = vOut, aOut
		length = offset + durations[i+1]
	}
	graph = append(graph, vPrev+"format=yuv420p[v]", aPrev+"anull[a]")
	return graph, length
}

// FadeJob joins clips, each fading in from and out to black.
type FadeJob struct {
	Inputs    []string
	Durations []float64
	FadeIn    []float64
	FadeOut   []float64
	Output    string
	Params    EncodeParams
	FPS       int
	Progress  ProgressFunc
}

// ConcatFadeBlack fades every clip's picture and sound at its edges and
// joins them back to back. Total length equals the sum of the inputs.
func (s *FFmpegService) ConcatFadeBlack(ctx context.Context, job FadeJob) error {
	n := len(job.Inputs)
	if n == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	if len(job.Durations) != n || len(job.FadeIn) != n || len(job.FadeOut) != n {
		return fmt.Errorf("fade concat needs per-clip durations and fades")
	}

	var args []string
	for _, in := range job.Inputs {
		args = append(args, "-i", in)
	}
	graph, total := fadeBlackGraph(job.Durations, job.FadeIn, job.FadeOut)
	args = append(args, "-filter_complex", strings.Join(graph, ";"), "-map", "[v]", "-map", "[a]")
	args = append(args, job.Params.videoArgs()...)
	if job.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(job.FPS))
	}
	args = append(args, audioArgs()...)
	args = append(args, job.Output)

	s.logger.Info().Int("clips", n).Msg("concatenating clips with black fades")
	if err := s.run(ctx, args, total, nil, job.Progress); err != nil {
		return fmt.Errorf("fade concatenate: %w", err)
	}
	return nil
}

func fadeBlackGraph(durations, fadeIn, fadeOut []float64) ([]string, float64) {
	var graph []string
	var joined strings.Builder
	total := 0.0
	for i, d := range durations {
		vf := []string{"setsar=1"}
		af := []string{"anull"}
		if fadeIn[i] > 0 {
			vf = append(vf, fmt.Sprintf("fade=t=in:st=0:d=%s", formatSeconds(fadeIn[i])))
			af = append(af, fmt.Sprintf("afade=t=in:st=0:d=%s", formatSeconds(fadeIn[i])))
		}
		if fadeOut[i] > 0 {
			st := formatSeconds(math.Max(0, d-fadeOut[i]))
			vf = append(vf, fmt.Sprintf("fade=t=out:st=%s:d=%s", st, formatSeconds(fadeOut[i])))
			af = append(af, fmt.Sprintf("afade=t=out:st=%s:d=%s", st, formatSeconds(fadeOut[i])))
		}
		graph = append(graph,
			fmt.Sprintf("[%d:v]%s[fv%d]", i, strings.Join(vf, ","), i),
			fmt.Sprintf("[%d:a]%s[fa%d]", i, strings.Join(af, ","), i),
		)
		fmt.Fprintf(&joined, "[fv%d][fa%d]", i, i)
		total += d
	}
	graph = append(graph,
		fmt.Sprintf("%sconcat=n=%d:v=1:a=1[cv][a]", joined.String(), len(durations)),
		"[cv]format=yuv420p[v]",
	)
	return graph, total
}

// PostJob describes music and overlay compositing over a finished video.
type PostJob struct {
	Input       string
	Output      string
	MusicPath   string
	OverlayPath string
	Width       int
	Height      int
	Duration    float64
	Params      EncodeParams
	Progress    ProgressFunc
}

// PostProcess adds music and overlay in a single filter graph pass. With
// neither it only remuxes the input.
func (s *FFmpegService) PostProcess(ctx context.Context, job PostJob) error {
	if job.MusicPath == "" && job.OverlayPath == "" {
		args := []string{"-i", job.Input, "-c", "copy", "-movflags", "+faststart", job.Output}
		if err := s.run(ctx, args, job.Duration, nil, job.Progress); err != nil {
			return fmt.Errorf("remux: %w", err)
		}
		return nil
	}

	args := []string{"-i", job.Input}
	next := 1
	musicIdx, overlayIdx := -1, -1
	if job.MusicPath != "" {
		musicIdx = next
		next++
		args = append(args, "-stream_loop", "-1", "-i", job.MusicPath)
	}
	if job.OverlayPath != "" {
		overlayIdx = next
		args = append(args, "-stream_loop", "-1", "-i", job.OverlayPath)
	}

	graph := audioOutGraph("[0:a]", musicIdx)
	graph = append(graph, videoOutGraph("[0:v]", overlayIdx, job.Width, job.Height)...)
	args = append(args, "-filter_complex", strings.Join(graph, ";"), "-map", "[v]", "-map", "[a]")
	args = append(args, job.Params.videoArgs()...)
	args = append(args, audioArgs()...)
	if job.Duration > 0 {
		args = append(args, "-t", formatSeconds(job.Duration))
	}
	args = append(args, job.Output)

	s.logger.Info().
		Bool("music", musicIdx >= 0).
		Bool("overlay", overlayIdx >= 0).
		Msg("post-processing video")
	if err := s.run(ctx, args, job.Duration, nil, job.Progress); err != nil {
		return fmt.Errorf("post-process: %w", err)
	}
	return nil
}

// MixBackgroundMusic lays looping music under the existing audio and trims it
// to the video length. The video stream is copied.
func (s *FFmpegService) MixBackgroundMusic(ctx context.Context, job PostJob) error {
	if job.MusicPath == "" {
		return fmt.Errorf("no background music")
	}
	filter := fmt.Sprintf("[0:a]volume=1.0[narration];[1:a]volume=%.2f[music];[narration][music]amix=inputs=2:duration=first:dropout_transition=2:normalize=0[aout]", MusicVolume)
	args := []string{
		"-i", job.Input,
		"-stream_loop", "-1",
		"-i", job.MusicPath,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
	}
	args = append(args, audioArgs()...)
	if job.Duration > 0 {
		args = append(args, "-t", formatSeconds(job.Duration))
	}
	args = append(args, "-shortest", job.Output)

	s.logger.Info().Str("music", job.MusicPath).Msg("mixing background music")
	if err := s.run(ctx, args, job.Duration, nil, job.Progress); err != nil {
		return fmt.Errorf("mix background music: %w", err)
	}
	return nil
}

// OverlayVideo composites a looping overlay over the input, keeping its
// audio as is.
func (s *FFmpegService) OverlayVideo(ctx context.Context, job PostJob) error {
	if job.OverlayPath == "" {
		return fmt.Errorf("no overlay")
	}
	filter := strings.Join(videoOutGraph("[0:v]", 1, job.Width, job.Height), ";")
	args := []string{
		"-i", job.Input,
		"-stream_loop", "-1",
		"-i", job.OverlayPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "0:a?",
	}
	args = append(args, job.Params.videoArgs()...)
	args = append(args, "-c:a", "copy")
	if job.Duration > 0 {
		args = append(args, "-t", formatSeconds(job.Duration))
	}
	args = append(args, job.Output)

	s.logger.Info().Str("overlay", job.OverlayPath).Msg("compositing overlay")
	if err := s.run(ctx, args, job.Duration, nil, job.Progress); err != nil {
		return fmt.Errorf("overlay video: %w", err)
	}
	return nil
}

// ExtractThumbnail writes the first frame of a video as JPEG.
func (s *FFmpegService) ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error {
	args := []string{"-ss", "0", "-i", videoPath, "-frames:v", "1", "-q:v", "2", outputPath}
	if err := s.run(ctx, args, 0, nil, nil); err != nil {
		return fmt.Errorf("extract thumbnail: %w", err)
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
