package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/services"
)

// fakeTools records every call and writes placeholder output files.
type fakeTools struct {
	mu        sync.Mutex
	caps      services.Capabilities
	durations map[string]float64

	frameJobs  []services.FrameJob
	concats    []services.ConcatJob
	crossfades []services.CrossfadeJob
	fades      []services.FadeJob
	posts      []services.PostJob
	mixes      int
	overlays   int
	thumbs     int

	postErr   error
	thumbErr  error
	concatErr error
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		caps:      services.Capabilities{FFmpeg: true, FFprobe: true, H264: true},
		durations: make(map[string]float64),
	}
}

func (f *fakeTools) write(path string, duration float64) error {
	f.durations[path] = duration
	return os.WriteFile(path, []byte("fake media"), 0o644)
}

func report(p services.ProgressFunc) {
	if p != nil {
		p(0.5)
		p(1)
	}
}

func (f *fakeTools) Probe(ctx context.Context) services.Capabilities { return f.caps }

func (f *fakeTools) MediaDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.durations[path]
	if !ok {
		return 0, fmt.Errorf("no duration for %s", path)
	}
	return d, nil
}

func (f *fakeTools) EncodeFrames(ctx context.Context, job services.FrameJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameJobs = append(f.frameJobs, job)
	report(job.Progress)
	return f.write(job.Output, job.Duration)
}

func (f *fakeTools) Concat(ctx context.Context, job services.ConcatJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concats = append(f.concats, job)
	if f.concatErr != nil {
		return f.concatErr
	}
	report(job.Progress)
	return f.write(job.Output, job.Duration)
}

func (f *fakeTools) ConcatCrossfade(ctx context.Context, job services.CrossfadeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crossfades = append(f.crossfades, job)
	total := 0.0
	for _, d := range job.Durations {
		total += d
	}
	for _, o := range job.Overlaps {
		total -= o
	}
	report(job.Progress)
	return f.write(job.Output, total)
}

func (f *fakeTools) ConcatFadeBlack(ctx context.Context, job services.FadeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fades = append(f.fades, job)
	total := 0.0
	for _, d := range job.Durations {
		total += d
	}
	report(job.Progress)
	return f.write(job.Output, total)
}

func (f *fakeTools) PostProcess(ctx context.Context, job services.PostJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, job)
	if f.postErr != nil {
		return f.postErr
	}
	report(job.Progress)
	return f.write(job.Output, job.Duration)
}

func (f *fakeTools) MixBackgroundMusic(ctx context.Context, job services.PostJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mixes++
	return f.write(job.Output, job.Duration)
}

func (f *fakeTools) OverlayVideo(ctx context.Context, job services.PostJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlays++
	return f.write(job.Output, job.Duration)
}

func (f *fakeTools) ExtractThumbnail(ctx context.Context, videoPath, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbs++
	if f.thumbErr != nil {
		return f.thumbErr
	}
	return os.WriteFile(outputPath, []byte("jpeg"), 0o644)
}

func writePNG(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return path
}

type progressLog struct {
	mu      sync.Mutex
	percent []float64
	stages  []string
}

func (p *progressLog) record(percent float64, stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = append(p.percent, percent)
	p.stages = append(p.stages, stage)
}

func (p *progressLog) stageOrder() []string {
	var out []string
	for _, s := range p.stages {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func newTestRenderer(t *testing.T, tools Toolchain) (*Renderer, Dirs) {
	t.Helper()
	root := t.TempDir()
	dirs := Dirs{
		Uploads:  filepath.Join(root, "uploads"),
		Music:    filepath.Join(root, "music"),
		Overlays: filepath.Join(root, "overlays"),
		Fonts:    filepath.Join(root, "font"),
	}
	for _, d := range []string{dirs.Uploads, dirs.Music, dirs.Overlays, dirs.Fonts} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	return New(tools, dirs, zerolog.Nop(), WithRand(rand.New(rand.NewSource(7)))), dirs
}

func threeScenes(t *testing.T, dir string) []models.Scene {
	return []models.Scene{
		{SceneNumber: 3, Text: "Third.", ImagePath: writePNG(t, dir, "c.png", color.RGBA{B: 200, A: 255}), Duration: 4},
		{SceneNumber: 1, Text: "First scene.", ImagePath: writePNG(t, dir, "a.png", color.RGBA{R: 200, A: 255}), Duration: 2},
		{SceneNumber: 2, Text: "", ImagePath: writePNG(t, dir, "b.png", color.RGBA{G: 200, A: 255}), Duration: 3},
	}
}

func TestRenderStagesAndCleanup(t *testing.T) {
	tools := newFakeTools()
	r, dirs := newTestRenderer(t, tools)
	scenes := threeScenes(t, t.TempDir())

	var progress progressLog
	out, err := r.Render(context.Background(), "v1", scenes, models.RenderOptions{Resolution: "720p"}, progress.record)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := []string{"rendering_scenes", "concatenating", "post_processing", "thumbnail", "done"}
	got := progress.stageOrder()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("stage order = %v, want %v", got, want)
	}
	for i := 1; i < len(progress.percent); i++ {
		if progress.percent[i] < progress.percent[i-1] {
			t.Fatalf("progress went backwards: %v", progress.percent)
		}
	}
	if last := progress.percent[len(progress.percent)-1]; last != 100 {
		t.Errorf("final progress = %v, want 100", last)
	}

	if len(tools.frameJobs) != 3 {
		t.Fatalf("encoded %d scene clips, want 3", len(tools.frameJobs))
	}
	for i, wantDur := range []float64{2, 3, 4} {
		if tools.frameJobs[i].Duration != wantDur {
			t.Errorf("scene %d duration = %v, want %v", i+1, tools.frameJobs[i].Duration, wantDur)
		}
		if tools.frameJobs[i].Params.CRF != 26 || tools.frameJobs[i].Width != 720 || tools.frameJobs[i].FPS != 24 {
			t.Errorf("scene %d job = %+v", i+1, tools.frameJobs[i].Params)
		}
	}

	if len(tools.concats) != 1 || tools.concats[0].ReEncode {
		t.Fatalf("expected one stream-copy concat, got %+v", tools.concats)
	}
	if out.Duration != 9 {
		t.Errorf("duration = %d, want 9", out.Duration)
	}
	if out.VideoURL != "/uploads/video_v1_final.mp4" || out.ThumbnailURL != "/uploads/video_v1_thumb.jpg" {
		t.Errorf("urls = %q %q", out.VideoURL, out.ThumbnailURL)
	}
	if out.FileSize == 0 {
		t.Error("expected a file size")
	}
	for _, stage := range want[:4] {
		if _, ok := out.StageTimings[stage]; !ok {
			t.Errorf("missing timing for %s", stage)
		}
	}

	for n := 1; n <= 3; n++ {
		clip := filepath.Join(dirs.Uploads, fmt.Sprintf("video_v1_scene_%d_clip.mp4", n))
		if _, err := os.Stat(clip); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("scene clip %d not cleaned up", n)
		}
	}
	if _, err := os.Stat(filepath.Join(dirs.Uploads, "video_v1_concat_temp.mp4")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("concat temp not cleaned up")
	}
}

func TestRenderFallsBackToLegacy(t *testing.T) {
	tools := newFakeTools()
	tools.caps.H264 = false
	r, dirs := newTestRenderer(t, tools)
	scenes := threeScenes(t, t.TempDir())

	var progress progressLog
	out, err := r.Render(context.Background(), "v2", scenes, models.RenderOptions{Resolution: "720p"}, progress.record)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !out.Legacy {
		t.Error("expected a legacy render")
	}
	if len(tools.frameJobs) != 1 || len(tools.concats) != 0 || len(tools.posts) != 0 {
		t.Fatalf("legacy path should encode once, got %d encodes %d concats %d posts", len(tools.frameJobs), len(tools.concats), len(tools.posts))
	}
	job := tools.frameJobs[0]
	if job.Params.Codec != "mpeg4" {
		t.Errorf("codec = %q, want mpeg4", job.Params.Codec)
	}
	if job.Duration != 9 || out.Duration != 9 {
		t.Errorf("timeline duration = %v, output %d", job.Duration, out.Duration)
	}

	n := len(progress.percent)
	for i, p := range progress.percent[:n-1] {
		if p > LegacyProgressCeiling {
			t.Errorf("legacy progress %v at %d exceeds %v", p, i, float64(LegacyProgressCeiling))
		}
		if progress.stages[i] != string(StageLegacyRender) {
			t.Errorf("stage = %q", progress.stages[i])
		}
	}
	if progress.percent[n-1] != 100 || progress.stages[n-1] != "done" {
		t.Errorf("final report = %v %q", progress.percent[n-1], progress.stages[n-1])
	}
	if _, err := os.Stat(filepath.Join(dirs.Uploads, "video_v2_final.mp4")); err != nil {
		t.Errorf("final video missing: %v", err)
	}
	if _, err := os.Stat(out.ThumbnailPath); err != nil {
		t.Errorf("thumbnail missing: %v", err)
	}
}

func TestLegacyThumbnailIncludesOverlay(t *testing.T) {
	tools := newFakeTools()
	tools.caps.H264 = false
	r, dirs := newTestRenderer(t, tools)
	if err := os.WriteFile(filepath.Join(dirs.Overlays, "grain.mp4"), []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := r.Render(context.Background(), "lo", threeScenes(t, t.TempDir()), models.RenderOptions{Resolution: "720p", VideoOverlay: "grain.mp4"}, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if tools.thumbs != 1 {
		t.Errorf("thumbnail extractions = %d, want 1 from the composited video", tools.thumbs)
	}
	if out.ThumbnailPath == "" {
		t.Error("expected a thumbnail")
	}

	tools.thumbs = 0
	if _, err := r.Render(context.Background(), "ln", threeScenes(t, t.TempDir()), models.RenderOptions{Resolution: "720p"}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if tools.thumbs != 0 {
		t.Errorf("without an overlay the timeline frame is used, got %d extractions", tools.thumbs)
	}
}

func TestRenderWithoutFFmpeg(t *testing.T) {
	tools := newFakeTools()
	tools.caps = services.Capabilities{}
	r, _ := newTestRenderer(t, tools)
	_, err := r.Render(context.Background(), "v", threeScenes(t, t.TempDir()), models.RenderOptions{}, nil)
	if !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("err = %v, want ErrToolchainUnavailable", err)
	}
}

func TestRenderCrossfade(t *testing.T) {
	tools := newFakeTools()
	r, _ := newTestRenderer(t, tools)
	dir := t.TempDir()
	scenes := []models.Scene{
		{SceneNumber: 1, ImagePath: writePNG(t, dir, "a.png", color.RGBA{R: 255, A: 255}), Duration: 4},
		{SceneNumber: 2, ImagePath: writePNG(t, dir, "b.png", color.RGBA{G: 255, A: 255}), Duration: 4},
	}
	opts := models.RenderOptions{Resolution: "720p", TransitionType: "dissolve", TransitionDuration: 0.5}
	if _, err := r.Render(context.Background(), "xf", scenes, opts, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(tools.crossfades) != 1 || len(tools.concats) != 0 {
		t.Fatalf("expected one crossfade join, got %d crossfades %d concats", len(tools.crossfades), len(tools.concats))
	}
	if got := tools.crossfades[0].Overlaps; len(got) != 1 || got[0] != 0.5 {
		t.Errorf("overlaps = %v", got)
	}
	if d := tools.posts[0].Duration; d != 7.5 {
		t.Errorf("post-process duration = %v, want 7.5", d)
	}
}

func TestRenderFadeBlack(t *testing.T) {
	tools := newFakeTools()
	r, _ := newTestRenderer(t, tools)
	scenes := threeScenes(t, t.TempDir())
	opts := models.RenderOptions{Resolution: "720p", TransitionType: "dip to black", TransitionDuration: 0.8}
	if _, err := r.Render(context.Background(), "fb", scenes, opts, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(tools.fades) != 1 {
		t.Fatalf("expected a fade join, got %d", len(tools.fades))
	}
	job := tools.fades[0]
	if fmt.Sprint(job.FadeIn) != "[0 0.8 0.8]" || fmt.Sprint(job.FadeOut) != "[0.8 0.8 0]" {
		t.Errorf("fades in=%v out=%v", job.FadeIn, job.FadeOut)
	}
}

func TestRenderInsertsBridges(t *testing.T) {
	tools := newFakeTools()
	r, dirs := newTestRenderer(t, tools)
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(audio, []byte("id3"), 0o644); err != nil {
		t.Fatal(err)
	}
	tools.durations[audio] = 3
	scenes := []models.Scene{
		{SceneNumber: 1, ImagePath: writePNG(t, dir, "a.png", color.RGBA{R: 255, A: 255}), AudioPath: audio},
		{SceneNumber: 2, ImagePath: writePNG(t, dir, "b.png", color.RGBA{G: 255, A: 255}), Duration: 3},
	}
	opts := models.RenderOptions{Resolution: "720p", TransitionType: "push_left", TransitionDuration: 0.5}
	out, err := r.Render(context.Background(), "br", scenes, opts, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(tools.frameJobs) != 3 {
		t.Fatalf("expected 2 scenes + 1 bridge encodes, got %d", len(tools.frameJobs))
	}
	bridge := tools.frameJobs[2]
	if bridge.Duration != 0.5 || len(bridge.Audio) != 0 {
		t.Errorf("bridge job duration=%v audio=%v", bridge.Duration, bridge.Audio)
	}
	if filepath.Base(bridge.Output) != "video_br_bridge_1.mp4" {
		t.Errorf("bridge output = %s", bridge.Output)
	}
	if len(tools.concats) != 1 || !tools.concats[0].ReEncode || len(tools.concats[0].Inputs) != 3 {
		t.Fatalf("expected a re-encoded concat of 3 inputs, got %+v", tools.concats)
	}
	if tools.concats[0].Inputs[1] != bridge.Output {
		t.Errorf("bridge not between scenes: %v", tools.concats[0].Inputs)
	}
	if out.Duration != 6 {
		t.Errorf("duration = %d, want 6", out.Duration)
	}
	if _, err := os.Stat(filepath.Join(dirs.Uploads, "video_br_bridge_1.mp4")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("bridge clip not cleaned up")
	}
}

func TestRenderConcatFailureRemovesBridges(t *testing.T) {
	tools := newFakeTools()
	tools.concatErr = errors.New("concat exited 1")
	r, dirs := newTestRenderer(t, tools)
	dir := t.TempDir()
	scenes := []models.Scene{
		{SceneNumber: 1, ImagePath: writePNG(t, dir, "a.png", color.RGBA{R: 255, A: 255}), Duration: 3},
		{SceneNumber: 2, ImagePath: writePNG(t, dir, "b.png", color.RGBA{G: 255, A: 255}), Duration: 3},
	}
	opts := models.RenderOptions{Resolution: "720p", TransitionType: "wipe_left", TransitionDuration: 0.5}

	_, err := r.Render(context.Background(), "cf", scenes, opts, nil)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageConcatenating {
		t.Fatalf("err = %v, want a concatenating StageError", err)
	}
	if _, err := os.Stat(filepath.Join(dirs.Uploads, "video_cf_bridge_1.mp4")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("bridge clip left behind after a failed concat")
	}
	for n := 1; n <= 2; n++ {
		if _, err := os.Stat(filepath.Join(dirs.Uploads, fmt.Sprintf("video_cf_scene_%d_clip.mp4", n))); err != nil {
			t.Errorf("scene clip %d should be kept for diagnosis: %v", n, err)
		}
	}
}

func TestRenderBridgeAudio(t *testing.T) {
	tools := newFakeTools()
	r, _ := newTestRenderer(t, tools)
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	if err := os.WriteFile(audio, []byte("id3"), 0o644); err != nil {
		t.Fatal(err)
	}
	tools.durations[audio] = 4
	scenes := []models.Scene{
		{SceneNumber: 1, ImagePath: writePNG(t, dir, "a.png", color.RGBA{R: 255, A: 255}), AudioPath: audio},
		{SceneNumber: 2, ImagePath: writePNG(t, dir, "b.png", color.RGBA{G: 255, A: 255}), Duration: 4},
	}
	opts := models.RenderOptions{Resolution: "720p", TransitionType: "flash", TransitionDuration: 1, BridgeAudio: true}
	if _, err := r.Render(context.Background(), "ba", scenes, opts, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	bridge := tools.frameJobs[2]
	if len(bridge.Audio) != 1 || bridge.Audio[0].From != 3 || bridge.Audio[0].FadeOut != 1 {
		t.Errorf("bridge audio = %+v", bridge.Audio)
	}
}

func TestRenderErrors(t *testing.T) {
	tools := newFakeTools()
	r, _ := newTestRenderer(t, tools)
	ctx := context.Background()

	if _, err := r.Render(ctx, "e", nil, models.RenderOptions{}, nil); !errors.Is(err, ErrNoScenes) {
		t.Errorf("empty scenes err = %v", err)
	}

	scenes := threeScenes(t, t.TempDir())
	if _, err := r.Render(ctx, "e", scenes, models.RenderOptions{RenderingPreset: "ultra"}, nil); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("unknown preset err = %v", err)
	}

	scenes[1].ImagePath = filepath.Join(t.TempDir(), "missing.png")
	_, err := r.Render(ctx, "e", scenes, models.RenderOptions{Resolution: "720p"}, nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing image err = %v, want fs.ErrNotExist", err)
	}
	var sceneErr *SceneError
	if !errors.As(err, &sceneErr) || sceneErr.SceneNumber != 1 {
		t.Errorf("expected a SceneError for scene 1, got %v", err)
	}

	for _, id := range []string{"../escape", "a/b", `a\b`, ".."} {
		if _, err := r.Render(ctx, id, scenes, models.RenderOptions{}, nil); !errors.Is(err, ErrInvalidVideoID) {
			t.Errorf("video id %q err = %v, want ErrInvalidVideoID", id, err)
		}
	}
	if len(tools.frameJobs) != 0 {
		t.Errorf("invalid video ids must not encode anything, got %d jobs", len(tools.frameJobs))
	}

	bad := []models.Scene{{SceneNumber: 0, ImagePath: "x.png"}}
	if _, err := r.Render(ctx, "e", bad, models.RenderOptions{}, nil); !errors.Is(err, ErrInvalidScene) {
		t.Errorf("scene_number 0 err = %v", err)
	}
}

func TestRenderPostProcessFallback(t *testing.T) {
	tools := newFakeTools()
	tools.postErr = errors.New("filter graph failed")
	r, dirs := newTestRenderer(t, tools)
	if err := os.WriteFile(filepath.Join(dirs.Music, "bg.mp3"), []byte("id3"), 0o644); err != nil {
		t.Fatal(err)
	}
	scenes := threeScenes(t, t.TempDir())
	opts := models.RenderOptions{Resolution: "720p", BackgroundMusic: "bg.mp3", VideoOverlay: "missing.mp4"}
	if _, err := r.Render(context.Background(), "pp", scenes, opts, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if tools.mixes != 1 || tools.overlays != 0 {
		t.Errorf("fallback mixes=%d overlays=%d", tools.mixes, tools.overlays)
	}
	if tools.posts[0].OverlayPath != "" {
		t.Error("missing overlay should be skipped")
	}
}

func TestRenderThumbnailFailureIsNotFatal(t *testing.T) {
	tools := newFakeTools()
	tools.thumbErr = errors.New("no frames")
	r, _ := newTestRenderer(t, tools)
	out, err := r.Render(context.Background(), "th", threeScenes(t, t.TempDir()), models.RenderOptions{Resolution: "720p"}, nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.ThumbnailPath != "" || out.ThumbnailURL != "" {
		t.Errorf("thumbnail = %q %q", out.ThumbnailPath, out.ThumbnailURL)
	}
}

func TestSceneDurationAudioWins(t *testing.T) {
	tools := newFakeTools()
	r, _ := newTestRenderer(t, tools)
	dir := t.TempDir()
	audio := filepath.Join(dir, "n.mp3")
	if err := os.WriteFile(audio, []byte("id3"), 0o644); err != nil {
		t.Fatal(err)
	}
	tools.durations[audio] = 5.25

	scene := models.Scene{SceneNumber: 1, Text: "hello", ImagePath: writePNG(t, dir, "a.png", color.RGBA{A: 255}), AudioPath: audio, Duration: 2}
	clip, err := r.RenderSceneClip(context.Background(), "sd", scene, models.RenderOptions{Resolution: "720p"})
	if err != nil {
		t.Fatalf("RenderSceneClip: %v", err)
	}
	if clip.Duration != 5.25 {
		t.Errorf("duration = %v, want 5.25", clip.Duration)
	}
	if got := tools.frameJobs[0].Audio; len(got) != 1 || got[0].Length != 5.25 {
		t.Errorf("audio placements = %+v", got)
	}

	scene.AudioPath = filepath.Join(dir, "gone.mp3")
	clip, err = r.RenderSceneClip(context.Background(), "sd", scene, models.RenderOptions{Resolution: "720p"})
	if err != nil {
		t.Fatalf("RenderSceneClip: %v", err)
	}
	if clip.Duration != 2 || clip.AudioPath != "" {
		t.Errorf("missing audio clip = %+v", clip)
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name  string
		scene models.Scene
		want  float64
	}{
		{"empty text", models.Scene{}, 2},
		{"short text", models.Scene{Text: "Hi there"}, 2},
		{"long text", models.Scene{Text: "abcdefghijabcdefghijabcdefghijabcdefghijabcdefghij"}, 4},
		{"declared", models.Scene{Text: "Hi", Duration: 6.5}, 6.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDuration(tt.scene); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EstimateDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanTransitionsClamp(t *testing.T) {
	r, _ := newTestRenderer(t, newFakeTools())
	plan := r.planTransitions(effects.TransitionCrossfade, 5, []float64{2, 6, 10})
	if len(plan) != 2 {
		t.Fatalf("plan = %v", plan)
	}
	if plan[0].Duration != 1 || plan[1].Duration != 3 {
		t.Errorf("clamped durations = %v, %v", plan[0].Duration, plan[1].Duration)
	}
	for _, b := range r.planTransitions(effects.TransitionFlash, 0, []float64{2, 2}) {
		if b.active() {
			t.Error("zero duration must not be active")
		}
	}
	if mode := selectConcatMode(effects.TransitionCrossfade, r.planTransitions(effects.TransitionCrossfade, 0, []float64{3, 3})); mode != concatCopy {
		t.Errorf("zero-length crossfade mode = %v, want copy", mode)
	}
}

func TestPlanTransitionsRandomPerBoundary(t *testing.T) {
	r, _ := newTestRenderer(t, newFakeTools())
	durations := make([]float64, 40)
	for i := range durations {
		durations[i] = 4
	}
	plan := r.planTransitions(effects.TransitionRandom, 1, durations)
	seen := make(map[effects.Transition]bool)
	for _, b := range plan {
		if !b.Kind.UsesBridge() {
			t.Errorf("random drew %q", b.Kind)
		}
		seen[b.Kind] = true
	}
	if len(seen) < 2 {
		t.Errorf("random transitions were not drawn per boundary: %v", seen)
	}
	if mode := selectConcatMode(effects.TransitionRandom, plan); mode != concatBridges {
		t.Errorf("mode = %v", mode)
	}
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("", PresetFast)
	if err != nil || p.Name != PresetFast || p.CRF != 26 || p.DefaultFPS != 24 {
		t.Errorf("default preset = %+v, %v", p, err)
	}
	p, err = LookupPreset("Quality", PresetFast)
	if err != nil || p.CRF != 20 || p.SpeedPreset != "medium" {
		t.Errorf("quality preset = %+v, %v", p, err)
	}
	if _, err := LookupPreset("turbo", PresetFast); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("err = %v", err)
	}
	if p.FPS(0) != 30 || p.FPS(60) != 60 {
		t.Errorf("fps fallback wrong")
	}
	params := p.Params("libx264")
	params.ExtraFlags[0] = "changed"
	if presets[PresetQuality].ExtraFlags[0] != "-movflags" {
		t.Error("Params must copy extra flags")
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		res         string
		orientation models.Orientation
		w, h        int
	}{
		{"720p", models.OrientationPortrait, 720, 1280},
		{"720p", models.OrientationLandscape, 1280, 720},
		{"1080p", "", 1080, 1920},
		{"2K", models.OrientationPortrait, 1440, 2560},
		{"1440p", models.OrientationLandscape, 2560, 1440},
		{"4k", models.OrientationLandscape, 3840, 2160},
		{"8K", models.OrientationPortrait, 1080, 1920},
		{"", models.OrientationLandscape, 1920, 1080},
	}
	for _, tt := range tests {
		w, h := Dimensions(tt.res, tt.orientation)
		if w != tt.w || h != tt.h {
			t.Errorf("Dimensions(%q, %q) = %dx%d, want %dx%d", tt.res, tt.orientation, w, h, tt.w, tt.h)
		}
	}
}

func TestTrackerMonotonic(t *testing.T) {
	var log progressLog
	tr := newTracker(log.record, 0, 100)
	tr.stage(StageConcatenating, 0.5)
	tr.stage(StageRenderingScenes, 1)
	tr.stage(StageConcatenating, 0.5)
	tr.within(StagePostProcessing, 0, 0.5)(1)
	tr.done()

	// a late report for an earlier stage keeps the percentage where it was
	want := []float64{77.5, 77.5, 77.5, 90, 100}
	if fmt.Sprint(log.percent) != fmt.Sprint(want) {
		t.Errorf("percent = %v, want %v", log.percent, want)
	}

	var legacy progressLog
	lt := newTracker(legacy.record, 0, LegacyProgressCeiling)
	lt.stage(StageLegacyRender, 1)
	if legacy.percent[0] != LegacyProgressCeiling {
		t.Errorf("legacy percent = %v", legacy.percent)
	}
}

func TestTimelineFrame(t *testing.T) {
	red := solid(4, 4, color.RGBA{R: 200, A: 255})
	blue := solid(4, 4, color.RGBA{B: 200, A: 255})
	still := func(img *image.RGBA) effects.FrameFunc {
		return func(float64) *image.RGBA { return img }
	}

	crossfade := &timeline{
		segments: []segment{
			{start: 0, duration: 2, frames: still(red)},
			{start: 1, duration: 2, frames: still(blue)},
		},
		duration: 3,
	}
	mid := crossfade.frame(1.5).RGBAAt(0, 0)
	if mid.R != 100 || mid.B != 100 {
		t.Errorf("crossfade midpoint = %v", mid)
	}
	if got := crossfade.frame(2.5).RGBAAt(0, 0); got.B != 200 || got.R != 0 {
		t.Errorf("after overlap = %v", got)
	}

	faded := &timeline{
		segments: []segment{
			{start: 0, duration: 2, frames: still(red), fadeOut: 1},
			{start: 2, duration: 2, frames: still(blue), fadeIn: 1},
		},
		duration: 4,
	}
	if got := faded.frame(2).RGBAAt(0, 0); got.B != 0 {
		t.Errorf("fade-in start should be black, got %v", got)
	}
	if got := faded.frame(1.5).RGBAAt(0, 0); got.R != 100 {
		t.Errorf("half faded = %v", got)
	}
	if red.RGBAAt(0, 0).R != 200 {
		t.Error("fading must not modify the source frame")
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}
