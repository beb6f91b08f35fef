package models

import (
	"encoding/json"
	"testing"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"legacy":  false,
		"version": "ffmpeg version 6.1",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	// Verify it's valid JSON
	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["version"] != "ffmpeg version 6.1" {
		t.Errorf("expected version, got %v", result["version"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"stage": "concat", "seconds": 10}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["stage"] != "concat" {
		t.Errorf("expected stage=concat, got %v", j["stage"])
	}

	if j["seconds"].(float64) != 10 {
		t.Errorf("expected seconds=10, got %v", j["seconds"])
	}
}

func TestSceneListScan(t *testing.T) {
	var scenes SceneList
	raw := `[{"scene_number":2,"text":"b","image_path":"b.png"},{"scene_number":1,"text":"a","image_path":"a.png","audio_path":"a.mp3"}]`
	if err := scenes.Scan([]byte(raw)); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	if len(scenes) != 2 || scenes[1].AudioPath != "a.mp3" || scenes[0].SceneNumber != 2 {
		t.Errorf("unexpected scenes %+v", scenes)
	}
	if err := scenes.Scan(42); err == nil {
		t.Error("expected an error for a non-JSON column")
	}
}

func TestRenderOptionsRoundTrip(t *testing.T) {
	opacity := 0
	opts := RenderOptions{
		Resolution:     "720p",
		Orientation:    OrientationLandscape,
		TransitionType: "dissolve",
		SubtitleStyle:  &SubtitleStyle{Position: "top", BgOpacity: &opacity},
	}
	v, err := opts.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var got RenderOptions
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got.SubtitleStyle == nil || got.SubtitleStyle.BgOpacity == nil || *got.SubtitleStyle.BgOpacity != 0 {
		t.Errorf("explicit zero opacity was lost: %+v", got.SubtitleStyle)
	}
	if got.Orientation != OrientationLandscape {
		t.Errorf("orientation = %q", got.Orientation)
	}
}

func TestRenderStatus(t *testing.T) {
	statuses := []RenderStatus{
		RenderStatusPending,
		RenderStatusProcessing,
		RenderStatusRendering,
		RenderStatusCompleted,
		RenderStatusFailed,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
	if !RenderStatusFailed.Terminal() || RenderStatusRendering.Terminal() {
		t.Error("unexpected terminal state")
	}
}
