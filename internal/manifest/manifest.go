// Package manifest reads render requests from YAML files for local renders.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bobarin/reelsmith/internal/models"
)

// Manifest describes one local render.
type Manifest struct {
	VideoID string               `yaml:"video_id"`
	Scenes  []models.Scene       `yaml:"scenes"`
	Options models.RenderOptions `yaml:"options"`
}

var ErrNoScenes = errors.New("manifest has no scenes")

// Load parses a manifest. Relative image and audio paths are resolved
// against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Scenes) == 0 {
		return nil, ErrNoScenes
	}

	base := filepath.Dir(path)
	for i := range m.Scenes {
		m.Scenes[i].ImagePath = resolve(base, m.Scenes[i].ImagePath)
		m.Scenes[i].AudioPath = resolve(base, m.Scenes[i].AudioPath)
	}

	if m.VideoID == "" {
		stem := filepath.Base(path)
		m.VideoID = stem[:len(stem)-len(filepath.Ext(stem))]
	}
	return &m, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
