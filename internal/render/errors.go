package render

import (
	"errors"
	"fmt"
)

var (
	ErrNoScenes             = errors.New("no scenes to render")
	ErrUnknownPreset        = errors.New("unknown rendering preset")
	ErrInvalidScene         = errors.New("invalid scene")
	ErrInvalidVideoID       = errors.New("invalid video id")
	ErrToolchainUnavailable = errors.New("ffmpeg toolchain unavailable")
)

// SceneError reports a failure while rendering one scene clip.
type SceneError struct {
	SceneNumber int
	Err         error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("scene %d: %v", e.SceneNumber, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }

// StageError reports a failure in a pipeline stage after the scenes rendered.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
