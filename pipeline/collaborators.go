package pipeline

import (
	"context"
	"errors"
)

// ErrCancelled is returned by the sequencer when it observes a cancellation
// request at a checkpoint. It unwinds the pipeline early and always maps to
// the job's CANCELLED state, never to FAILED.
var ErrCancelled = errors.New("job cancelled")

// ErrTranscoderUnavailable fails video jobs when no transcoder binary was
// found at startup.
var ErrTranscoderUnavailable = errors.New("ffmpeg is required for video processing but was not found in PATH")

// Upscaler resizes an image file. Zero-valued scale and target dimensions
// mean "leave the size alone". Both target dimensions together take
// precedence over scale.
type Upscaler interface {
	Upscale(ctx context.Context, inputPath, outputPath string, scale float64, targetWidth, targetHeight int) error
}

// Enhancer applies an enhancement mode to an image file. Strength is clamped
// to [0,1] by implementations.
type Enhancer interface {
	Enhance(ctx context.Context, inputPath, outputPath, mode string, strength float64) error
}

// AssembleSpec describes one video assembly invocation.
type AssembleSpec struct {
	FramesDir  string  // numbered %08d.png frame sequence
	FPS        float64 // source frame rate
	OutputPath string
	AudioPath  string  // empty when no audio track was extracted
	Bitrate    string  // e.g. "4M"; empty for encoder default
	TargetFPS  float64 // > FPS enables frame-rate interpolation
}

// Transcoder wraps the external video tool. Available must be checked before
// any video job runs; the remaining calls assume it returned true.
type Transcoder interface {
	Available() bool
	ProbeFrameRate(ctx context.Context, path string) (float64, error)
	ExtractFrames(ctx context.Context, path, dir string) (int, error)
	ExtractAudio(ctx context.Context, path, outPath string) bool
	Assemble(ctx context.Context, spec AssembleSpec) error
}
