package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"lumina/job"
)

const (
	defaultMode     = "general"
	defaultStrength = 0.6
)

var imageFormats = map[string]struct{}{"png": {}, "jpg": {}, "jpeg": {}, "webp": {}}
var videoFormats = map[string]struct{}{"mp4": {}, "mov": {}, "mkv": {}, "webm": {}}

var framePattern = regexp.MustCompile(`^\d{8}\.png$`)

// Sequencer drives the ordered stage sequence for a job's media type,
// translating collaborator failures into pipeline failures and checking for
// cancellation at every stage boundary. Video jobs additionally poll the flag
// inside the per-frame loop, which bounds cancellation latency to roughly one
// frame's processing time.
type Sequencer struct {
	upscaler   Upscaler
	enhancer   Enhancer
	transcoder Transcoder
	outputDir  string
	scratchDir string
}

func NewSequencer(up Upscaler, en Enhancer, tc Transcoder, outputDir, scratchDir string) *Sequencer {
	return &Sequencer{
		upscaler:   up,
		enhancer:   en,
		transcoder: tc,
		outputDir:  outputDir,
		scratchDir: scratchDir,
	}
}

var _ job.Runner = (*Sequencer)(nil)

func (s *Sequencer) Process(ctx context.Context, j job.Job, tr job.Tracker) (string, error) {
	switch j.MediaType {
	case job.MediaImage:
		return s.processImage(ctx, j, tr)
	case job.MediaVideo:
		return s.processVideo(ctx, j, tr)
	default:
		return "", fmt.Errorf("unsupported media type: %q", j.MediaType)
	}
}

func (s *Sequencer) processImage(ctx context.Context, j job.Job, tr job.Tracker) (string, error) {
	if tr.CancelRequested(j.ID) {
		return "", ErrCancelled
	}
	opts := j.Options

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := baseName(j.InputPath)
	format := resolveFormat(opts.OutputFormat, imageFormats, "png")
	outPath := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.%s", base, suffix(opts.Mode, "upscaled"), format))

	src := j.InputPath
	if wantsUpscale(opts) {
		tmp := filepath.Join(s.outputDir, fmt.Sprintf("%s_tmp_upscale.%s", base, format))
		if err := s.upscaler.Upscale(ctx, j.InputPath, tmp, opts.Scale, opts.TargetWidth, opts.TargetHeight); err != nil {
			return "", fmt.Errorf("upscale: %w", err)
		}
		defer os.Remove(tmp)
		src = tmp
	}

	if err := s.enhancer.Enhance(ctx, src, outPath, resolveMode(opts), resolveStrength(opts)); err != nil {
		return "", fmt.Errorf("enhance: %w", err)
	}

	tr.SetProgress(j.ID, 1.0)
	return outPath, nil
}

func (s *Sequencer) processVideo(ctx context.Context, j job.Job, tr job.Tracker) (string, error) {
	if !s.transcoder.Available() {
		return "", ErrTranscoderUnavailable
	}
	if tr.CancelRequested(j.ID) {
		return "", ErrCancelled
	}
	opts := j.Options

	// The job id is embedded in the scratch path, so concurrent jobs can
	// never collide.
	scratch := filepath.Join(s.scratchDir, j.ID)
	rawDir := filepath.Join(scratch, "raw")
	processedDir := filepath.Join(scratch, "processed")
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	fps, err := s.transcoder.ProbeFrameRate(ctx, j.InputPath)
	if err != nil || fps <= 0 {
		fps = 30.0
	}

	if _, err := s.transcoder.ExtractFrames(ctx, j.InputPath, rawDir); err != nil {
		return "", fmt.Errorf("extract frames: %w", err)
	}
	audioPath := filepath.Join(scratch, "audio.aac")
	hasAudio := s.transcoder.ExtractAudio(ctx, j.InputPath, audioPath)
	tr.SetProgress(j.ID, 0.1)

	frames, err := listFrames(rawDir)
	if err != nil {
		return "", fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames extracted from %s", filepath.Base(j.InputPath))
	}

	mode := resolveMode(opts)
	strength := resolveStrength(opts)
	for i, frame := range frames {
		if tr.CancelRequested(j.ID) {
			return "", ErrCancelled
		}
		name := filepath.Base(frame)
		outFrame := filepath.Join(processedDir, name)

		src := frame
		if wantsUpscale(opts) {
			tmp := filepath.Join(processedDir, "tmp_"+name)
			if err := s.upscaler.Upscale(ctx, frame, tmp, opts.Scale, opts.TargetWidth, opts.TargetHeight); err != nil {
				return "", fmt.Errorf("upscale frame %s: %w", name, err)
			}
			src = tmp
		}
		if err := s.enhancer.Enhance(ctx, src, outFrame, mode, strength); err != nil {
			return "", fmt.Errorf("enhance frame %s: %w", name, err)
		}
		if src != frame {
			os.Remove(src)
		}

		tr.SetProgress(j.ID, 0.1+0.8*float64(i+1)/float64(len(frames)))
	}

	if tr.CancelRequested(j.ID) {
		return "", ErrCancelled
	}

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	base := baseName(j.InputPath)
	format := resolveFormat(opts.OutputFormat, videoFormats, "mp4")
	outPath := filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.%s", base, suffix(opts.Mode, "enhanced"), format))

	target := fps
	if opts.Interpolate && opts.InterpFactor > 1 {
		target = fps * float64(opts.InterpFactor)
	}

	spec := AssembleSpec{
		FramesDir:  processedDir,
		FPS:        fps,
		OutputPath: outPath,
		Bitrate:    opts.VideoBitrate,
		TargetFPS:  target,
	}
	if hasAudio {
		spec.AudioPath = audioPath
	}
	if err := s.transcoder.Assemble(ctx, spec); err != nil {
		return "", fmt.Errorf("assemble video: %w", err)
	}

	tr.SetProgress(j.ID, 0.98)
	// Raw frames are the bulk of the scratch space; dropping them is
	// best-effort and never fails the job.
	if err := os.RemoveAll(rawDir); err != nil {
		log.Printf("job %s: could not remove raw frames: %v", j.ID, err)
	}
	tr.SetProgress(j.ID, 1.0)
	return outPath, nil
}

// wantsUpscale reports whether any resizing parameter was supplied.
func wantsUpscale(o job.ProcessOptions) bool {
	return o.Scale != 0 || o.TargetWidth != 0 || o.TargetHeight != 0
}

func resolveMode(o job.ProcessOptions) string {
	if strings.TrimSpace(o.Mode) == "" {
		return defaultMode
	}
	return o.Mode
}

func resolveStrength(o job.ProcessOptions) float64 {
	if o.Strength == nil {
		return defaultStrength
	}
	s := *o.Strength
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// resolveFormat lowercases the requested format and silently falls back to a
// safe default when it is not in the per-media-type allow-list.
func resolveFormat(requested string, allowed map[string]struct{}, fallback string) string {
	f := strings.ToLower(strings.TrimSpace(requested))
	if _, ok := allowed[f]; !ok {
		return fallback
	}
	return f
}

func suffix(mode, fallback string) string {
	if mode == "" {
		return fallback
	}
	return strings.ReplaceAll(mode, " ", "_")
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// listFrames returns the numbered frame files in ascending order.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && framePattern.MatchString(e.Name()) {
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
