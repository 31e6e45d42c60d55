package media

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"lumina/pipeline"
)

const framePatternGlob = "%08d.png"

// Transcoder shells out to ffmpeg/ffprobe. Binary availability is detected
// once at construction; every invocation runs under the configured timeout,
// which is the per-call limit the orchestrator itself deliberately lacks.
type Transcoder struct {
	ffmpegBin  string
	ffprobeBin string
	timeout    time.Duration
	encodeArgs []string
	available  bool
}

// NewTranscoder resolves the binaries and shlex-splits extraEncodeArgs, extra
// encoder flags appended to every assembly command.
func NewTranscoder(ffmpegBin, ffprobeBin string, timeout time.Duration, extraEncodeArgs string) (*Transcoder, error) {
	encodeArgs, err := shlex.Split(extraEncodeArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid encode args %q: %w", extraEncodeArgs, err)
	}

	_, ffmpegErr := exec.LookPath(ffmpegBin)
	_, ffprobeErr := exec.LookPath(ffprobeBin)
	available := ffmpegErr == nil && ffprobeErr == nil
	if !available {
		log.Printf("transcoder unavailable: ffmpeg=%v ffprobe=%v", ffmpegErr, ffprobeErr)
	}

	return &Transcoder{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		timeout:    timeout,
		encodeArgs: encodeArgs,
		available:  available,
	}, nil
}

var _ pipeline.Transcoder = (*Transcoder)(nil)

func (t *Transcoder) Available() bool {
	return t.available
}

// ProbeFrameRate reads the r_frame_rate of the first video stream. The value
// usually arrives as a rational like "30000/1001".
func (t *Transcoder) ProbeFrameRate(ctx context.Context, path string) (float64, error) {
	out, err := t.run(ctx, t.ffprobeBin,
		"-v", "0",
		"-select_streams", "v:0",
		"-of", "csv=p=0",
		"-show_entries", "stream=r_frame_rate",
		path,
	)
	if err != nil {
		return 0, err
	}
	return parseFrameRate(strings.TrimSpace(out))
}

func parseFrameRate(rate string) (float64, error) {
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("bad frame rate %q: %w", rate, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("bad frame rate %q", rate)
		}
		return n / d, nil
	}
	f, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q: %w", rate, err)
	}
	return f, nil
}

// ExtractFrames dumps every frame of the input into dir as a numbered png
// sequence and returns the frame count.
func (t *Transcoder) ExtractFrames(ctx context.Context, path, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create frames dir: %w", err)
	}
	_, err := t.run(ctx, t.ffmpegBin,
		"-y",
		"-i", path,
		"-vsync", "0",
		filepath.Join(dir, framePatternGlob),
	)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			count++
		}
	}
	return count, nil
}

// ExtractAudio pulls the audio track as AAC. Inputs without audio are common,
// so failure only reports false.
func (t *Transcoder) ExtractAudio(ctx context.Context, path, outPath string) bool {
	_, err := t.run(ctx, t.ffmpegBin,
		"-y",
		"-i", path,
		"-vn",
		"-acodec", "aac",
		outPath,
	)
	if err != nil {
		log.Printf("no audio extracted from %s: %v", filepath.Base(path), err)
		return false
	}
	return true
}

// Assemble re-encodes the processed frame sequence, with the audio track when
// present, into the final container. A TargetFPS above the source rate runs
// frame-rate interpolation through the minterpolate filter.
func (t *Transcoder) Assemble(ctx context.Context, spec pipeline.AssembleSpec) error {
	_, err := t.run(ctx, t.ffmpegBin, t.assembleArgs(spec)...)
	return err
}

func (t *Transcoder) assembleArgs(spec pipeline.AssembleSpec) []string {
	args := []string{
		"-y",
		"-framerate", formatFPS(spec.FPS),
		"-i", filepath.Join(spec.FramesDir, framePatternGlob),
	}
	if spec.AudioPath != "" {
		args = append(args, "-i", spec.AudioPath)
	}
	if spec.TargetFPS > spec.FPS {
		args = append(args, "-vf", fmt.Sprintf("minterpolate=fps=%s", formatFPS(spec.TargetFPS)))
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", "18",
	)
	args = append(args, t.encodeArgs...)
	if spec.Bitrate != "" {
		args = append(args, "-b:v", spec.Bitrate)
	}
	if spec.AudioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	return append(args, spec.OutputPath)
}

// run executes one tool invocation under the configured timeout, returning
// combined output. Errors carry the tail of the tool's output, which is where
// ffmpeg puts the reason.
func (t *Transcoder) run(ctx context.Context, bin string, args ...string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("%s failed: %w: %s", filepath.Base(bin), err, lastLine(buf.String()))
	}
	return buf.String(), nil
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
