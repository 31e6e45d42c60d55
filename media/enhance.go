package media

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"lumina/pipeline"
)

const gfpganBin = "gfpgan-ncnn-vulkan"

// Enhancer applies the enhancement modes. Face mode uses the GFPGAN CLI when
// it was detected at startup; every other path runs in-process.
type Enhancer struct {
	gfpganPath string // empty when the CLI is absent
	timeout    time.Duration
}

func NewEnhancer(timeout time.Duration) *Enhancer {
	path, err := exec.LookPath(gfpganBin)
	if err != nil {
		path = ""
	} else {
		log.Printf("using %s for face enhancement", gfpganBin)
	}
	return &Enhancer{gfpganPath: path, timeout: timeout}
}

var _ pipeline.Enhancer = (*Enhancer)(nil)

// CLIAvailable reports whether the GFPGAN binary was found.
func (e *Enhancer) CLIAvailable() bool {
	return e.gfpganPath != ""
}

func (e *Enhancer) Enhance(ctx context.Context, inputPath, outputPath, mode string, strength float64) error {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}

	switch canonicalMode(mode) {
	case "face":
		if e.gfpganPath != "" {
			return e.enhanceFaceCLI(ctx, inputPath, outputPath)
		}
		return enhanceFaceFallback(inputPath, outputPath, strength)
	case "repair":
		return repairImage(inputPath, outputPath, strength)
	default:
		return enhanceGeneral(inputPath, outputPath, strength)
	}
}

// canonicalMode folds the accepted aliases onto the three known modes.
// Anything unrecognized runs as general.
func canonicalMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "face", "face_enhance", "face-enhance":
		return "face"
	case "repair", "ai_repair", "ai-repair":
		return "repair"
	default:
		return "general"
	}
}

func (e *Enhancer) enhanceFaceCLI(ctx context.Context, inputPath, outputPath string) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if out, err := exec.CommandContext(ctx, e.gfpganPath, "-i", inputPath, "-o", outputPath).CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", gfpganBin, err, lastLine(string(out)))
	}
	return nil
}

// enhanceGeneral lifts contrast and sharpness proportionally to strength,
// with a mild denoise at the high end.
func enhanceGeneral(inputPath, outputPath string, strength float64) error {
	src, err := decodeImage(inputPath)
	if err != nil {
		return err
	}
	img := toNRGBA(src)
	img = adjustContrast(img, 1.0+0.5*strength)
	img = adjustSharpness(img, 1.0+2.0*strength)
	if strength > 0.6 {
		img = medianFilter(img, 3)
	}
	return encodeImage(outputPath, img)
}

// enhanceFaceFallback is the no-CLI face path: a gentler contrast boost with
// a stronger sharpen, softened at the end.
func enhanceFaceFallback(inputPath, outputPath string, strength float64) error {
	src, err := decodeImage(inputPath)
	if err != nil {
		return err
	}
	img := toNRGBA(src)
	img = adjustContrast(img, 1.0+0.3*strength)
	img = adjustSharpness(img, 1.0+3.0*strength)
	img = smooth(img)
	return encodeImage(outputPath, img)
}

// repairImage removes noise and compression artifacts, trading detail for
// smoothness as strength grows, then restores a little edge definition.
func repairImage(inputPath, outputPath string, strength float64) error {
	src, err := decodeImage(inputPath)
	if err != nil {
		return err
	}
	img := toNRGBA(src)
	switch {
	case strength >= 0.75:
		img = medianFilter(img, 5)
		img = smooth(smooth(img))
	case strength >= 0.4:
		img = medianFilter(img, 3)
		img = smooth(img)
	default:
		img = smooth(img)
	}
	img = adjustSharpness(img, 1.0+0.5*strength)
	return encodeImage(outputPath, img)
}
