package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"lumina/job"
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".mkv": {}, ".avi": {}, ".webm": {},
}

// AllowedFile reports whether the filename carries a supported extension.
func AllowedFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := imageExtensions[ext]; ok {
		return true
	}
	_, ok := videoExtensions[ext]
	return ok
}

// DetectMediaType classifies a filename by extension.
func DetectMediaType(filename string) (job.MediaType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := imageExtensions[ext]; ok {
		return job.MediaImage, nil
	}
	if _, ok := videoExtensions[ext]; ok {
		return job.MediaVideo, nil
	}
	return "", fmt.Errorf("unsupported file extension: %q", ext)
}

// SanitizeFilename strips any path components and characters that have no
// business in a stored filename.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}
