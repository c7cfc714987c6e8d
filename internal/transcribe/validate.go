// Package transcribe validates input audio and runs the recognition
// pipeline: parameter resolution, preprocessing, engine, post-processing.
package transcribe

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/jamscribe/internal/config"
	"github.com/audiolibrelab/jamscribe/internal/errs"
)

const (
	// MaxFileSize is the largest audio file accepted (500 MiB).
	MaxFileSize int64 = 500 << 20
	// MinFileSize rejects files too small to hold any audio.
	MinFileSize int64 = 1 << 10
)

// Validator checks an audio file before any engine work starts.
type Validator struct {
	Extensions []string
	stat       func(name string) (os.FileInfo, error)
}

// NewValidator accepts the given extensions without a warning. An empty
// list falls back to config.DefaultExtensions.
func NewValidator(extensions []string) *Validator {
	if len(extensions) == 0 {
		extensions = config.DefaultExtensions
	}
	return &Validator{Extensions: extensions, stat: os.Stat}
}

// Validate returns the file size, or a validation error for a missing,
// non-regular, oversized or undersized file. An unknown extension only
// logs a warning.
func (v *Validator) Validate(path string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errs.Validation("audio file path is required")
	}
	info, err := v.stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Validation("audio file not found: %s", path)
		}
		return 0, errs.Validation("cannot access audio file %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, errs.Validation("not a regular file: %s", path)
	}
	if info.Size() > MaxFileSize {
		return 0, errs.Validation("file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	if info.Size() < MinFileSize {
		return 0, errs.Validation("file too small: %d bytes (min %d)", info.Size(), MinFileSize)
	}

	if !v.Supported(path) {
		slog.Warn("Unrecognized audio extension, continuing", "file", path, "supported", strings.Join(v.Extensions, " "))
	}
	return info.Size(), nil
}

// Supported reports whether path has a known audio extension.
func (v *Validator) Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range v.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}
