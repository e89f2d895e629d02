// Package validation checks offline license files before they reach the
// decode path, rejecting obviously wrong inputs with actionable messages.
package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// MaxLicenseFileSize bounds offline license files. Real license files are
// a few kilobytes; anything near the cap is not one.
const MaxLicenseFileSize = 1 << 20

// allowed extensions for offline license files
var licenseExtensions = map[string]struct{}{
	".hslic": {},
	".json":  {},
}

// LicenseFileValidator validates offline activation inputs
type LicenseFileValidator struct {
	logger *slog.Logger
}

// NewLicenseFileValidator creates a new license file validator
func NewLicenseFileValidator(logger *slog.Logger) *LicenseFileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseFileValidator{logger: logger}
}

// Validate checks that the path points at a plausible license file: it
// exists, is a regular file, carries a known extension, and is within the
// size bound. Content checks (JSON shape, signature) happen downstream.
func (v *LicenseFileValidator) Validate(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Warn("license file does not exist", slog.String("path", path))
		return fmt.Errorf("license file %s does not exist", path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat license file %s: %w", path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a license file", path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := licenseExtensions[ext]; !ok {
		return fmt.Errorf("unsupported license file extension %q, expected .hslic or .json", ext)
	}

	if info.Size() == 0 {
		return fmt.Errorf("license file %s is empty", path)
	}
	if info.Size() > MaxLicenseFileSize {
		v.logger.Warn("license file exceeds size bound",
			slog.String("path", path),
			slog.Int64("size", info.Size()))
		return fmt.Errorf("license file %s is too large (%d bytes)", path, info.Size())
	}

	return nil
}
