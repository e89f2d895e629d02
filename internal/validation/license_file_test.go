package validation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator() *LicenseFileValidator {
	return NewLicenseFileValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestValidateAcceptsLicenseFiles(t *testing.T) {
	v := newValidator()

	for _, name := range []string{"survey.hslic", "SURVEY.HSLIC", "license.json"} {
		path := writeFile(t, name, []byte(`{"license_id":"HS-1"}`))
		assert.NoError(t, v.Validate(path), name)
	}
}

func TestValidateRejections(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantMsg string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.hslic") },
			wantMsg: "does not exist",
		},
		{
			name:    "directory",
			path:    func(t *testing.T) string { return t.TempDir() },
			wantMsg: "directory",
		},
		{
			name:    "wrong extension",
			path:    func(t *testing.T) string { return writeFile(t, "license.txt", []byte("x")) },
			wantMsg: "extension",
		},
		{
			name:    "empty file",
			path:    func(t *testing.T) string { return writeFile(t, "empty.hslic", nil) },
			wantMsg: "empty",
		},
		{
			name: "oversized file",
			path: func(t *testing.T) string {
				return writeFile(t, "big.hslic", make([]byte, MaxLicenseFileSize+1))
			},
			wantMsg: "too large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
