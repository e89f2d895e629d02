package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains every file path the licensing core touches.
// This is the single source of truth for on-disk layout; no other package
// builds its own paths.
type Paths struct {
	ExecutableDir string
	DataDir       string
	BackupDir     string
	LogsDir       string

	// Primary encrypted records, each independently recoverable
	LicenseFile    string
	MetadataFile   string
	RevocationFile string
	CertCacheFile  string

	// Backup mirror of the license blob plus its checksum sidecar
	BackupLicenseFile  string
	BackupChecksumFile string

	// Durable offline queue database
	QueueDatabase string
}

// ExecutableDir returns the directory containing the running executable,
// with symlinks resolved. All application paths are anchored here, never at
// the current working directory.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return filepath.Dir(exe), nil
}

// BuildPaths derives the full path set from resolved configuration.
// Directory layout:
//
//	<exe dir>/
//	  ├── data/
//	  │   ├── license.dat         (encrypted license blob)
//	  │   ├── license-meta.dat    (encrypted anti-tamper metadata)
//	  │   ├── revocations.dat     (encrypted revocation list)
//	  │   ├── certificates.dat    (encrypted certificate cache)
//	  │   └── offline-queue.db    (sqlite offline queue)
//	  ├── backup/
//	  │   ├── license.bak         (base64 mirror of the license blob)
//	  │   └── license.bak.sum     (checksum sidecar)
//	  └── logs/
func BuildPaths(cfg *Config) *Paths {
	return &Paths{
		ExecutableDir: cfg.Paths.ExecutableDir,
		DataDir:       cfg.Paths.DataDir,
		BackupDir:     cfg.Paths.BackupDir,
		LogsDir:       cfg.Paths.LogsDir,

		LicenseFile:    filepath.Join(cfg.Paths.DataDir, "license.dat"),
		MetadataFile:   filepath.Join(cfg.Paths.DataDir, "license-meta.dat"),
		RevocationFile: filepath.Join(cfg.Paths.DataDir, "revocations.dat"),
		CertCacheFile:  filepath.Join(cfg.Paths.DataDir, "certificates.dat"),

		BackupLicenseFile:  filepath.Join(cfg.Paths.BackupDir, "license.bak"),
		BackupChecksumFile: filepath.Join(cfg.Paths.BackupDir, "license.bak.sum"),

		QueueDatabase: cfg.Queue.DatabaseFile,
	}
}

// EnsureDirs creates every directory the path set needs.
// A failure to create the backup directory is returned to the caller but is
// treated as non-fatal by storage: the primary location is sufficient.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(p.BackupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", p.BackupDir, err)
	}
	return nil
}
