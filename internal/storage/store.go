package storage

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"hydrocli/internal/config"
	"hydrocli/internal/security"
)

// masterKeySeed feeds the portable-license key derivation. Licenses without
// a hardware binding are encrypted under this key so their local blob
// survives a fingerprint change; hardware-bound licenses use the machine
// key so the blob is useless on any other device.
const masterKeySeed = "hydrosuite-portable-license-master-v1"

// Options tunes the tamper-detection heuristics. The thresholds are
// heuristics, not proven invariants; defaults follow DefaultOptions.
type Options struct {
	// ClockRollbackGrace is how far behind the recorded timestamps "now"
	// may fall before rollback is flagged.
	ClockRollbackGrace time.Duration
	// ServerDriftThreshold bounds local-clock divergence from the server
	// reference time.
	ServerDriftThreshold time.Duration
	// SuspiciousIssueGrace is the window a license's issue date may precede
	// the first activation without being flagged.
	SuspiciousIssueGrace time.Duration
}

// DefaultOptions returns the stock heuristic thresholds
func DefaultOptions() Options {
	return Options{
		ClockRollbackGrace:   time.Hour,
		ServerDriftThreshold: 30 * time.Minute,
		SuspiciousIssueGrace: 48 * time.Hour,
	}
}

// Store is the single owner of all persisted licensing state. All methods
// serialize under one mutex: read-modify-write sequences never interleave.
type Store struct {
	mu     sync.Mutex
	paths  *config.Paths
	opts   Options
	logger *slog.Logger

	fingerprint *security.FingerprintManager
	issuerKey   ed25519.PublicKey

	// now is injectable for clock-tampering tests
	now func() time.Time

	machineKey []byte
	masterKey  []byte
}

// New creates a Store rooted at the configured paths
func New(paths *config.Paths, fingerprint *security.FingerprintManager, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		paths:       paths,
		opts:        opts,
		logger:      logger.With(slog.String("component", "storage")),
		fingerprint: fingerprint,
		issuerKey:   security.IssuerPublicKey(),
		now:         time.Now,
	}
}

// Options returns the heuristic thresholds the store was built with
func (s *Store) Options() Options {
	return s.opts
}

// SetClock overrides the wall-clock source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// deviceKey lazily derives the machine-bound encryption key
func (s *Store) deviceKey() []byte {
	if s.machineKey == nil {
		s.machineKey = security.DeriveMachineKey(s.fingerprint.Fingerprint())
	}
	return s.machineKey
}

// portableKey lazily derives the device-independent key
func (s *Store) portableKey() []byte {
	if s.masterKey == nil {
		s.masterKey = security.DeriveMachineKey(masterKeySeed)
	}
	return s.masterKey
}

// licenseKey picks the encryption key for a license per its binding type
func (s *Store) licenseKey(lic *License) []byte {
	if lic.IsHardwareBound() {
		return s.deviceKey()
	}
	return s.portableKey()
}

// SaveLicense serializes, encrypts, and writes the license to the primary
// location, then mirrors a base64 copy plus checksum to the backup
// location. A backup failure is logged but non-fatal: primary success is
// sufficient to report success.
func (s *Store) SaveLicense(lic *License) error {
	if !lic.StructurallyValid() {
		return fmt.Errorf("refusing to save structurally invalid license")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(lic)
	if err != nil {
		return fmt.Errorf("failed to marshal license: %w", err)
	}

	blob, err := security.Encrypt(data, s.licenseKey(lic))
	if err != nil {
		return fmt.Errorf("failed to encrypt license: %w", err)
	}

	if err := os.WriteFile(s.paths.LicenseFile, blob, 0o600); err != nil {
		s.logger.Error("failed to write primary license file",
			slog.String("path", s.paths.LicenseFile),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to write license file: %w", err)
	}

	s.writeLicenseBackup(blob)

	s.logger.Info("license saved",
		slog.String("license_id", lic.LicenseID),
		slog.Int("size_bytes", len(blob)),
		slog.Bool("hardware_bound", lic.IsHardwareBound()),
	)
	return nil
}

// writeLicenseBackup mirrors the encrypted blob to the backup location.
// Failures are logged, never returned.
func (s *Store) writeLicenseBackup(blob []byte) {
	encoded := base64.StdEncoding.EncodeToString(blob)
	if err := os.WriteFile(s.paths.BackupLicenseFile, []byte(encoded), 0o600); err != nil {
		s.logger.Warn("backup license write failed, continuing",
			slog.String("path", s.paths.BackupLicenseFile),
			slog.String("error", err.Error()),
		)
		return
	}

	sum := security.GenerateChecksum(encoded)
	if err := os.WriteFile(s.paths.BackupChecksumFile, []byte(sum), 0o600); err != nil {
		s.logger.Warn("backup checksum write failed, continuing",
			slog.String("path", s.paths.BackupChecksumFile),
			slog.String("error", err.Error()),
		)
	}
}

// LoadOutcome classifies why a license load produced no license. Callers
// that only care about presence use LoadLicense; the state machine needs
// the distinction between absence, corruption, and a failed signature.
type LoadOutcome int

const (
	LoadOK LoadOutcome = iota
	LoadNotFound
	LoadCorrupted
	LoadBadSignature
)

// LoadLicense returns the persisted license, or nil when none exists.
//
// The primary location is tried first; on any read, decryption, signature,
// or structural failure the backup mirror is consulted (checksum verified
// first). A license recovered from backup opportunistically repairs the
// primary copy. Nil is the only failure mode callers see: an unverifiable
// or malformed license is identical to "not found".
func (s *Store) LoadLicense() *License {
	lic, _ := s.LoadLicenseDetailed()
	return lic
}

// LoadLicenseDetailed behaves like LoadLicense but also reports why the
// load failed. A corruption or signature outcome from either location wins
// over plain absence.
func (s *Store) LoadLicenseDetailed() (*License, LoadOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLicenseLocked()
}

func (s *Store) loadLicenseLocked() (*License, LoadOutcome) {
	primary := LoadNotFound
	if blob, err := os.ReadFile(s.paths.LicenseFile); err == nil {
		var lic *License
		lic, primary = s.decodeLicense(blob)
		if lic != nil {
			return lic, LoadOK
		}
		s.logger.Warn("primary license blob unreadable, trying backup",
			slog.String("path", s.paths.LicenseFile),
		)
	}

	blob, ok := s.readLicenseBackup()
	if !ok {
		return nil, primary
	}
	lic, backup := s.decodeLicense(blob)
	if lic == nil {
		if primary == LoadNotFound {
			return nil, backup
		}
		return nil, primary
	}

	// Repair the primary copy from the verified backup.
	if err := os.WriteFile(s.paths.LicenseFile, blob, 0o600); err != nil {
		s.logger.Warn("primary license repair failed",
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("primary license repaired from backup",
			slog.String("license_id", lic.LicenseID),
		)
	}
	return lic, LoadOK
}

// readLicenseBackup reads and checksum-verifies the backup mirror
func (s *Store) readLicenseBackup() ([]byte, bool) {
	encoded, err := os.ReadFile(s.paths.BackupLicenseFile)
	if err != nil {
		return nil, false
	}
	sum, err := os.ReadFile(s.paths.BackupChecksumFile)
	if err != nil {
		s.logger.Warn("backup checksum sidecar missing, distrusting backup")
		return nil, false
	}
	if !security.ValidateChecksum(strings.TrimSpace(string(sum)), string(encoded)) {
		s.logger.Warn("backup checksum mismatch, distrusting backup")
		return nil, false
	}
	blob, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, false
	}
	return blob, true
}

// decodeLicense decrypts, parses, and verifies a license blob. Both key
// types are tried because the binding type is unknown before decryption.
// Returns nil for anything that does not verify end to end.
func (s *Store) decodeLicense(blob []byte) (*License, LoadOutcome) {
	plaintext, ok := security.Decrypt(blob, s.portableKey())
	if !ok {
		plaintext, ok = security.Decrypt(blob, s.deviceKey())
	}
	if !ok {
		return nil, LoadCorrupted
	}

	var lic License
	if err := json.Unmarshal(plaintext, &lic); err != nil {
		s.logger.Warn("license blob failed to parse, treating as not found",
			slog.String("error", err.Error()),
		)
		return nil, LoadCorrupted
	}

	if !lic.StructurallyValid() {
		s.logger.Warn("license blob structurally invalid, treating as not found")
		return nil, LoadCorrupted
	}

	if !security.VerifySignature(lic.CanonicalPayload(), lic.Signature, s.issuerKey) {
		s.logger.Warn("license signature verification failed, treating as not found",
			slog.String("license_id", lic.LicenseID),
		)
		return nil, LoadBadSignature
	}

	return &lic, LoadOK
}

// ClearLicense removes both the primary and the backup copies. Both
// removals are attempted independently so one failure does not block the
// other. Metadata survives deliberately; wiping it is a separate, logged
// operation.
func (s *Store) ClearLicense() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, path := range []string{s.paths.LicenseFile, s.paths.BackupLicenseFile, s.paths.BackupChecksumFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove license artifact",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.logger.Info("license cleared")
	return firstErr
}

// HasLicenseFile reports whether a primary or backup blob exists on disk,
// without attempting decryption
func (s *Store) HasLicenseFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return config.FileExists(s.paths.LicenseFile) || config.FileExists(s.paths.BackupLicenseFile)
}

// readRecord loads and decrypts one of the auxiliary records (metadata,
// revocation list, certificate cache) under the device key. Absence and
// undecryptable content both report ok=false.
func (s *Store) readRecord(path string, out interface{}) bool {
	blob, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	plaintext, ok := security.Decrypt(blob, s.deviceKey())
	if !ok {
		s.logger.Warn("record failed to decrypt, treating as absent",
			slog.String("path", path),
		)
		return false
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		s.logger.Warn("record failed to parse, treating as absent",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// writeRecord encrypts and writes one of the auxiliary records
func (s *Store) writeRecord(path string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	blob, err := security.Encrypt(data, s.deviceKey())
	if err != nil {
		return fmt.Errorf("failed to encrypt record: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
