// Package testutil provides shared fixtures for licensing tests: a
// deterministic test issuer keypair, signed license builders, and a
// temporary storage environment.
package testutil

import (
	"crypto/ed25519"
	"encoding/base64"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"hydrocli/internal/config"
	"hydrocli/internal/security"
	"hydrocli/internal/storage"
)

// test issuer keypair, generated from a fixed seed so fixtures are
// reproducible across runs
var (
	issuerSeed = []byte("hydrosuite-test-issuer-seed-0001")

	// IssuerPrivateKey signs test licenses
	IssuerPrivateKey = ed25519.NewKeyFromSeed(issuerSeed)
	// IssuerPublicKey verifies them
	IssuerPublicKey = IssuerPrivateKey.Public().(ed25519.PublicKey)
)

// InstallIssuerKey points the embedded issuer key at the test keypair for
// the duration of the test
func InstallIssuerKey(t *testing.T) {
	t.Helper()
	previous := security.IssuerPublicKeyB64
	security.IssuerPublicKeyB64 = base64.StdEncoding.EncodeToString(IssuerPublicKey)
	t.Cleanup(func() {
		security.IssuerPublicKeyB64 = previous
	})
}

// LicenseOption mutates a fixture license before signing
type LicenseOption func(*storage.License)

// WithExpiry sets the expiry date
func WithExpiry(at time.Time) LicenseOption {
	return func(l *storage.License) {
		l.ExpiresAt = &at
	}
}

// WithPerpetual removes the expiry date
func WithPerpetual() LicenseOption {
	return func(l *storage.License) {
		l.ExpiresAt = nil
	}
}

// WithFeatures replaces the feature set
func WithFeatures(features ...string) LicenseOption {
	return func(l *storage.License) {
		l.Features = features
	}
}

// WithHardwareBinding binds the license to a fingerprint
func WithHardwareBinding(fingerprint string) LicenseOption {
	return func(l *storage.License) {
		l.HardwareBinding = fingerprint
	}
}

// WithLicenseID overrides the license ID
func WithLicenseID(id string) LicenseOption {
	return func(l *storage.License) {
		l.LicenseID = id
	}
}

// WithIssuedAt overrides the issue date
func WithIssuedAt(at time.Time) LicenseOption {
	return func(l *storage.License) {
		l.IssuedAt = at
	}
}

// SignedLicense builds a structurally valid license signed by the test
// issuer. Defaults: professional tier, survey-listing module, one year of
// validity from now.
func SignedLicense(t *testing.T, opts ...LicenseOption) *storage.License {
	t.Helper()

	expiry := time.Now().AddDate(1, 0, 0)
	lic := &storage.License{
		LicenseID:     "lic-fixture-0001",
		CustomerName:  "Test Customer",
		CustomerEmail: "customer@example.com",
		Edition:       "professional",
		IssuedAt:      time.Now().Add(-time.Hour),
		ExpiresAt:     &expiry,
		Features:      []string{"Tier:Professional", "Module:SurveyListing"},
	}
	for _, opt := range opts {
		opt(lic)
	}

	lic.Signature = security.Sign(lic.CanonicalPayload(), IssuerPrivateKey)
	if lic.Signature == nil {
		t.Fatal("failed to sign fixture license")
	}
	return lic
}

// Resign recomputes the signature after a test mutated signed fields
func Resign(lic *storage.License) {
	lic.Signature = security.Sign(lic.CanonicalPayload(), IssuerPrivateKey)
}

// TempPaths builds a path set rooted in a fresh temporary directory
func TempPaths(t *testing.T) *config.Paths {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths.ExecutableDir = dir
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.BackupDir = filepath.Join(dir, "backup")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Queue.DatabaseFile = filepath.Join(dir, "data", "offline-queue.db")

	paths := config.BuildPaths(cfg)
	if err := paths.EnsureDirs(); err != nil {
		t.Fatalf("failed to create test dirs: %v", err)
	}
	return paths
}

// NewStore builds a Store over temporary paths with the test issuer key
// installed and default tamper-detection options
func NewStore(t *testing.T) *storage.Store {
	t.Helper()

	InstallIssuerKey(t)
	return storage.New(TempPaths(t), security.NewFingerprintManager(), storage.DefaultOptions(), DiscardLogger())
}

// DiscardLogger returns a logger that drops everything, keeping test
// output readable
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError + 4,
	}))
}
