package storage_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocli/internal/config"
	"hydrocli/internal/security"
	"hydrocli/internal/shared/testutil"
	"hydrocli/internal/storage"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store := testutil.NewStore(t)
	lic := testutil.SignedLicense(t)

	require.NoError(t, store.SaveLicense(lic))

	loaded := store.LoadLicense()
	require.NotNil(t, loaded)
	assert.Equal(t, lic.LicenseID, loaded.LicenseID)
	assert.Equal(t, lic.CustomerEmail, loaded.CustomerEmail)
	assert.Equal(t, lic.Edition, loaded.Edition)
	assert.Equal(t, lic.Features, loaded.Features)
	assert.True(t, lic.ExpiresAt.Equal(*loaded.ExpiresAt))
}

func TestLoadLicenseAbsent(t *testing.T) {
	store := testutil.NewStore(t)
	assert.Nil(t, store.LoadLicense())
}

func TestLoadFromBackupWhenPrimaryDeleted(t *testing.T) {
	testutil.InstallIssuerKey(t)
	paths := testutil.TempPaths(t)
	store := storage.New(paths, security.NewFingerprintManager(), storage.DefaultOptions(), testutil.DiscardLogger())

	lic := testutil.SignedLicense(t)
	require.NoError(t, store.SaveLicense(lic))

	// Simulate the primary location being cleared.
	require.NoError(t, os.Remove(paths.LicenseFile))

	loaded := store.LoadLicense()
	require.NotNil(t, loaded, "backup alone must be sufficient")
	assert.Equal(t, lic.LicenseID, loaded.LicenseID)

	// The primary copy is opportunistically repaired.
	assert.True(t, config.FileExists(paths.LicenseFile))
}

func TestBackupChecksumTamperDistrusted(t *testing.T) {
	testutil.InstallIssuerKey(t)
	paths := testutil.TempPaths(t)
	store := storage.New(paths, security.NewFingerprintManager(), storage.DefaultOptions(), testutil.DiscardLogger())

	lic := testutil.SignedLicense(t)
	require.NoError(t, store.SaveLicense(lic))

	require.NoError(t, os.Remove(paths.LicenseFile))

	// Corrupt the mirrored copy; its checksum no longer matches.
	data, err := os.ReadFile(paths.BackupLicenseFile)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(paths.BackupLicenseFile, data, 0o600))

	assert.Nil(t, store.LoadLicense())
}

func TestTamperedLicenseLoadsAsAbsent(t *testing.T) {
	store := testutil.NewStore(t)

	// Mutating any signed field after signing makes the persisted record
	// unverifiable; load must report absence, never an unverified record.
	lic := testutil.SignedLicense(t)
	lic.Edition = "enterprise" // signed as "professional"

	require.NoError(t, store.SaveLicense(lic))
	assert.Nil(t, store.LoadLicense())
}

func TestClearLicenseRemovesBothLocations(t *testing.T) {
	testutil.InstallIssuerKey(t)
	paths := testutil.TempPaths(t)
	store := storage.New(paths, security.NewFingerprintManager(), storage.DefaultOptions(), testutil.DiscardLogger())

	require.NoError(t, store.SaveLicense(testutil.SignedLicense(t)))
	require.NoError(t, store.ClearLicense())

	assert.False(t, config.FileExists(paths.LicenseFile))
	assert.False(t, config.FileExists(paths.BackupLicenseFile))
	assert.Nil(t, store.LoadLicense())
}

func TestClearLicenseIdempotent(t *testing.T) {
	store := testutil.NewStore(t)
	require.NoError(t, store.ClearLicense())
	require.NoError(t, store.ClearLicense())
}

func TestHardwareBoundLicenseRoundTrip(t *testing.T) {
	testutil.InstallIssuerKey(t)
	paths := testutil.TempPaths(t)
	fm := security.NewFingerprintManager()
	store := storage.New(paths, fm, storage.DefaultOptions(), testutil.DiscardLogger())

	lic := testutil.SignedLicense(t, testutil.WithHardwareBinding(fm.Fingerprint()))
	require.NoError(t, store.SaveLicense(lic))

	loaded := store.LoadLicense()
	require.NotNil(t, loaded)
	assert.Equal(t, fm.Fingerprint(), loaded.HardwareBinding)
}

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	testutil.InstallIssuerKey(t)
	paths := testutil.TempPaths(t)
	store := storage.New(paths, security.NewFingerprintManager(), storage.DefaultOptions(), testutil.DiscardLogger())

	lic := testutil.SignedLicense(t)
	require.NoError(t, store.SaveLicense(lic))

	// Corrupt the primary blob; backup must still recover the license.
	require.NoError(t, os.WriteFile(paths.LicenseFile, []byte("garbage"), 0o600))

	loaded := store.LoadLicense()
	require.NotNil(t, loaded)
	assert.Equal(t, lic.LicenseID, loaded.LicenseID)
}

func TestPerpetualLicense(t *testing.T) {
	store := testutil.NewStore(t)
	lic := testutil.SignedLicense(t, testutil.WithPerpetual())

	require.NoError(t, store.SaveLicense(lic))

	loaded := store.LoadLicense()
	require.NotNil(t, loaded)
	assert.Nil(t, loaded.ExpiresAt)
	assert.True(t, loaded.IsPerpetual())
}

func TestCanonicalPayloadFeatureOrderIndependent(t *testing.T) {
	a := &storage.License{
		LicenseID:     "lic-1",
		CustomerEmail: "a@b.c",
		IssuedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Features:      []string{"Tier:Professional", "Module:SurveyListing"},
	}
	b := &storage.License{
		LicenseID:     "lic-1",
		CustomerEmail: "a@b.c",
		IssuedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Features:      []string{"Module:SurveyListing", "Tier:Professional"},
	}
	assert.Equal(t, a.CanonicalPayload(), b.CanonicalPayload())
}
