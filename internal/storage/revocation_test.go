package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocli/internal/shared/testutil"
)

func TestRevocationIdempotentAdd(t *testing.T) {
	store := testutil.NewStore(t)

	require.NoError(t, store.AddToRevocationList("lic-1", "chargeback"))
	require.NoError(t, store.AddToRevocationList("lic-1", "chargeback again"))

	assert.True(t, store.IsLicenseRevoked("lic-1"))

	// The first reason wins; the duplicate add was a no-op.
	reason, ok := store.GetRevocationReason("lic-1")
	require.True(t, ok)
	assert.Equal(t, "chargeback", reason)

	// A single removal clears the single entry.
	require.NoError(t, store.RemoveFromRevocationList("lic-1"))
	assert.False(t, store.IsLicenseRevoked("lic-1"))
}

func TestRevocationWinsOverValidLicense(t *testing.T) {
	store := testutil.NewStore(t)
	lic := testutil.SignedLicense(t, testutil.WithLicenseID("lic-revoked"))

	require.NoError(t, store.AddToRevocationList("lic-revoked", "fraud"))
	assert.True(t, store.IsLicenseRevoked("lic-revoked"))

	// Reintroducing a structurally valid signed license for the revoked ID
	// must not clear the revocation.
	require.NoError(t, store.SaveLicense(lic))
	assert.True(t, store.IsLicenseRevoked("lic-revoked"))
}

func TestRevocationUnknownID(t *testing.T) {
	store := testutil.NewStore(t)

	assert.False(t, store.IsLicenseRevoked("lic-unknown"))
	_, ok := store.GetRevocationReason("lic-unknown")
	assert.False(t, ok)
	require.NoError(t, store.RemoveFromRevocationList("lic-unknown"))
}

func TestRevocationMultipleEntries(t *testing.T) {
	store := testutil.NewStore(t)

	require.NoError(t, store.AddToRevocationList("lic-a", "refund"))
	require.NoError(t, store.AddToRevocationList("lic-b", "abuse"))
	require.NoError(t, store.AddToRevocationList("lic-c", "expired key"))

	require.NoError(t, store.RemoveFromRevocationList("lic-b"))

	assert.True(t, store.IsLicenseRevoked("lic-a"))
	assert.False(t, store.IsLicenseRevoked("lic-b"))
	assert.True(t, store.IsLicenseRevoked("lic-c"))
}
