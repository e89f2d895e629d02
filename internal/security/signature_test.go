package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload := []byte(`{"license_id":"lic-001"}`)
	sig := Sign(payload, priv)
	require.NotNil(t, sig)

	assert.True(t, VerifySignature(payload, sig, pub))
}

func TestVerifySignatureFailsClosed(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	payload := []byte("signed payload")
	sig := Sign(payload, priv)

	tests := []struct {
		name    string
		payload []byte
		sig     []byte
		pub     ed25519.PublicKey
	}{
		{"wrong public key", payload, sig, otherPub},
		{"mutated payload", []byte("signed payloaD"), sig, pub},
		{"truncated signature", payload, sig[:32], pub},
		{"empty signature", payload, nil, pub},
		{"empty payload", nil, sig, pub},
		{"nil public key", payload, sig, nil},
		{"short public key", payload, sig, pub[:16]},
		{"garbage signature", payload, make([]byte, ed25519.SignatureSize), pub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Must return false, never panic or error.
			assert.False(t, VerifySignature(tt.payload, tt.sig, tt.pub))
		})
	}
}

func TestIssuerPublicKeyDecodes(t *testing.T) {
	key := IssuerPublicKey()
	require.NotNil(t, key)
	assert.Len(t, []byte(key), ed25519.PublicKeySize)
}
