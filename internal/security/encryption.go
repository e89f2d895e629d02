package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Blob header tags. Every encrypted blob starts with a 4-byte version tag so
// future format changes stay backward-readable; unknown tags are treated as
// absence, never as a crash.
const (
	blobHeaderV1  = "HSE1"
	blobHeaderLen = 4
)

// appSalt is the fixed application salt mixed into machine key derivation.
// It ties derived keys to this product so a key brute-forced for another
// application is useless here.
var appSalt = []byte("hydrosuite-license-core-salt-v1")

// checksumKey keys the truncated HMAC used for fast-path tamper checks of
// mirrored copies.
var checksumKey = []byte("hydrosuite-mirror-checksum-key-v1")

// scrypt parameters, OWASP-recommended minimums for an interactive client.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	gcmNonceSize = 12
)

// checksumLen is the hex length of the truncated checksum token.
const checksumLen = 16

// DeriveMachineKey derives a deterministic, device-specific AES-256 key from
// the hardware fingerprint. scrypt with the parameters above makes
// brute-forcing the key from a stolen encrypted blob expensive.
func DeriveMachineKey(hardwareID string) []byte {
	key, err := scrypt.Key([]byte(hardwareID), appSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		// scrypt only fails on invalid parameters, which are constants here.
		panic(fmt.Sprintf("scrypt key derivation failed: %v", err))
	}
	return key
}

// Encrypt seals plaintext under keyMaterial with AES-256-GCM and prefixes
// the versioned blob header.
func Encrypt(plaintext, keyMaterial []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(keyMaterial) != scryptKeyLen {
		return nil, fmt.Errorf("key material must be %d bytes, got %d", scryptKeyLen, len(keyMaterial))
	}

	block, err := aes.NewCipher(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(blobHeaderV1))

	blob := make([]byte, 0, blobHeaderLen+gcmNonceSize+len(sealed))
	blob = append(blob, blobHeaderV1...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. The second return value reports
// whether decryption succeeded.
//
// A false result is a normal, expected outcome: the blob was encrypted under
// different key material (moved to another machine), carries an unknown
// header tag, or was truncated. None of these conditions is an error.
func Decrypt(blob, keyMaterial []byte) ([]byte, bool) {
	if len(blob) < blobHeaderLen+gcmNonceSize+1 {
		return nil, false
	}
	if len(keyMaterial) != scryptKeyLen {
		return nil, false
	}

	header := string(blob[:blobHeaderLen])
	if header != blobHeaderV1 {
		slog.Debug("encrypted blob has unknown header tag, treating as absent",
			slog.String("tag", fmt.Sprintf("%q", header)),
		)
		return nil, false
	}

	nonce := blob[blobHeaderLen : blobHeaderLen+gcmNonceSize]
	sealed := blob[blobHeaderLen+gcmNonceSize:]

	block, err := aes.NewCipher(keyMaterial)
	if err != nil {
		return nil, false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(blobHeaderV1))
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// GenerateChecksum produces a short keyed tamper-evidence token over the
// given fields. The token is a truncated HMAC-SHA256, compact enough for a
// sidecar file or display; it is not a substitute for signature
// verification of the license itself.
func GenerateChecksum(fields ...string) string {
	h := hmac.New(sha256.New, checksumKey)
	h.Write([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:checksumLen]
}

// ValidateChecksum recomputes the checksum for fields and compares it to
// token in constant time.
func ValidateChecksum(token string, fields ...string) bool {
	if len(token) != checksumLen {
		return false
	}
	expected := GenerateChecksum(fields...)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
