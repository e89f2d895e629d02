package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
)

// IssuerPublicKeyB64 is the base64-encoded ed25519 public key of the
// HydroSuite license issuer, embedded at build time via -ldflags. The
// default below is the development/test issuer key.
var IssuerPublicKeyB64 = "U1ZzkG7TDwNtwrH+/Is7Pxv2JqL2Dg/z/Gc/Mg/WT4k="

// IssuerPublicKey decodes the embedded issuer public key. A corrupt embedded
// key yields nil, which causes every signature check to fail closed.
func IssuerPublicKey() ed25519.PublicKey {
	raw, err := base64.StdEncoding.DecodeString(IssuerPublicKeyB64)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		slog.Error("embedded issuer public key is malformed",
			slog.Int("decoded_len", len(raw)),
		)
		return nil
	}
	return ed25519.PublicKey(raw)
}

// VerifySignature verifies an ed25519 signature over payload.
// It fails closed: any malformed key, signature, or payload returns false.
// It never panics and never returns an error the caller could ignore.
func VerifySignature(payload, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	if len(payload) == 0 {
		return false
	}
	return ed25519.Verify(publicKey, payload, signature)
}

// Sign produces an ed25519 signature over payload. Used by test fixtures and
// the offline license tooling; the production issuer key never ships with
// the client.
func Sign(payload []byte, privateKey ed25519.PrivateKey) []byte {
	if len(privateKey) != ed25519.PrivateKeySize || len(payload) == 0 {
		return nil
	}
	return ed25519.Sign(privateKey, payload)
}
