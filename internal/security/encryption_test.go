package security

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		plaintext   []byte
		shouldError bool
	}{
		{
			name:      "small json payload",
			plaintext: []byte(`{"license_id":"lic-001","edition":"professional"}`),
		},
		{
			name:        "empty plaintext",
			plaintext:   []byte{},
			shouldError: true,
		},
		{
			name:      "single byte",
			plaintext: []byte{0x42},
		},
		{
			name:      "large payload",
			plaintext: make([]byte, 64*1024),
		},
	}

	key := DeriveMachineKey("test-hardware-id")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.plaintext) == 64*1024 {
				for i := range tt.plaintext {
					tt.plaintext[i] = byte(i % 256)
				}
			}

			blob, err := Encrypt(tt.plaintext, key)
			if tt.shouldError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("encryption failed: %v", err)
			}

			if string(blob[:4]) != "HSE1" {
				t.Errorf("expected HSE1 header, got %q", blob[:4])
			}

			plaintext, ok := Decrypt(blob, key)
			if !ok {
				t.Fatal("decryption reported absence for a valid blob")
			}
			if !bytes.Equal(plaintext, tt.plaintext) {
				t.Error("round-trip plaintext mismatch")
			}
		})
	}
}

func TestDecryptWrongKeyReturnsAbsent(t *testing.T) {
	keyA := DeriveMachineKey("machine-a")
	keyB := DeriveMachineKey("machine-b")

	blob, err := Encrypt([]byte("bound to machine a"), keyA)
	if err != nil {
		t.Fatalf("encryption failed: %v", err)
	}

	// Moving the blob to another machine is a normal outcome, not an error.
	plaintext, ok := Decrypt(blob, keyB)
	if ok {
		t.Error("decryption under the wrong machine key must report absence")
	}
	if plaintext != nil {
		t.Error("plaintext must be nil on key mismatch")
	}
}

func TestDecryptMalformedBlobs(t *testing.T) {
	key := DeriveMachineKey("test-hardware-id")

	blob, err := Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("encryption failed: %v", err)
	}

	tests := []struct {
		name string
		blob []byte
	}{
		{"nil blob", nil},
		{"empty blob", []byte{}},
		{"truncated header", blob[:3]},
		{"header only", blob[:4]},
		{"unknown header tag", append([]byte("HSE9"), blob[4:]...)},
		{"truncated ciphertext", blob[:len(blob)-8]},
		{"flipped ciphertext byte", flipByte(blob, len(blob)-1)},
		{"flipped nonce byte", flipByte(blob, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if plaintext, ok := Decrypt(tt.blob, key); ok || plaintext != nil {
				t.Error("malformed blob must decrypt to absent")
			}
		})
	}
}

func TestDeriveMachineKeyDeterministic(t *testing.T) {
	a := DeriveMachineKey("hardware-x")
	b := DeriveMachineKey("hardware-x")
	c := DeriveMachineKey("hardware-y")

	if !bytes.Equal(a, b) {
		t.Error("derivation must be deterministic for the same hardware id")
	}
	if bytes.Equal(a, c) {
		t.Error("different hardware ids must derive different keys")
	}
	if len(a) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(a))
	}
}

func TestChecksum(t *testing.T) {
	token := GenerateChecksum("lic-001", "customer@example.com", "2027-01-02")

	if len(token) != 16 {
		t.Errorf("expected 16-char token, got %d", len(token))
	}
	if !ValidateChecksum(token, "lic-001", "customer@example.com", "2027-01-02") {
		t.Error("checksum must validate against the original fields")
	}
	if ValidateChecksum(token, "lic-002", "customer@example.com", "2027-01-02") {
		t.Error("checksum must reject altered fields")
	}
	if ValidateChecksum("0000000000000000", "lic-001", "customer@example.com", "2027-01-02") {
		t.Error("checksum must reject a forged token")
	}
	if ValidateChecksum("short", "lic-001") {
		t.Error("checksum must reject a token of the wrong length")
	}
}

func flipByte(blob []byte, i int) []byte {
	out := make([]byte, len(blob))
	copy(out, blob)
	out[i] ^= 0xFF
	return out
}
