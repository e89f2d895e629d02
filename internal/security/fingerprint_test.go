package security

import (
	"strings"
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	fm := NewFingerprintManager()

	first := fm.Fingerprint()
	second := fm.Fingerprint()

	if first == "" {
		t.Fatal("fingerprint must never be empty")
	}
	if first != second {
		t.Error("fingerprint must be stable for the current boot")
	}
	if len(first) != 64 {
		t.Errorf("expected 64-char sha256 hex, got %d", len(first))
	}
}

func TestFingerprintNeverFails(t *testing.T) {
	// Even when individual sources are unavailable the manager must return
	// some deterministic value, falling back source by source.
	fm := NewFingerprintManager()
	device := fm.Generate()

	if device.Fingerprint == "" {
		t.Fatal("fingerprint must be produced even with missing sources")
	}
	if device.OS == "" || device.Platform == "" {
		t.Error("os and platform factors must always be present")
	}
}

func TestDisplayID(t *testing.T) {
	fm := NewFingerprintManager()
	display := fm.DisplayID()

	parts := strings.Split(display, "-")
	if len(parts) != 3 {
		t.Fatalf("expected XXXX-XXXX-XXXX grouping, got %q", display)
	}
	for _, part := range parts {
		if len(part) != 4 {
			t.Errorf("expected 4-char group, got %q", part)
		}
	}
	if display != strings.ToUpper(display) {
		t.Error("display id must be upper-case")
	}
}

func TestValidate(t *testing.T) {
	fm := NewFingerprintManager()
	current := fm.Fingerprint()

	if !fm.Validate(current) {
		t.Error("current fingerprint must validate against itself")
	}
	if fm.Validate("deadbeef") {
		t.Error("foreign fingerprint must not validate")
	}
}

func TestFingerprintCache(t *testing.T) {
	fm := NewFingerprintManager()

	first := fm.Generate()
	cached := fm.Generate()
	if first.GeneratedAt != cached.GeneratedAt {
		t.Error("second call within the TTL must serve the cached fingerprint")
	}

	fm.ClearCache()
	fm.cacheTTL = 0
	time.Sleep(time.Millisecond)
	regenerated := fm.Generate()
	if regenerated.Fingerprint != first.Fingerprint {
		t.Error("regenerated fingerprint must match on the same device")
	}
}

func TestComponents(t *testing.T) {
	fm := NewFingerprintManager()
	components := fm.Components()

	for _, key := range []string{"mac_address", "machine_id", "hostname", "cpu_id", "os", "platform"} {
		if _, ok := components[key]; !ok {
			t.Errorf("missing component %q", key)
		}
	}
}
