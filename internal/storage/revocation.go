package storage

import (
	"log/slog"
)

// Revocation list operations. Once an ID is present it is rejected even if
// a structurally valid signed license for it is reintroduced; removal
// happens only on a server-confirmed reinstatement.

// revocationRecord is the persisted shape of the revocation list
type revocationRecord struct {
	Entries []RevocationEntry `json:"entries"`
}

// AddToRevocationList records that a license must never again be accepted.
// Adding an already-revoked ID is idempotent: no duplicate entries.
func (s *Store) AddToRevocationList(licenseID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec revocationRecord
	s.readRecord(s.paths.RevocationFile, &rec)

	for _, e := range rec.Entries {
		if e.LicenseID == licenseID {
			return nil
		}
	}

	rec.Entries = append(rec.Entries, RevocationEntry{
		LicenseID: licenseID,
		RevokedAt: s.now(),
		Reason:    reason,
	})

	s.logger.Warn("license added to local revocation list",
		slog.String("license_id", licenseID),
		slog.String("reason", reason),
	)
	return s.writeRecord(s.paths.RevocationFile, rec)
}

// RemoveFromRevocationList removes an entry after a server-confirmed
// reinstatement. Removing an absent ID is a no-op.
func (s *Store) RemoveFromRevocationList(licenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec revocationRecord
	if !s.readRecord(s.paths.RevocationFile, &rec) {
		return nil
	}

	filtered := rec.Entries[:0]
	removed := false
	for _, e := range rec.Entries {
		if e.LicenseID == licenseID {
			removed = true
			continue
		}
		filtered = append(filtered, e)
	}
	if !removed {
		return nil
	}
	rec.Entries = filtered

	s.logger.Info("license removed from local revocation list",
		slog.String("license_id", licenseID),
	)
	return s.writeRecord(s.paths.RevocationFile, rec)
}

// IsLicenseRevoked reports whether the ID is on the local revocation list
func (s *Store) IsLicenseRevoked(licenseID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec revocationRecord
	if !s.readRecord(s.paths.RevocationFile, &rec) {
		return false
	}
	for _, e := range rec.Entries {
		if e.LicenseID == licenseID {
			return true
		}
	}
	return false
}

// GetRevocationReason returns the recorded reason for a revoked license
func (s *Store) GetRevocationReason(licenseID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec revocationRecord
	if !s.readRecord(s.paths.RevocationFile, &rec) {
		return "", false
	}
	for _, e := range rec.Entries {
		if e.LicenseID == licenseID {
			return e.Reason, true
		}
	}
	return "", false
}
