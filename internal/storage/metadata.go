package storage

import (
	"log/slog"
	"time"

	"hydrocli/internal/config"
)

// Metadata operations. The record is always loaded, mutated in memory, and
// written back as a whole under the store lock; it is never partially
// updated, so concurrent readers cannot observe a half-written record.

// loadMetadataLocked reads the metadata record, or returns a zero record
// when absent. The caller must hold s.mu.
func (s *Store) loadMetadataLocked() (LicenseMetadata, bool) {
	var meta LicenseMetadata
	ok := s.readRecord(s.paths.MetadataFile, &meta)
	return meta, ok
}

// saveMetadataLocked writes the whole metadata record back. The caller must
// hold s.mu.
func (s *Store) saveMetadataLocked(meta LicenseMetadata) error {
	return s.writeRecord(s.paths.MetadataFile, meta)
}

// RecordFirstActivation sets the write-once first-activation fields. Called
// on every successful activation; only the first call on an install has any
// effect on FirstActivatedAt and OriginalLicenseID.
func (s *Store) RecordFirstActivation(licenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, existed := s.loadMetadataLocked()
	if meta.FirstActivatedAt.IsZero() {
		meta.FirstActivatedAt = s.now()
		meta.OriginalLicenseID = licenseID
		if existed {
			s.logger.Info("first activation recorded on existing metadata",
				slog.String("license_id", licenseID),
			)
		} else {
			s.logger.Info("first activation recorded",
				slog.String("license_id", licenseID),
			)
		}
	} else if meta.OriginalLicenseID != licenseID {
		s.logger.Warn("activation with a different license than originally seen",
			slog.String("original_license_id", meta.OriginalLicenseID),
			slog.String("license_id", licenseID),
		)
	}
	meta.PendingLicenseID = ""
	return s.saveMetadataLocked(meta)
}

// RecordRun increments the run counter and stamps the last run time.
// RunCount never decreases.
func (s *Store) RecordRun() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	meta.RunCount++
	meta.LastRunTime = s.now()
	return s.saveMetadataLocked(meta)
}

// GetRunCount returns the number of recorded validation runs
func (s *Store) GetRunCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	return meta.RunCount
}

// GetLastOnlineCheck returns the time of the last successful server
// contact, and whether one has ever happened
func (s *Store) GetLastOnlineCheck() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	return meta.LastOnlineCheck, !meta.LastOnlineCheck.IsZero()
}

// UpdateLastOnlineCheck stamps a successful server contact
func (s *Store) UpdateLastOnlineCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	meta.LastOnlineCheck = s.now()
	return s.saveMetadataLocked(meta)
}

// NextCertificateSequence atomically increments and returns the local
// certificate counter
func (s *Store) NextCertificateSequence() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	meta.LocalCertificateSequence++
	if err := s.saveMetadataLocked(meta); err != nil {
		return 0, err
	}
	return meta.LocalCertificateSequence, nil
}

// SetOfflineSyncPending flags or clears pending offline work in metadata
func (s *Store) SetOfflineSyncPending(pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, _ := s.loadMetadataLocked()
	meta.OfflineSyncPending = pending
	return s.saveMetadataLocked(meta)
}

// IsOfflineSyncPending reports whether an offline activation still awaits
// its first server confirmation
func (s *Store) IsOfflineSyncPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.loadMetadataLocked()
	return ok && meta.OfflineSyncPending
}

// DetectClockTampering compares the current wall clock against the last
// recorded run time and online check. If "now" is earlier than either by
// the rollback grace or more, tampering is flagged.
//
// This is a heuristic, not proof: it raises suspicion, it does not alone
// invalidate the license. Legitimate timezone or DST changes stay inside
// the grace window.
func (s *Store) DetectClockTampering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.loadMetadataLocked()
	if !ok {
		return false
	}

	now := s.now()
	grace := s.opts.ClockRollbackGrace

	if !meta.LastRunTime.IsZero() && meta.LastRunTime.Sub(now) >= grace {
		s.logger.Warn("clock rollback detected against last run time",
			slog.Time("now", now),
			slog.Time("last_run_time", meta.LastRunTime),
		)
		return true
	}
	if !meta.LastOnlineCheck.IsZero() && meta.LastOnlineCheck.Sub(now) >= grace {
		s.logger.Warn("clock rollback detected against last online check",
			slog.Time("now", now),
			slog.Time("last_online_check", meta.LastOnlineCheck),
		)
		return true
	}
	return false
}

// DetectClockTamperingWithServerTime compares the local clock against an
// authoritative server timestamp and caches the server time as the new
// reference point. Drift beyond the threshold is flagged.
func (s *Store) DetectClockTamperingWithServerTime(serverTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	drift := now.Sub(serverTime)
	if drift < 0 {
		drift = -drift
	}
	tampered := drift > s.opts.ServerDriftThreshold

	meta, _ := s.loadMetadataLocked()
	meta.ServerTimeReference = serverTime
	meta.LocalTimeAtSync = now
	if err := s.saveMetadataLocked(meta); err != nil {
		s.logger.Warn("failed to cache server time reference",
			slog.String("error", err.Error()),
		)
	}

	if tampered {
		s.logger.Warn("local clock drifts from server time",
			slog.Time("local", now),
			slog.Time("server", serverTime),
			slog.Duration("drift", drift),
		)
	}
	return tampered
}

// IsLicenseSuspicious flags a license whose issue date predates the first
// activation on this install by more than the grace window. This detects
// the "wipe metadata, reimport an old license" pattern.
func (s *Store) IsLicenseSuspicious(issuedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.loadMetadataLocked()
	if !ok || meta.FirstActivatedAt.IsZero() {
		return false
	}
	suspicious := issuedAt.Before(meta.FirstActivatedAt.Add(-s.opts.SuspiciousIssueGrace))
	if suspicious {
		s.logger.Warn("license issue date predates first activation",
			slog.Time("issued_at", issuedAt),
			slog.Time("first_activated_at", meta.FirstActivatedAt),
		)
	}
	return suspicious
}

// MetadataWipeSuspected reports the suspicious combination of a license
// blob on disk with no metadata record beside it. A fresh install has
// neither; clearing metadata alone removes forensic evidence and is
// treated as a signal, not as a fresh install.
func (s *Store) MetadataWipeSuspected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !config.FileExists(s.paths.LicenseFile) {
		return false
	}
	_, ok := s.loadMetadataLocked()
	if !ok {
		s.logger.Warn("license present without metadata record, possible metadata wipe")
		return true
	}
	return false
}
