package storage

import (
	"log/slog"
)

// Certificate cache operations: an append-mostly store with three-stage
// sync tracking (unsynced -> synced -> verified) and age-based pruning of
// fully verified entries only.

// certCacheRecord is the persisted shape of the certificate cache
type certCacheRecord struct {
	Certificates []ProcessingCertificate `json:"certificates"`
}

// SaveCertificateLocally appends a freshly generated processing
// certificate to the local cache in the unsynced state
func (s *Store) SaveCertificateLocally(cert ProcessingCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	s.readRecord(s.paths.CertCacheFile, &rec)

	cert.SyncedToServer = false
	cert.VerifiedByServer = false
	cert.SyncedAt = nil
	cert.VerifiedAt = nil
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = s.now()
	}
	rec.Certificates = append(rec.Certificates, cert)

	s.logger.Debug("processing certificate cached",
		slog.String("certificate_id", cert.CertificateID),
		slog.Int64("sequence", cert.Sequence),
	)
	return s.writeRecord(s.paths.CertCacheFile, rec)
}

// GetUnsyncedCertificates returns certificates not yet accepted by the
// server, oldest first
func (s *Store) GetUnsyncedCertificates() []ProcessingCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	if !s.readRecord(s.paths.CertCacheFile, &rec) {
		return nil
	}
	var out []ProcessingCertificate
	for _, c := range rec.Certificates {
		if !c.SyncedToServer {
			out = append(out, c)
		}
	}
	return out
}

// GetUnverifiedCertificates returns certificates synced but not yet
// verified by the server
func (s *Store) GetUnverifiedCertificates() []ProcessingCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	if !s.readRecord(s.paths.CertCacheFile, &rec) {
		return nil
	}
	var out []ProcessingCertificate
	for _, c := range rec.Certificates {
		if c.SyncedToServer && !c.VerifiedByServer {
			out = append(out, c)
		}
	}
	return out
}

// MarkCertificatesAsSynced advances the listed certificates from unsynced
// to synced. Certificates already synced are untouched; the unsynced ->
// synced -> verified order is never skipped.
func (s *Store) MarkCertificatesAsSynced(certificateIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	if !s.readRecord(s.paths.CertCacheFile, &rec) {
		return nil
	}

	ids := make(map[string]bool, len(certificateIDs))
	for _, id := range certificateIDs {
		ids[id] = true
	}

	now := s.now()
	changed := 0
	for i := range rec.Certificates {
		c := &rec.Certificates[i]
		if ids[c.CertificateID] && !c.SyncedToServer {
			c.SyncedToServer = true
			c.SyncedAt = &now
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	s.logger.Info("certificates marked as synced",
		slog.Int("count", changed),
	)
	return s.writeRecord(s.paths.CertCacheFile, rec)
}

// MarkCertificatesAsVerified advances the listed certificates from synced
// to verified. Unsynced certificates are skipped: the server cannot verify
// what it has not accepted.
func (s *Store) MarkCertificatesAsVerified(certificateIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	if !s.readRecord(s.paths.CertCacheFile, &rec) {
		return nil
	}

	ids := make(map[string]bool, len(certificateIDs))
	for _, id := range certificateIDs {
		ids[id] = true
	}

	now := s.now()
	changed := 0
	for i := range rec.Certificates {
		c := &rec.Certificates[i]
		if ids[c.CertificateID] && c.SyncedToServer && !c.VerifiedByServer {
			c.VerifiedByServer = true
			c.VerifiedAt = &now
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	s.logger.Info("certificates marked as verified",
		slog.Int("count", changed),
	)
	return s.writeRecord(s.paths.CertCacheFile, rec)
}

// CleanupOldCertificates prunes fully verified certificates older than
// keepDays. Unsynced and unverified entries are never pruned regardless of
// age. Returns the number of removed entries.
func (s *Store) CleanupOldCertificates(keepDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec certCacheRecord
	if !s.readRecord(s.paths.CertCacheFile, &rec) {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -keepDays)
	kept := rec.Certificates[:0]
	removed := 0
	for _, c := range rec.Certificates {
		if c.VerifiedByServer && c.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return 0, nil
	}
	rec.Certificates = kept

	s.logger.Info("old verified certificates pruned",
		slog.Int("removed", removed),
		slog.Int("keep_days", keepDays),
	)
	return removed, s.writeRecord(s.paths.CertCacheFile, rec)
}
