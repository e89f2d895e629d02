package storage

import (
	"sort"
	"strings"
	"time"
)

// License is the core licensed grant as issued by the server. Every field
// except Signature is covered by the issuer signature; none of them may be
// trusted before the signature verifies.
type License struct {
	LicenseID     string     `json:"license_id"`
	CustomerName  string     `json:"customer_name"`
	CustomerEmail string     `json:"customer_email"`
	Edition       string     `json:"edition"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // nil means perpetual
	// Features holds namespaced strings such as "Tier:Professional" and
	// "Module:SurveyListing".
	Features []string `json:"features"`
	// HardwareBinding, when non-empty, is the fingerprint hash of the only
	// device this license validates on.
	HardwareBinding string `json:"hardware_binding,omitempty"`
	Signature       []byte `json:"signature"`
}

// licensePayloadVersion is the domain separator of the signed payload.
const licensePayloadVersion = "hydrosuite-license-v1"

// CanonicalPayload returns the deterministic byte serialization the issuer
// signs: fields in fixed order, times in UTC RFC3339, features sorted.
// Client and issuer must agree on this byte-for-byte.
func (l *License) CanonicalPayload() []byte {
	features := make([]string, len(l.Features))
	copy(features, l.Features)
	sort.Strings(features)

	expires := ""
	if l.ExpiresAt != nil {
		expires = l.ExpiresAt.UTC().Format(time.RFC3339)
	}

	fields := []string{
		licensePayloadVersion,
		l.LicenseID,
		l.CustomerName,
		l.CustomerEmail,
		l.Edition,
		l.IssuedAt.UTC().Format(time.RFC3339),
		expires,
		strings.Join(features, ","),
		l.HardwareBinding,
	}
	return []byte(strings.Join(fields, "\n"))
}

// StructurallyValid reports whether the required fields are present. A
// license failing this check is treated identically to "not found".
func (l *License) StructurallyValid() bool {
	if l == nil {
		return false
	}
	return l.LicenseID != "" &&
		l.CustomerEmail != "" &&
		!l.IssuedAt.IsZero() &&
		len(l.Signature) > 0
}

// IsPerpetual reports whether the license never expires
func (l *License) IsPerpetual() bool {
	return l.ExpiresAt == nil
}

// IsHardwareBound reports whether the license is bound to a device
func (l *License) IsHardwareBound() bool {
	return l.HardwareBinding != ""
}

// LicenseMetadata is the anti-tamper bookkeeping record, kept physically
// separate from the license so clearing one does not implicitly clear the
// other.
type LicenseMetadata struct {
	// FirstActivatedAt is write-once: set on the first activation ever seen
	// on this install and never reset by clearing the license alone.
	FirstActivatedAt time.Time `json:"first_activated_at"`
	// OriginalLicenseID records the first license ever seen on this
	// install, which detects license-swap attacks.
	OriginalLicenseID string    `json:"original_license_id"`
	RunCount          int64     `json:"run_count"`
	LastRunTime       time.Time `json:"last_run_time"`
	LastOnlineCheck   time.Time `json:"last_online_check_time"`
	// ServerTimeReference and LocalTimeAtSync together anchor server-drift
	// detection: both are captured at the last successful online contact.
	ServerTimeReference time.Time `json:"server_time_reference"`
	LocalTimeAtSync     time.Time `json:"local_time_at_sync"`
	// LocalCertificateSequence is a monotonic counter assigned to locally
	// generated processing certificates.
	LocalCertificateSequence int64  `json:"local_certificate_sequence"`
	OfflineSyncPending       bool   `json:"offline_sync_pending"`
	PendingLicenseID         string `json:"pending_license_id,omitempty"`
}

// RevocationEntry records locally that a license must never again be
// accepted, even if a structurally valid signed copy is reintroduced.
type RevocationEntry struct {
	LicenseID string    `json:"license_id"`
	RevokedAt time.Time `json:"revoked_at"`
	Reason    string    `json:"reason"`
}

// CertSyncState describes how far a processing certificate has progressed
// through the unsynced -> synced -> verified pipeline.
type CertSyncState string

const (
	CertUnsynced CertSyncState = "unsynced"
	CertSynced   CertSyncState = "synced"
	CertVerified CertSyncState = "verified"
)

// ProcessingCertificate is locally generated evidence that a processing
// operation occurred, queued for server verification. Transitions are
// strictly unsynced -> synced -> verified, each driven by a successful
// server round-trip.
type ProcessingCertificate struct {
	CertificateID    string     `json:"certificate_id"`
	Sequence         int64      `json:"sequence"`
	Payload          string     `json:"payload"`
	CreatedAt        time.Time  `json:"created_at"`
	SyncedToServer   bool       `json:"is_synced_to_server"`
	VerifiedByServer bool       `json:"is_verified_by_server"`
	SyncedAt         *time.Time `json:"synced_at,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
}

// State derives the sync-pipeline stage from the flags
func (c *ProcessingCertificate) State() CertSyncState {
	switch {
	case c.VerifiedByServer:
		return CertVerified
	case c.SyncedToServer:
		return CertSynced
	default:
		return CertUnsynced
	}
}
