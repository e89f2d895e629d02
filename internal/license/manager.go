package license

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hydrocli/internal/client"
	"hydrocli/internal/config"
	apperrors "hydrocli/internal/errors"
	"hydrocli/internal/queue"
	"hydrocli/internal/security"
	"hydrocli/internal/storage"
	"hydrocli/internal/validation"
)

// ServerClient is the slice of the server trust protocol the manager
// consumes. *client.Client satisfies it; tests substitute fakes.
type ServerClient interface {
	Activate(ctx context.Context, licenseKey, email, hardwareID string) (*client.ActivationResponse, error)
	StartSession(ctx context.Context, licenseID, hardwareID string) (*client.SessionResponse, error)
	Heartbeat(ctx context.Context, licenseID, hardwareID string) (*client.SessionResponse, error)
	EndSession(ctx context.Context, licenseID, hardwareID string) (*client.SessionResponse, error)
	LicenseStatus(ctx context.Context, licenseID string) (*client.StatusResponse, error)
	SyncCertificates(ctx context.Context, certs []storage.ProcessingCertificate) (*client.CertificateSyncResponse, error)
}

// queue entity types owned by the manager
const (
	entityCertificate = "certificate"
	entitySession     = "session"
)

// Deps carries the manager's collaborators. Store, Client, and Fingerprint
// are required; Queue, Processor, and Metrics are optional.
type Deps struct {
	Store       *storage.Store
	Client      ServerClient
	Queue       *queue.Store
	Processor   *queue.Processor
	Fingerprint *security.FingerprintManager
	Config      config.LicenseConfig
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Manager is the license validation state machine. It caches the last
// evaluated status; all derived queries read that cache and never touch
// the network.
type Manager struct {
	store         *storage.Store
	client        ServerClient
	queue         *queue.Store
	processor     *queue.Processor
	fingerprint   *security.FingerprintManager
	cfg           config.LicenseConfig
	logger        *slog.Logger
	metrics       *Metrics
	limiter       *rate.Limiter
	fileValidator *validation.LicenseFileValidator
	events        eventDispatcher

	// now is injectable for expiry and grace-boundary tests
	now func() time.Time

	mu           sync.RWMutex
	current      *storage.License
	features     []Feature
	status       Status
	statusReason string
	warnedExpiry time.Time
	warnedDay    time.Time

	hb heartbeatState
}

// NewManager wires a manager from its dependencies
func NewManager(deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("license manager requires a storage store")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("license manager requires a server client")
	}
	if deps.Fingerprint == nil {
		return nil, fmt.Errorf("license manager requires a fingerprint manager")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "license-manager"))

	rps := deps.Config.ActivationRPS
	if rps <= 0 {
		rps = 0.2
	}
	burst := deps.Config.ActivationBurst
	if burst <= 0 {
		burst = 3
	}

	m := &Manager{
		store:         deps.Store,
		client:        deps.Client,
		queue:         deps.Queue,
		processor:     deps.Processor,
		fingerprint:   deps.Fingerprint,
		cfg:           deps.Config,
		logger:        logger,
		metrics:       deps.Metrics,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		fileValidator: validation.NewLicenseFileValidator(logger),
		now:           time.Now,
		status:        StatusNotFound,
	}
	m.events.logger = logger
	return m, nil
}

// SetClock overrides the wall-clock source. Intended for tests; pair with
// the store's SetClock so metadata heuristics agree.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RegisterCallbacks installs the host's event sinks
func (m *Manager) RegisterCallbacks(cb Callbacks) {
	m.events.register(cb)
}

// Initialize loads and evaluates the persisted license, records the run,
// and registers the offline-queue handlers. It never fails on a missing or
// invalid license; only genuinely unrecoverable conditions return an error.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.processor != nil {
		m.processor.RegisterHandler(entityCertificate, m.certificateSyncHandler)
		m.processor.RegisterHandler(entitySession, m.sessionReplayHandler)
	}

	status := m.CheckLicenseContext(ctx)

	if err := m.store.RecordRun(); err != nil {
		m.logger.Warn("failed to record run metadata",
			slog.String("error", err.Error()))
	}

	m.logger.Info("license manager initialized",
		slog.String("status", string(status)),
		slog.String("device_id", m.fingerprint.DisplayID()),
		slog.Int64("run_count", m.store.GetRunCount()))
	return nil
}

// CheckLicense evaluates the persisted license against the current clock,
// fingerprint, and revocation list. Idempotent and safe to poll: it may
// update bookkeeping metadata but never mutates the license record.
func (m *Manager) CheckLicense() Status {
	return m.CheckLicenseContext(context.Background())
}

// CheckLicenseContext is CheckLicense with caller-provided context for
// logging and metrics
func (m *Manager) CheckLicenseContext(ctx context.Context) Status {
	start := time.Now()

	lic, outcome := m.store.LoadLicenseDetailed()
	status, reason := m.deriveStatus(lic, outcome)

	if m.store.DetectClockTampering() {
		m.logger.Warn("clock rollback suspected",
			slog.String("license_id", licenseID(lic)))
	}
	if m.store.MetadataWipeSuspected() {
		m.logger.Warn("license present but metadata record missing, possible wipe")
	}
	if lic != nil && m.store.IsLicenseSuspicious(lic.IssuedAt) {
		m.logger.Warn("license issue date predates first activation",
			slog.String("license_id", lic.LicenseID),
			slog.Time("issued_at", lic.IssuedAt))
	}

	m.applyStatus(lic, status, reason)
	m.maybeWarnExpiry(lic, status)
	m.metrics.recordValidation(ctx, status, time.Since(start))
	return status
}

// deriveStatus is the core transition function: pure over the loaded
// license, the load outcome, the revocation list, the fingerprint, and the
// injected clock.
func (m *Manager) deriveStatus(lic *storage.License, outcome storage.LoadOutcome) (Status, string) {
	switch outcome {
	case storage.LoadNotFound:
		return StatusNotFound, "no license installed"
	case storage.LoadCorrupted:
		return StatusCorrupted, "stored license failed to decrypt or parse"
	case storage.LoadBadSignature:
		return StatusInvalidSignature, "stored license failed signature verification"
	}

	// Revocation is sticky: it wins over a structurally valid signature.
	if m.store.IsLicenseRevoked(lic.LicenseID) {
		reason, _ := m.store.GetRevocationReason(lic.LicenseID)
		return StatusRevoked, reason
	}

	if lic.IsHardwareBound() && !m.fingerprint.Validate(lic.HardwareBinding) {
		return StatusHardwareMismatch, "license bound to a different device"
	}

	if lic.IsPerpetual() {
		return StatusValid, ""
	}

	m.mu.RLock()
	now := m.now()
	m.mu.RUnlock()

	expiresAt := *lic.ExpiresAt
	if !now.After(expiresAt) {
		return StatusValid, ""
	}
	graceEnd := expiresAt.Add(time.Duration(m.gracePeriodDays()) * 24 * time.Hour)
	if !now.After(graceEnd) {
		return StatusGracePeriod, fmt.Sprintf("expired %s, in grace until %s",
			expiresAt.Format(time.RFC3339), graceEnd.Format(time.RFC3339))
	}
	return StatusExpired, fmt.Sprintf("grace period ended %s", graceEnd.Format(time.RFC3339))
}

// applyStatus swaps the cached state and fires StatusChanged on transition
func (m *Manager) applyStatus(lic *storage.License, status Status, reason string) {
	m.mu.Lock()
	previous := m.status
	m.status = status
	m.statusReason = reason
	if status.IsUsable() {
		m.current = lic
		m.features = ParseFeatures(lic.Features)
	} else {
		m.current = nil
		m.features = nil
	}
	m.mu.Unlock()

	if previous != status {
		m.logger.Info("license status changed",
			slog.String("previous", string(previous)),
			slog.String("current", string(status)),
			slog.String("reason", reason))
		m.events.statusChanged(StatusChange{Previous: previous, Current: status, Reason: reason})
	}
}

func (m *Manager) maybeWarnExpiry(lic *storage.License, status Status) {
	if status != StatusValid || lic == nil || lic.IsPerpetual() {
		return
	}
	days := m.cfg.ExpiringSoonDays
	if days <= 0 {
		days = 14
	}
	m.mu.RLock()
	now := m.now()
	m.mu.RUnlock()
	remaining := lic.ExpiresAt.Sub(now)
	if remaining > time.Duration(days)*24*time.Hour {
		return
	}

	// Validation runs on every status poll; warn at most once per calendar
	// day for the same expiry date instead of on every pass.
	day := now.UTC().Truncate(24 * time.Hour)
	m.mu.Lock()
	if m.warnedExpiry.Equal(*lic.ExpiresAt) && m.warnedDay.Equal(day) {
		m.mu.Unlock()
		return
	}
	m.warnedExpiry = *lic.ExpiresAt
	m.warnedDay = day
	m.mu.Unlock()

	m.events.expiringSoon(ExpiryWarning{
		ExpiresAt:     *lic.ExpiresAt,
		DaysRemaining: int(remaining / (24 * time.Hour)),
	})
}

// ActivateLicense performs online activation: the key and email are
// exchanged with the server for a signed license, which then passes the
// same signature and hardware checks as any other load path.
func (m *Manager) ActivateLicense(ctx context.Context, licenseKey, email string) error {
	if !m.limiter.Allow() {
		m.metrics.recordRateLimitHit(ctx)
		return fmt.Errorf("%w: too many activation attempts", apperrors.ErrRateLimited)
	}
	licenseKey = strings.TrimSpace(licenseKey)
	email = strings.TrimSpace(email)
	if licenseKey == "" {
		return fmt.Errorf("%w: empty license key", apperrors.ErrInvalidLicenseKey)
	}
	// Email is optional; the server resolves the customer from the key
	// alone. When one is supplied it must at least look like an address.
	if email != "" && !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email address", apperrors.ErrActivationFailed)
	}

	resp, err := m.client.Activate(ctx, licenseKey, email, m.fingerprint.Fingerprint())
	if err != nil {
		m.metrics.recordActivation(ctx, "online", false)
		return err
	}
	if !resp.Success || resp.License == nil {
		m.metrics.recordActivation(ctx, "online", false)
		if resp.Error != "" {
			return fmt.Errorf("%w: %s", apperrors.ErrActivationFailed, resp.Error)
		}
		return apperrors.ErrActivationFailed
	}

	if err := m.installLicense(ctx, resp.License, "online"); err != nil {
		m.metrics.recordActivation(ctx, "online", false)
		return err
	}

	if err := m.store.UpdateLastOnlineCheck(); err != nil {
		m.logger.Warn("failed to update last online check",
			slog.String("error", err.Error()))
	}
	if !resp.ServerTime.IsZero() && m.store.DetectClockTamperingWithServerTime(resp.ServerTime) {
		m.logger.Warn("local clock drifts from server time",
			slog.Time("server_time", resp.ServerTime))
	}

	m.startSessionBestEffort(ctx, resp.License)
	m.metrics.recordActivation(ctx, "online", true)
	return nil
}

// ActivateOffline imports a portable pre-signed license file. The
// signature and hardware-binding checks are identical to online
// activation; only the transport differs.
func (m *Manager) ActivateOffline(ctx context.Context, filePath string) error {
	if !m.limiter.Allow() {
		m.metrics.recordRateLimitHit(ctx)
		return fmt.Errorf("%w: too many activation attempts", apperrors.ErrRateLimited)
	}

	if err := m.fileValidator.Validate(filePath); err != nil {
		m.metrics.recordActivation(ctx, "offline", false)
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidLicenseFormat, err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		m.metrics.recordActivation(ctx, "offline", false)
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidLicenseFormat, err)
	}
	var lic storage.License
	if err := json.Unmarshal(data, &lic); err != nil {
		m.metrics.recordActivation(ctx, "offline", false)
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidLicenseFormat, err)
	}
	if !lic.StructurallyValid() {
		m.metrics.recordActivation(ctx, "offline", false)
		return fmt.Errorf("%w: required fields missing", apperrors.ErrInvalidLicenseFormat)
	}

	if err := m.installLicense(ctx, &lic, "offline"); err != nil {
		m.metrics.recordActivation(ctx, "offline", false)
		return err
	}

	// The server has not seen this activation yet; flag it for sync and
	// queue the session start for when connectivity returns.
	if err := m.store.SetOfflineSyncPending(true); err != nil {
		m.logger.Warn("failed to flag offline sync pending",
			slog.String("error", err.Error()))
	}
	m.enqueueSessionStart(ctx, lic.LicenseID)
	m.metrics.recordActivation(ctx, "offline", true)
	return nil
}

// installLicense runs the shared trust checks, persists the license, and
// re-evaluates status. Used by both activation paths.
func (m *Manager) installLicense(ctx context.Context, lic *storage.License, mode string) error {
	if !security.VerifySignature(lic.CanonicalPayload(), lic.Signature, security.IssuerPublicKey()) {
		return fmt.Errorf("%w: license signature did not verify", apperrors.ErrActivationFailed)
	}
	if lic.IsHardwareBound() && !m.fingerprint.Validate(lic.HardwareBinding) {
		return apperrors.ErrHardwareMismatch
	}
	if m.store.IsLicenseRevoked(lic.LicenseID) {
		return fmt.Errorf("%w: license %s", apperrors.ErrRevoked, lic.LicenseID)
	}

	if err := m.store.SaveLicense(lic); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrNoWritableStorage, err)
	}
	if err := m.store.RecordFirstActivation(lic.LicenseID); err != nil {
		m.logger.Warn("failed to record first activation",
			slog.String("error", err.Error()))
	}

	m.logger.Info("license activated",
		slog.String("mode", mode),
		slog.String("license_id", lic.LicenseID),
		slog.String("edition", lic.Edition),
		slog.Bool("hardware_bound", lic.IsHardwareBound()))

	m.CheckLicenseContext(ctx)
	return nil
}

// ForceServerCheck bypasses all cached state and asks the server for the
// license's current standing. A parsed server response supersedes the
// cached status immediately, including a transition into Revoked; a
// transport failure leaves the cached status untouched and is returned as
// a transient error.
func (m *Manager) ForceServerCheck(ctx context.Context) (Status, error) {
	lic := m.store.LoadLicense()
	if lic == nil {
		return m.CheckLicenseContext(ctx), nil
	}

	resp, err := m.client.LicenseStatus(ctx, lic.LicenseID)
	if err != nil {
		m.logger.Warn("server check failed, keeping cached status",
			slog.String("license_id", lic.LicenseID),
			slog.String("error", err.Error()))
		return m.CheckLicenseContext(ctx), err
	}

	m.applyServerVerdict(ctx, lic.LicenseID, resp.Revoked, resp.Reason, resp.ServerTime)
	return m.CheckLicenseContext(ctx), nil
}

// applyServerVerdict applies a parsed server trust decision: revocation is
// recorded locally (sticky), and a server-confirmed reinstatement removes
// the local revocation entry.
func (m *Manager) applyServerVerdict(ctx context.Context, licenseID string, revoked bool, reason string, serverTime time.Time) {
	if revoked {
		if err := m.store.AddToRevocationList(licenseID, reason); err != nil {
			m.logger.Error("failed to record revocation",
				slog.String("license_id", licenseID),
				slog.String("error", err.Error()))
		} else {
			m.metrics.recordRevocation(ctx)
		}
	} else if m.store.IsLicenseRevoked(licenseID) {
		if err := m.store.RemoveFromRevocationList(licenseID); err != nil {
			m.logger.Error("failed to remove revocation after reinstatement",
				slog.String("license_id", licenseID),
				slog.String("error", err.Error()))
		} else {
			m.logger.Info("license reinstated by server",
				slog.String("license_id", licenseID))
		}
	}

	if err := m.store.UpdateLastOnlineCheck(); err != nil {
		m.logger.Warn("failed to update last online check",
			slog.String("error", err.Error()))
	}
	if !serverTime.IsZero() && m.store.DetectClockTamperingWithServerTime(serverTime) {
		m.logger.Warn("local clock drifts from server time",
			slog.Time("server_time", serverTime))
	}

	// Connectivity is confirmed; drain anything queued while offline.
	m.drainQueue(ctx)
}

// Deactivate ends the server session, removes the license from both
// storage locations, and cancels any queued work for it. Metadata survives
// so activation history carries across reinstalls.
func (m *Manager) Deactivate(ctx context.Context) error {
	lic := m.store.LoadLicense()
	if lic != nil {
		if _, err := m.client.EndSession(ctx, lic.LicenseID, m.fingerprint.Fingerprint()); err != nil {
			m.logger.Warn("failed to end server session, continuing deactivation",
				slog.String("error", err.Error()))
		}
		if m.queue != nil {
			if _, err := m.queue.CancelByEntity(ctx, entitySession, lic.LicenseID); err != nil {
				m.logger.Warn("failed to cancel queued session operations",
					slog.String("error", err.Error()))
			}
		}
	}

	if err := m.store.ClearLicense(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrNoWritableStorage, err)
	}
	m.CheckLicenseContext(ctx)
	return nil
}

// Derived queries. All pure over the cached license; never any I/O.

// CurrentStatus returns the last evaluated status
func (m *Manager) CurrentStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// StatusReason returns the human-readable explanation of the last status
func (m *Manager) StatusReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusReason
}

// Tier returns the highest tier the cached license grants, or TierNone
func (m *Manager) Tier() Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	best := TierNone
	for _, f := range m.features {
		if f.Kind == FeatureTier && tierRank(Tier(f.Name)) > tierRank(best) {
			best = Tier(f.Name)
		}
	}
	return best
}

// HasTier reports whether the license grants exactly the named tier
func (m *Manager) HasTier(t Tier) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.features {
		if f.Kind == FeatureTier && strings.EqualFold(f.Name, string(t)) {
			return true
		}
	}
	return false
}

// HasTierOrHigher reports whether the license grants the named tier or one
// above it in the Basic < Professional < Enterprise order
func (m *Manager) HasTierOrHigher(min Tier) bool {
	return m.Tier().AtLeast(min)
}

// IsModuleLicensed reports whether a "Module:<id>" feature is granted
func (m *Manager) IsModuleLicensed(moduleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.features {
		if f.Kind == FeatureModule && strings.EqualFold(f.Name, moduleID) {
			return true
		}
	}
	return false
}

// HasFeature reports an exact match against the raw feature set
func (m *Manager) HasFeature(raw string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.features {
		if f.Raw == raw {
			return true
		}
	}
	return false
}

// DisplayInfo is the shell-facing summary of the current license
type DisplayInfo struct {
	Status        Status     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	LicenseID     string     `json:"license_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerEmail string     `json:"customer_email,omitempty"`
	Edition       string     `json:"edition,omitempty"`
	Tier          Tier       `json:"tier,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	// DaysRemaining is -1 for perpetual licenses
	DaysRemaining int      `json:"days_remaining"`
	Modules       []string `json:"modules,omitempty"`
	DeviceID      string   `json:"device_id"`
	RunCount      int64    `json:"run_count"`
}

// GetDisplayInfo summarizes the cached license for support and UI use
func (m *Manager) GetDisplayInfo() DisplayInfo {
	m.mu.RLock()
	lic := m.current
	status := m.status
	reason := m.statusReason
	features := m.features
	now := m.now()
	m.mu.RUnlock()

	info := DisplayInfo{
		Status:        status,
		Reason:        reason,
		DaysRemaining: 0,
		DeviceID:      m.fingerprint.DisplayID(),
		RunCount:      m.store.GetRunCount(),
	}
	if lic == nil {
		return info
	}

	info.LicenseID = lic.LicenseID
	info.CustomerName = lic.CustomerName
	info.CustomerEmail = lic.CustomerEmail
	info.Edition = lic.Edition
	if lic.IsPerpetual() {
		info.DaysRemaining = -1
	} else {
		info.ExpiresAt = lic.ExpiresAt
		remaining := lic.ExpiresAt.Sub(now)
		if remaining > 0 {
			info.DaysRemaining = int(remaining / (24 * time.Hour))
		}
	}
	for _, f := range features {
		if f.Kind == FeatureTier && tierRank(Tier(f.Name)) > tierRank(info.Tier) {
			info.Tier = Tier(f.Name)
		}
		if f.Kind == FeatureModule {
			info.Modules = append(info.Modules, f.Name)
		}
	}
	return info
}

// RecordProcessingCertificate creates a locally generated processing
// certificate, persists it unsynced, and queues it for server
// verification. Safe to call while offline; that is the point.
func (m *Manager) RecordProcessingCertificate(ctx context.Context, payload string) (string, error) {
	seq, err := m.store.NextCertificateSequence()
	if err != nil {
		return "", fmt.Errorf("failed to allocate certificate sequence: %w", err)
	}
	cert := storage.ProcessingCertificate{
		CertificateID: uuid.New().String(),
		Sequence:      seq,
		Payload:       payload,
		CreatedAt:     m.now(),
	}
	if err := m.store.SaveCertificateLocally(cert); err != nil {
		return "", fmt.Errorf("failed to save certificate locally: %w", err)
	}

	if m.queue != nil {
		op := queue.NewOperation(queue.OpCreate, entityCertificate, cert.CertificateID, payload)
		if err := m.queue.Enqueue(ctx, op); err != nil {
			m.logger.Warn("failed to queue certificate sync",
				slog.String("certificate_id", cert.CertificateID),
				slog.String("error", err.Error()))
		}
	}
	return cert.CertificateID, nil
}

// certificateSyncHandler drains the local certificate cache to the server.
// Idempotent at the entity level: re-syncing an already-accepted
// certificate is a no-op server-side, so a retried operation cannot
// double-apply.
func (m *Manager) certificateSyncHandler(op *queue.Operation) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NetworkTimeout)
	defer cancel()

	certs := m.store.GetUnsyncedCertificates()
	if len(certs) == 0 {
		return true, nil
	}
	resp, err := m.client.SyncCertificates(ctx, certs)
	if err != nil {
		return false, err
	}

	var synced, verified []string
	for _, r := range resp.Results {
		if r.Accepted {
			synced = append(synced, r.CertificateID)
		}
		if r.Verified {
			verified = append(verified, r.CertificateID)
		}
	}
	if len(synced) > 0 {
		if err := m.store.MarkCertificatesAsSynced(synced); err != nil {
			return false, err
		}
	}
	if len(verified) > 0 {
		if err := m.store.MarkCertificatesAsVerified(verified); err != nil {
			return false, err
		}
	}
	return true, nil
}

// sessionReplayHandler replays a queued session operation (an offline
// activation's deferred session start)
func (m *Manager) sessionReplayHandler(op *queue.Operation) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NetworkTimeout)
	defer cancel()

	resp, err := m.client.StartSession(ctx, op.EntityID, m.fingerprint.Fingerprint())
	if err != nil {
		return false, err
	}
	if resp.Revoked {
		m.applyServerVerdict(ctx, op.EntityID, true, resp.Reason, resp.ServerTime)
		m.CheckLicenseContext(ctx)
	}
	if err := m.store.SetOfflineSyncPending(false); err != nil {
		m.logger.Warn("failed to clear offline sync flag",
			slog.String("error", err.Error()))
	}
	return true, nil
}

func (m *Manager) enqueueSessionStart(ctx context.Context, licenseID string) {
	if m.queue == nil {
		return
	}
	op := queue.NewOperation(queue.OpCreate, entitySession, licenseID, "")
	if err := m.queue.Enqueue(ctx, op); err != nil {
		m.logger.Warn("failed to queue session start",
			slog.String("license_id", licenseID),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) startSessionBestEffort(ctx context.Context, lic *storage.License) {
	resp, err := m.client.StartSession(ctx, lic.LicenseID, m.fingerprint.Fingerprint())
	if err != nil {
		m.logger.Warn("session start failed, queuing for retry",
			slog.String("license_id", lic.LicenseID),
			slog.String("error", err.Error()))
		m.enqueueSessionStart(ctx, lic.LicenseID)
		return
	}
	if resp.Conflict {
		m.events.sessionConflict(SessionConflict{ConflictDevice: resp.ConflictDevice})
	}
	// A session-start answer is a server verdict like any other: a revoked
	// flag here must stick locally exactly as it does on the heartbeat path.
	m.applyServerVerdict(ctx, lic.LicenseID, resp.Revoked, resp.Reason, resp.ServerTime)
}

func (m *Manager) drainQueue(ctx context.Context) {
	if m.processor == nil {
		return
	}
	if err := m.processor.Drain(ctx); err != nil {
		m.logger.Warn("offline queue drain failed",
			slog.String("error", err.Error()))
		return
	}
	m.metrics.recordQueueDrain(ctx)
}

func (m *Manager) gracePeriodDays() int {
	if m.cfg.GracePeriodDays > 0 {
		return m.cfg.GracePeriodDays
	}
	return 7
}

func licenseID(lic *storage.License) string {
	if lic == nil {
		return ""
	}
	return lic.LicenseID
}
