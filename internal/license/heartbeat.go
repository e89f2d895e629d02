package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// heartbeatState tracks the background re-validation timer. The host owns
// exactly one manager and drives Start/Stop/Close explicitly; there are no
// ambient global timers.
type heartbeatState struct {
	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	done        chan struct{}
	consecutive int
}

// Start launches the periodic heartbeat and re-validation loop. Calling
// Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.hb.mu.Lock()
	defer m.hb.mu.Unlock()
	if m.hb.running {
		return
	}
	m.hb.running = true
	m.hb.stop = make(chan struct{})
	m.hb.done = make(chan struct{})

	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	m.logger.Info("starting license heartbeat",
		slog.Duration("interval", interval))

	go m.heartbeatLoop(ctx, interval, m.hb.stop, m.hb.done)
}

// Stop halts the heartbeat loop, waiting for an in-flight pass to finish
func (m *Manager) Stop() {
	m.hb.mu.Lock()
	defer m.hb.mu.Unlock()
	if !m.hb.running {
		return
	}
	close(m.hb.stop)
	<-m.hb.done
	m.hb.running = false
	m.logger.Info("license heartbeat stopped")
}

// Close stops the heartbeat and ends the server session. The manager is
// not usable afterwards.
func (m *Manager) Close() error {
	m.Stop()
	if lic := m.store.LoadLicense(); lic != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NetworkTimeout)
		defer cancel()
		if _, err := m.client.EndSession(ctx, lic.LicenseID, m.fingerprint.Fingerprint()); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
	}
	return nil
}

func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.heartbeatPass(ctx)
		}
	}
}

// heartbeatPass re-validates locally, then performs one server round-trip.
// A transport failure raises an event and nothing more: offline operation
// continues until the grace period naturally expires.
func (m *Manager) heartbeatPass(ctx context.Context) {
	status := m.CheckLicenseContext(ctx)
	if !status.IsUsable() {
		return
	}
	lic := m.store.LoadLicense()
	if lic == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.NetworkTimeout)
	resp, err := m.client.Heartbeat(callCtx, lic.LicenseID, m.fingerprint.Fingerprint())
	cancel()
	if err != nil {
		m.hb.mu.Lock()
		m.hb.consecutive++
		n := m.hb.consecutive
		m.hb.mu.Unlock()

		m.logger.Warn("heartbeat failed",
			slog.String("license_id", lic.LicenseID),
			slog.Int("consecutive_failures", n),
			slog.String("error", err.Error()))
		m.metrics.recordHeartbeatFailure(ctx)
		m.events.heartbeatFailed(HeartbeatFailure{Err: err, Consecutive: n})
		return
	}

	m.hb.mu.Lock()
	m.hb.consecutive = 0
	m.hb.mu.Unlock()

	if resp.Conflict {
		m.events.sessionConflict(SessionConflict{ConflictDevice: resp.ConflictDevice})
	}
	m.applyServerVerdict(ctx, lic.LicenseID, resp.Revoked, resp.Reason, resp.ServerTime)
	m.CheckLicenseContext(ctx)

	m.pruneCertificates()
}

// pruneCertificates ages fully verified certificates out of the local
// cache, piggybacking on the heartbeat cadence
func (m *Manager) pruneCertificates() {
	keep := m.cfg.CertificateKeepDays
	if keep <= 0 {
		keep = 90
	}
	removed, err := m.store.CleanupOldCertificates(keep)
	if err != nil {
		m.logger.Warn("certificate cache cleanup failed",
			slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		m.logger.Debug("pruned verified certificates",
			slog.Int("removed", removed))
	}
}
