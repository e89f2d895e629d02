package license

import (
	"log/slog"
	"sync"
	"time"
)

// StatusChange describes a status transition observed by a validation pass
type StatusChange struct {
	Previous Status
	Current  Status
	Reason   string
}

// ExpiryWarning is raised when a valid license approaches its expiry date
type ExpiryWarning struct {
	ExpiresAt     time.Time
	DaysRemaining int
}

// SessionConflict is raised when the server reports the license in use on
// another device
type SessionConflict struct {
	ConflictDevice string
}

// HeartbeatFailure is raised when a heartbeat round-trip fails. It is
// informational: a transient failure never invalidates a cached license.
type HeartbeatFailure struct {
	Err         error
	Consecutive int
}

// Callbacks are the host-registered event sinks. Nil fields are skipped.
// Callbacks run synchronously on the manager's goroutine and must not call
// back into the manager.
type Callbacks struct {
	StatusChanged   func(StatusChange)
	ExpiringSoon    func(ExpiryWarning)
	SessionConflict func(SessionConflict)
	HeartbeatFailed func(HeartbeatFailure)
}

// eventDispatcher fans events out to the registered callbacks with panic
// isolation so a misbehaving host callback cannot break validation.
type eventDispatcher struct {
	mu        sync.RWMutex
	callbacks Callbacks
	logger    *slog.Logger
}

func (d *eventDispatcher) register(cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = cb
}

func (d *eventDispatcher) statusChanged(ev StatusChange) {
	d.mu.RLock()
	fn := d.callbacks.StatusChanged
	d.mu.RUnlock()
	if fn != nil {
		d.safeInvoke("status_changed", func() { fn(ev) })
	}
}

func (d *eventDispatcher) expiringSoon(ev ExpiryWarning) {
	d.mu.RLock()
	fn := d.callbacks.ExpiringSoon
	d.mu.RUnlock()
	if fn != nil {
		d.safeInvoke("expiring_soon", func() { fn(ev) })
	}
}

func (d *eventDispatcher) sessionConflict(ev SessionConflict) {
	d.mu.RLock()
	fn := d.callbacks.SessionConflict
	d.mu.RUnlock()
	if fn != nil {
		d.safeInvoke("session_conflict", func() { fn(ev) })
	}
}

func (d *eventDispatcher) heartbeatFailed(ev HeartbeatFailure) {
	d.mu.RLock()
	fn := d.callbacks.HeartbeatFailed
	d.mu.RUnlock()
	if fn != nil {
		d.safeInvoke("heartbeat_failed", func() { fn(ev) })
	}
}

func (d *eventDispatcher) safeInvoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event callback panicked",
				slog.String("event", event),
				slog.Any("panic", r))
		}
	}()
	fn()
}
