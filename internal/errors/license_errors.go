package errors

import (
	"errors"
)

// License-specific sentinel errors. These cross the state-machine boundary
// only when an operation genuinely failed; expected absence/mismatch cases
// never surface as errors.
var (
	ErrLicenseExpired       = errors.New("license expired")
	ErrLicenseNotActivated  = errors.New("license not activated")
	ErrInvalidLicenseKey    = errors.New("invalid license key")
	ErrInvalidLicenseFormat = errors.New("invalid license file format")
	ErrRateLimited          = errors.New("rate limited")
	ErrNetworkError         = errors.New("network error")
	ErrActivationFailed     = errors.New("activation failed")
	ErrHardwareMismatch     = errors.New("license bound to a different device")
	ErrRevoked              = errors.New("license revoked")
	ErrSessionConflict      = errors.New("license session active on another device")
	ErrNoWritableStorage    = errors.New("no writable storage location")
)

// IsTransient reports whether the error represents a transient condition
// (network unavailable, rate limited) that must not change trust state.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkError) || errors.Is(err, ErrRateLimited)
}
