package license

// Status is the outcome of a validation pass
type Status string

const (
	StatusNotFound         Status = "not_found"
	StatusValid            Status = "valid"
	StatusGracePeriod      Status = "grace_period"
	StatusExpired          Status = "expired"
	StatusRevoked          Status = "revoked"
	StatusHardwareMismatch Status = "hardware_mismatch"
	StatusInvalidSignature Status = "invalid_signature"
	StatusCorrupted        Status = "corrupted"
	StatusError            Status = "error"
)

// IsUsable reports whether feature access is granted. Grace period counts
// as usable; the shell presents it as a non-blocking warning.
func (s Status) IsUsable() bool {
	return s == StatusValid || s == StatusGracePeriod
}

// BlocksAccess reports whether the shell must block licensed features
func (s Status) BlocksAccess() bool {
	switch s {
	case StatusExpired, StatusRevoked, StatusHardwareMismatch,
		StatusInvalidSignature, StatusCorrupted, StatusNotFound:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
