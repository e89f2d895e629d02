// Package license implements the validation state machine that gates
// HydroSuite feature access: activation (online and offline), periodic
// re-validation, grace-period handling, revocation, hardware binding, and
// the derived tier/module/feature queries the desktop shell consumes.
//
// The manager caches the last evaluated status; queries never perform
// network I/O. Only CheckLicense, ForceServerCheck, and the background
// heartbeat mutate the cached state, and trust decisions (revocation,
// invalid signature) come exclusively from verified local records or
// parsed server responses, never from transport failures.
package license
