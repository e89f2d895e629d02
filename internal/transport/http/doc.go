// Package http exposes the loopback HTTP surface consumed by the desktop
// shell: license status and detail queries, online and offline activation,
// deactivation, a forced server re-check, health, and Prometheus metrics.
//
// The surface binds to localhost only and never carries trust decisions of
// its own; every response reflects the state machine in internal/license.
package http
