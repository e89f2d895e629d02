// Package app assembles the licensing core: configuration, logging and
// telemetry, the hardware fingerprint, encrypted local storage, the offline
// operation queue, the license server client, the validation state machine,
// and the loopback HTTP server, with ordered startup and shutdown.
package app
