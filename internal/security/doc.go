// Package security implements the cryptographic services and the hardware
// fingerprint of the HydroSuite licensing core.
//
// Three concerns live here:
//
//   - Issuer signature verification (ed25519) for licenses. Verification
//     fails closed: malformed input of any kind yields false, never a panic
//     or an error the caller could mishandle.
//
//   - Local blob encryption (AES-256-GCM) with a versioned header, keyed
//     either by the embedded master key or by a machine-bound key derived
//     from the hardware fingerprint via scrypt. Decryption under the wrong
//     key is an expected outcome and is reported as absence, not failure.
//
//   - Device fingerprinting from a fixed priority list of hardware sources,
//     with per-source fallback so a deterministic identifier is always
//     produced even in stripped-down virtualized environments.
//
// Keyed checksums (truncated HMAC-SHA256) provide a fast tamper check for
// mirrored copies where a full signature verification is unnecessary.
package security
