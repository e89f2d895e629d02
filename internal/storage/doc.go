// Package storage is the sole reader and writer of all persisted licensing
// state: the license blob, the anti-tamper metadata, the revocation list,
// and the processing-certificate cache. No other package touches the on-disk
// representation; all mutation happens through the typed accessors of Store,
// which serialize read-modify-write sequences under a single lock.
//
// The license blob is written to two locations: the primary encrypted file
// and a base64 backup mirror with a keyed checksum sidecar. Either location
// alone is sufficient to recover the license; a readable backup
// opportunistically repairs a lost or corrupted primary.
//
// Every operation degrades gracefully. Records that fail to decrypt, fail
// signature verification, or fail to parse are treated as absent and never
// surface as errors; only a genuinely unwritable primary location returns
// an error to callers.
package storage
