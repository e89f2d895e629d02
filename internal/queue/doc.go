// Package queue implements the durable offline operation queue: work
// generated while disconnected (or during a server outage) is persisted
// before control returns to the caller, then replayed against registered
// handlers once connectivity returns.
//
// Durability comes from a sqlite database in WAL mode; an operation
// acknowledged by Enqueue survives a crash immediately afterwards. The
// queue guarantees ordering by (priority ascending, creation time
// ascending) and per-entity creation order. Deduplication is deliberately
// not a queue concern: handlers are required to be idempotent at the
// entity level (upsert semantics keyed by entity ID), which makes retries
// safe even after a partial application.
package queue
