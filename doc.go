// Package syncline provides a scheduled, idempotent data-synchronization
// pipeline for Go. It periodically extracts bounded batches from external
// sources (SQL warehouses, object stores), transforms them across a bounded
// worker pool, and upserts the results into a document store, advancing a
// durable watermark only after each batch's write is confirmed.
//
// Syncline is designed as a library, not a service. Import it, configure a
// store and sources, and register sync jobs as ordinary Go functions.
//
// # Quick Start
//
//	p, err := syncline.New(
//	    syncline.WithStore(mongoStore),
//	    syncline.WithTransformConcurrency(8),
//	)
//
// # Architecture
//
// Syncline follows a composable store pattern where each subsystem (job,
// load, cluster, deadletter) defines its own store interface. A single
// backend implements all of them.
//
// Cross-process coordination uses expiring leases written with atomic
// conditional updates, never in-process locks: at most one instance runs a
// given job at a time, and a crashed instance's lease expires so another
// can resume from the last durable watermark. Loads are idempotent upserts
// keyed by a deterministic per-record key, which makes the resulting
// at-least-once batch delivery safe.
package syncline
