// Package cluster tracks the Syncline process instances sharing one
// store.
//
// Each running instance registers itself as a [Worker] with a unique
// [id.WorkerID], its hostname, and its transform concurrency, and sends
// periodic heartbeats. An instance whose heartbeat goes stale past the
// configured threshold is considered dead; its rows let operators see
// which instance held which job lease when it crashed.
//
// There is deliberately no leader here: mutual exclusion is per job, via
// the expiring lease on each job's run state (see the job package). A
// dead instance's leases simply expire; any surviving instance then
// reclaims the job on its next tick and resumes from the last durable
// watermark.
package cluster
