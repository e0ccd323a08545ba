// Package job defines sync job definitions, per-job run state, and the
// persistence contract that backs them.
//
// A [Definition] names a sync job, its cadence, and how its output is
// keyed. Exactly one [RunState] exists per definition; it owns the durable
// watermark and the cross-process run lease. The lease is an expiring
// record acquired with an atomic conditional write ("acquire iff no
// unexpired lease exists"), never an in-process lock, so at most one
// instance runs a given job at a time even across process restarts.
//
// Definitions are immutable for the duration of a run; edits take effect
// on the next scheduling tick.
package job
