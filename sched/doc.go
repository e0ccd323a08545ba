// Package sched contains the scheduler and the run executor.
//
// The Scheduler ticks on a fixed interval, computes which enabled jobs
// are due from their cron schedule and last run, and starts one run per
// due job. Before a run starts the scheduler takes the job's
// cross-process lease with an atomic conditional write; losing the
// race is a normal skip, not an error, so any number of instances can
// tick the same job set without double-processing. The lease is
// renewed for the duration of the run and released when it ends.
//
// The Runner executes a single run: it first reprocesses any watermark
// sub-ranges left behind by failed transform shards, then repeatedly
// extracts a batch, fans it out to the transform pool, loads the
// resulting documents, and commits the watermark, in that order, so
// the watermark never points past data that is not durably loaded.
package sched
