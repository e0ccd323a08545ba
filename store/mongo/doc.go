// Package mongo provides a MongoDB implementation of store.Store.
//
// All subsystem stores (job definitions, run state and lease, target
// documents, instance registry, dead letters) share one database. The
// run lease is an atomic FindOneAndUpdate that succeeds only when no
// unexpired lease exists or the caller already owns it, and watermark
// commits are conditional writes that reject regressions, so several
// instances can share the store safely.
//
// The caller owns the *mongo.Client lifecycle -- this package never
// closes it. Pass the client's database to New.
package mongo
