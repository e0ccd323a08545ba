// Package store defines the aggregate persistence interface.
//
// Each subsystem (job, load, cluster, deadletter) defines its own store
// interface. The composite [Store] composes them all. A single backend
// need only implement Store to satisfy every subsystem's persistence
// contract.
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/mongo — MongoDB backend using mongo-driver/v2
//
// # Usage
//
//	import mongostore "github.com/syncline/syncline/store/mongo"
//
//	s := mongostore.New(client.Database("syncline"))
//	p, err := syncline.New(syncline.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create collections and indexes:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
