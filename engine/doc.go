// Package engine wires all Syncline subsystems together and provides
// the primary application-level API for registering sync jobs.
//
// The engine package exists to break a fundamental import cycle: the
// root syncline package defines Entity (imported by job, source,
// deadletter, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	p, err := syncline.New(
//	    syncline.WithStore(mongoStore),
//	    syncline.WithTransformConcurrency(8),
//	)
//
//	eng, err := engine.Build(p,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	)
//
// # Registering Sync Jobs
//
//	err := eng.Register(ctx, &job.Definition{
//	    Name:       "sync-users",
//	    Schedule:   "@every 5m",
//	    Enabled:    true,
//	    Collection: "users",
//	    KeyField:   "id",
//	}, usersExtractor, nil)
//
// A nil transform derives documents from the definition's KeyField.
//
// # Running
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	runID, err := eng.TriggerNow(ctx, "sync-users")
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the run chain
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
