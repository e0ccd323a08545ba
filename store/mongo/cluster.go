package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/cluster"
	"github.com/syncline/syncline/id"
)

// RegisterWorker adds an instance to the registry. Re-registration with
// the same ID replaces the existing record.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	m := toWorkerModel(w)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(colWorkers).ReplaceOne(ctx, bson.M{"_id": m.ID}, m, opts)
	if err != nil {
		return fmt.Errorf("syncline/mongo: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes an instance from the registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(colWorkers).DeleteOne(ctx, bson.M{"_id": workerID.String()})
	if err != nil {
		return fmt.Errorf("syncline/mongo: deregister worker: %w", err)
	}
	if res.DeletedCount == 0 {
		return syncline.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for an instance.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.Collection(colWorkers).UpdateOne(ctx,
		bson.M{"_id": workerID.String()},
		bson.M{"$set": bson.M{
			"last_seen": now(),
			"state":     string(cluster.WorkerActive),
		}},
	)
	if err != nil {
		return fmt.Errorf("syncline/mongo: heartbeat worker: %w", err)
	}
	if res.MatchedCount == 0 {
		return syncline.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered instances.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(colWorkers).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: list workers: %w", err)
	}
	defer cursor.Close(ctx)

	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("syncline/mongo: list workers decode: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers marks instances whose last-seen timestamp is older
// than the threshold as dead and returns them. Their leases are left to
// expire on their own.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := now().Add(-threshold)
	col := s.db.Collection(colWorkers)

	filter := bson.M{
		"state":     bson.M{"$ne": string(cluster.WorkerDead)},
		"last_seen": bson.M{"$lt": cutoff},
	}

	cursor, err := col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: reap dead workers: %w", err)
	}
	defer cursor.Close(ctx)

	var models []workerModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("syncline/mongo: reap dead workers decode: %w", err)
	}
	if len(models) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(models))
	for i := range models {
		ids = append(ids, models[i].ID)
	}
	_, err = col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"state": string(cluster.WorkerDead)}},
	)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: mark dead workers: %w", err)
	}

	reaped := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		w.State = cluster.WorkerDead
		reaped = append(reaped, w)
	}
	return reaped, nil
}
