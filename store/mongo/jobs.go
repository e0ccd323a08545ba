package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
	"github.com/syncline/syncline/job"
)

// PutDefinition inserts or replaces a job definition by name and makes
// sure a run state row exists for it.
func (s *Store) PutDefinition(ctx context.Context, d *job.Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}

	m := toDefinitionModel(d)
	m.UpdatedAt = now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	col := s.db.Collection(colJobs)
	opts := options.Replace().SetUpsert(true)
	if _, err := col.ReplaceOne(ctx, bson.M{"_id": m.Name}, m, opts); err != nil {
		return fmt.Errorf("syncline/mongo: put definition: %w", err)
	}

	// Seed the run state so GetRunState works before the first run.
	// $setOnInsert keeps an existing state (watermark included) intact.
	runs := s.db.Collection(colRuns)
	seed := bson.M{"$setOnInsert": bson.M{
		"watermark":  syncline.Watermark{},
		"status":     string(job.StatusIdle),
		"created_at": m.UpdatedAt,
		"updated_at": m.UpdatedAt,
	}}
	updateOpts := options.UpdateOne().SetUpsert(true)
	if _, err := runs.UpdateOne(ctx, bson.M{"_id": m.Name}, seed, updateOpts); err != nil {
		return fmt.Errorf("syncline/mongo: seed run state: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by name.
func (s *Store) GetDefinition(ctx context.Context, name string) (*job.Definition, error) {
	var m definitionModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": name}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, syncline.ErrJobNotFound
		}
		return nil, fmt.Errorf("syncline/mongo: get definition: %w", err)
	}
	return fromDefinitionModel(&m), nil
}

// ListDefinitions returns all definitions in name order.
func (s *Store) ListDefinitions(ctx context.Context) ([]*job.Definition, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(colJobs).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: list definitions: %w", err)
	}
	defer cursor.Close(ctx)

	var models []definitionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("syncline/mongo: list definitions decode: %w", err)
	}

	defs := make([]*job.Definition, 0, len(models))
	for i := range models {
		defs = append(defs, fromDefinitionModel(&models[i]))
	}
	return defs, nil
}

// DeleteDefinition removes a definition and its run state.
func (s *Store) DeleteDefinition(ctx context.Context, name string) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("syncline/mongo: delete definition: %w", err)
	}
	if res.DeletedCount == 0 {
		return syncline.ErrJobNotFound
	}
	if _, err := s.db.Collection(colRuns).DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("syncline/mongo: delete run state: %w", err)
	}
	return nil
}

// GetRunState retrieves the run state for a job.
func (s *Store) GetRunState(ctx context.Context, name string) (*job.RunState, error) {
	var m runStateModel
	err := s.db.Collection(colRuns).FindOne(ctx, bson.M{"_id": name}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, syncline.ErrRunNotFound
		}
		return nil, fmt.Errorf("syncline/mongo: get run state: %w", err)
	}
	return fromRunStateModel(&m)
}

// SaveRunState persists run status, error detail, and failed ranges. The
// watermark and lease fields are deliberately absent from the update:
// only CommitWatermark and the lease operations touch them.
func (s *Store) SaveRunState(ctx context.Context, state *job.RunState) error {
	t := now()
	set := bson.M{
		"status":       string(state.Status),
		"last_run_id":  state.LastRunID.String(),
		"started_at":   state.StartedAt,
		"finished_at":  state.FinishedAt,
		"error_kind":   string(state.ErrorKind),
		"error_detail": state.ErrorDetail,
		"updated_at":   t,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": t},
	}
	if ranges := toFailedRangeModels(state.FailedRanges); ranges != nil {
		set["failed_ranges"] = ranges
	} else {
		update["$unset"] = bson.M{"failed_ranges": ""}
	}

	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.db.Collection(colRuns).UpdateOne(ctx, bson.M{"_id": state.JobName}, update, opts); err != nil {
		return fmt.Errorf("syncline/mongo: save run state: %w", err)
	}
	return nil
}

// CommitWatermark durably advances the watermark for a job with a
// conditional write: the update matches only when the stored watermark
// is at or before w, so a regression can never land.
func (s *Store) CommitWatermark(ctx context.Context, name string, w syncline.Watermark) error {
	col := s.db.Collection(colRuns)

	// stored > w would be: seq greater, or seq equal and key greater.
	filter := bson.M{
		"_id": name,
		"$nor": []bson.M{
			{"watermark.seq": bson.M{"$gt": w.Seq}},
			{"watermark.seq": w.Seq, "watermark.key": bson.M{"$gt": w.Key}},
		},
	}
	update := bson.M{"$set": bson.M{
		"watermark":  w,
		"updated_at": now(),
	}}

	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("syncline/mongo: commit watermark: %w", err)
	}
	if res.MatchedCount == 0 {
		count, existErr := col.CountDocuments(ctx, bson.M{"_id": name})
		if existErr != nil {
			return fmt.Errorf("syncline/mongo: commit watermark exists check: %w", existErr)
		}
		if count == 0 {
			return syncline.ErrRunNotFound
		}
		return syncline.Ef(syncline.KindInternal, "mongo.commit_watermark",
			"watermark regression for %s: refusing to move before %s", name, w)
	}
	return nil
}

// AcquireLease attempts to take the run lease with an atomic
// FindOneAndUpdate: it succeeds iff no lease is set, the lease has
// expired, or the caller already owns it.
func (s *Store) AcquireLease(ctx context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	until := t.Add(ttl)
	ownerID := owner.String()
	col := s.db.Collection(colRuns)

	filter := bson.M{
		"_id": name,
		"$or": []bson.M{
			{"lease_owner": nil},
			{"lease_owner": bson.M{"$exists": false}},
			{"lease_owner": ""},
			{"lease_until": bson.M{"$lt": t}},
			{"lease_owner": ownerID},
		},
	}
	update := bson.M{"$set": bson.M{
		"lease_owner": ownerID,
		"lease_until": until,
		"updated_at":  t,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m runStateModel
	err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return true, nil
	}
	if !isNoDocuments(err) {
		return false, fmt.Errorf("syncline/mongo: acquire lease: %w", err)
	}

	// No match: either the state row is missing or the lease is held.
	count, existErr := col.CountDocuments(ctx, bson.M{"_id": name})
	if existErr != nil {
		return false, fmt.Errorf("syncline/mongo: acquire lease exists check: %w", existErr)
	}
	if count > 0 {
		return false, nil
	}

	// First contact with this job: create the state row holding the
	// lease. A duplicate key here means another instance won the race.
	seed := &runStateModel{
		JobName:    name,
		Status:     string(job.StatusIdle),
		LeaseOwner: ownerID,
		LeaseUntil: &until,
		CreatedAt:  t,
		UpdatedAt:  t,
	}
	if _, err := col.InsertOne(ctx, seed); err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("syncline/mongo: acquire lease insert: %w", err)
	}
	return true, nil
}

// RenewLease extends a held lease. Returns false if the caller no
// longer owns it.
func (s *Store) RenewLease(ctx context.Context, name string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	t := now()
	res, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": name, "lease_owner": owner.String()},
		bson.M{"$set": bson.M{
			"lease_until": t.Add(ttl),
			"updated_at":  t,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("syncline/mongo: renew lease: %w", err)
	}
	return res.MatchedCount > 0, nil
}

// ReleaseLease drops the lease if the caller owns it. Releasing a lease
// owned by someone else is a no-op.
func (s *Store) ReleaseLease(ctx context.Context, name string, owner id.WorkerID) error {
	_, err := s.db.Collection(colRuns).UpdateOne(ctx,
		bson.M{"_id": name, "lease_owner": owner.String()},
		bson.M{
			"$set":   bson.M{"updated_at": now()},
			"$unset": bson.M{"lease_owner": "", "lease_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("syncline/mongo: release lease: %w", err)
	}
	return nil
}
