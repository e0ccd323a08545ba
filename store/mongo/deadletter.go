package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/deadletter"
	"github.com/syncline/syncline/id"
)

// PushDeadLetter persists a dead-lettered range.
func (s *Store) PushDeadLetter(ctx context.Context, entry *deadletter.Entry) error {
	m := toDeadLetterModel(entry)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if _, err := s.db.Collection(colDeadLetters).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("syncline/mongo: push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns entries matching the given options, newest
// failures first.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	filter := bson.M{}
	if opts.JobName != "" {
		filter["job_name"] = opts.JobName
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(colDeadLetters).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("syncline/mongo: list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var models []deadLetterModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("syncline/mongo: list dead letters decode: %w", err)
	}

	entries := make([]*deadletter.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromDeadLetterModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDeadLetter retrieves an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	var m deadLetterModel
	err := s.db.Collection(colDeadLetters).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, syncline.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("syncline/mongo: get dead letter: %w", err)
	}
	return fromDeadLetterModel(&m)
}

// MarkReplayed records that an entry's range was handed back to the run
// state for reprocessing.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DeadLetterID) error {
	res, err := s.db.Collection(colDeadLetters).UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{"replayed_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("syncline/mongo: mark replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return syncline.ErrDeadLetterNotFound
	}
	return nil
}

// PurgeDeadLetters removes entries with FailedAt before the given time.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colDeadLetters).DeleteMany(ctx,
		bson.M{"failed_at": bson.M{"$lt": before}},
	)
	if err != nil {
		return 0, fmt.Errorf("syncline/mongo: purge dead letters: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDeadLetters returns the total number of entries.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colDeadLetters).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("syncline/mongo: count dead letters: %w", err)
	}
	return n, nil
}
