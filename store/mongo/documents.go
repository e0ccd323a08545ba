package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/syncline/syncline"
)

// UpsertDocuments writes every document keyed by its idempotency key in
// one unordered bulk write: existing documents are replaced, new ones
// inserted. Re-running the same batch converges on one logical document
// per key.
func (s *Store) UpsertDocuments(ctx context.Context, collection string, docs []syncline.TargetDocument) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	t := now()
	writes := make([]mongod.WriteModel, 0, len(docs))
	for _, d := range docs {
		writes = append(writes, mongod.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.Key}).
			SetReplacement(toDocumentModel(d, t)).
			SetUpsert(true))
	}

	opts := options.BulkWrite().SetOrdered(false)
	res, err := s.db.Collection(collection).BulkWrite(ctx, writes, opts)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, syncline.E(syncline.KindConstraint, "mongo.upsert_documents", err)
		}
		// Anything else (connection reset, primary stepdown) is worth a
		// retry with the same keys.
		return 0, syncline.E(syncline.KindLoad, "mongo.upsert_documents", err)
	}
	return int(res.UpsertedCount + res.MatchedCount), nil
}

// GetDocument retrieves one document by key.
func (s *Store) GetDocument(ctx context.Context, collection, key string) (*syncline.TargetDocument, error) {
	var m documentModel
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, syncline.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("syncline/mongo: get document: %w", err)
	}
	return fromDocumentModel(&m), nil
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, collection string) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("syncline/mongo: count documents: %w", err)
	}
	return n, nil
}
