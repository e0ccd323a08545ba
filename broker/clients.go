package broker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// ──────────────────────────────────────────────────
// Document store (MongoDB)
// ──────────────────────────────────────────────────

// MongoClient adapts *mongo.Client to the broker Client contract.
type MongoClient struct {
	C *mongo.Client
}

func (m *MongoClient) Ping(ctx context.Context) error {
	return m.C.Ping(ctx, readpref.Primary())
}

func (m *MongoClient) Close(ctx context.Context) error {
	return m.C.Disconnect(ctx)
}

// MongoFactory opens a MongoDB client for the given connection URI.
func MongoFactory(uri string) Factory {
	return func(_ context.Context) (Client, error) {
		c, err := mongo.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, fmt.Errorf("broker: mongo connect: %w", err)
		}
		return &MongoClient{C: c}, nil
	}
}

// Mongo acquires the document store client. The caller must Release the
// handle; prefer WithMongo for scoped use.
func Mongo(ctx context.Context, b *Broker) (*mongo.Client, *Handle, error) {
	h, err := b.Acquire(ctx, ResourceDocumentStore)
	if err != nil {
		return nil, nil, err
	}
	return h.Client().(*MongoClient).C, h, nil
}

// ──────────────────────────────────────────────────
// Warehouse (PostgreSQL via pgx)
// ──────────────────────────────────────────────────

// WarehousePool adapts *pgxpool.Pool to the broker Client contract.
type WarehousePool struct {
	P *pgxpool.Pool
}

func (w *WarehousePool) Ping(ctx context.Context) error {
	return w.P.Ping(ctx)
}

func (w *WarehousePool) Close(_ context.Context) error {
	w.P.Close()
	return nil
}

// WarehouseFactory opens a pgx connection pool for the given DSN.
func WarehouseFactory(dsn string) Factory {
	return func(ctx context.Context) (Client, error) {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("broker: warehouse connect: %w", err)
		}
		return &WarehousePool{P: p}, nil
	}
}

// WithWarehouse runs fn with the warehouse pool, releasing on every exit
// path.
func WithWarehouse(ctx context.Context, b *Broker, fn func(*pgxpool.Pool) error) error {
	return b.With(ctx, ResourceWarehouse, func(c Client) error {
		return fn(c.(*WarehousePool).P)
	})
}

// ──────────────────────────────────────────────────
// Object store (S3-compatible via minio)
// ──────────────────────────────────────────────────

// ObjectStoreClient adapts *minio.Client to the broker Client contract.
// Bucket is the bucket used for health probes.
type ObjectStoreClient struct {
	C      *minio.Client
	Bucket string
}

func (o *ObjectStoreClient) Ping(ctx context.Context) error {
	if _, err := o.C.BucketExists(ctx, o.Bucket); err != nil {
		return err
	}
	return nil
}

func (o *ObjectStoreClient) Close(_ context.Context) error {
	// minio clients hold no persistent connections to release.
	return nil
}

// ObjectStoreConfig holds connection settings for an S3-compatible store.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// ObjectStoreFactory opens an S3-compatible object store client.
func ObjectStoreFactory(cfg ObjectStoreConfig) Factory {
	return func(_ context.Context) (Client, error) {
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("broker: object store connect: %w", err)
		}
		return &ObjectStoreClient{C: c, Bucket: cfg.Bucket}, nil
	}
}

// WithObjectStore runs fn with the object store client, releasing on
// every exit path.
func WithObjectStore(ctx context.Context, b *Broker, fn func(*minio.Client) error) error {
	return b.With(ctx, ResourceObjectStore, func(c Client) error {
		return fn(c.(*ObjectStoreClient).C)
	})
}

// ──────────────────────────────────────────────────
// Revocation set (Redis)
// ──────────────────────────────────────────────────

// RedisClient adapts *redis.Client to the broker Client contract.
type RedisClient struct {
	C *redis.Client
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.C.Ping(ctx).Err()
}

func (r *RedisClient) Close(_ context.Context) error {
	return r.C.Close()
}

// RevocationsFactory opens a Redis client for the token revocation set.
func RevocationsFactory(addr, password string, db int) Factory {
	return func(_ context.Context) (Client, error) {
		c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
		return &RedisClient{C: c}, nil
	}
}

// Redis acquires the revocation set client. The caller must Release the
// handle.
func Redis(ctx context.Context, b *Broker) (*redis.Client, *Handle, error) {
	h, err := b.Acquire(ctx, ResourceRevocations)
	if err != nil {
		return nil, nil, err
	}
	return h.Client().(*RedisClient).C, h, nil
}
