package broker_test

import (
	"context"
	"testing"

	"github.com/syncline/syncline/broker"
)

func TestObjectStoreFactoryThreadsBucket(t *testing.T) {
	t.Parallel()

	// minio.New does not dial, so constructing the client is safe
	// without a live endpoint.
	factory := broker.ObjectStoreFactory(broker.ObjectStoreConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "sync-landing",
		Secure:    false,
	})

	c, err := factory(context.Background())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	osc, ok := c.(*broker.ObjectStoreClient)
	if !ok {
		t.Fatalf("client type = %T, want *broker.ObjectStoreClient", c)
	}
	if osc.Bucket != "sync-landing" {
		t.Errorf("bucket = %q, want %q; health probes need the configured bucket", osc.Bucket, "sync-landing")
	}
	if osc.C == nil {
		t.Error("minio client not constructed")
	}
}
