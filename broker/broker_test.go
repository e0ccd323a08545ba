package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/backoff"
	"github.com/syncline/syncline/broker"
)

// fakeClient counts pings and closes, and can be told to fail pings.
type fakeClient struct {
	pings    int
	closes   int
	pingErr  error
	closeErr error
}

func (f *fakeClient) Ping(context.Context) error {
	f.pings++
	return f.pingErr
}

func (f *fakeClient) Close(context.Context) error {
	f.closes++
	return f.closeErr
}

const testResource = broker.Resource("test")

func TestAcquireOpensLazily(t *testing.T) {
	opened := 0
	c := &fakeClient{}
	b := broker.New()
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		opened++
		return c, nil
	})

	if opened != 0 {
		t.Fatalf("factory ran before first acquire")
	}

	h, err := b.Acquire(context.Background(), testResource)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer b.Release(h)

	if opened != 1 {
		t.Fatalf("opened = %d, want 1", opened)
	}
	if c.pings == 0 {
		t.Fatal("client was handed out without a health check")
	}
}

func TestAcquireReusesHealthyClient(t *testing.T) {
	opened := 0
	b := broker.New()
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		opened++
		return &fakeClient{}, nil
	})

	for range 3 {
		h, err := b.Acquire(context.Background(), testResource)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		b.Release(h)
	}
	if opened != 1 {
		t.Fatalf("opened = %d, want 1 (client should be pooled)", opened)
	}
}

func TestAcquireRetriesThenFailsWithConnectionKind(t *testing.T) {
	attempts := 0
	b := broker.New(broker.WithRetry(backoff.NewConstant(0), 3))
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		attempts++
		return nil, errors.New("refused")
	})

	_, err := b.Acquire(context.Background(), testResource)
	if err == nil {
		t.Fatal("Acquire succeeded against a dead factory")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if kind := syncline.KindOf(err); kind != syncline.KindConnection {
		t.Fatalf("kind = %q, want %q", kind, syncline.KindConnection)
	}
}

func TestFailedPingReopensClient(t *testing.T) {
	bad := &fakeClient{pingErr: errors.New("gone away")}
	good := &fakeClient{}
	clients := []broker.Client{bad, good}
	b := broker.New(broker.WithRetry(backoff.NewConstant(0), 1))
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		c := clients[0]
		clients = clients[1:]
		return c, nil
	})

	h, err := b.Acquire(context.Background(), testResource)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer b.Release(h)

	if h.Client() != good {
		t.Fatal("broker handed out a client that failed its health check")
	}
	if bad.closes != 1 {
		t.Fatalf("unhealthy client closes = %d, want 1", bad.closes)
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	b := broker.New()
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		return &fakeClient{}, nil
	})

	func() {
		defer func() { _ = recover() }()
		_ = b.With(context.Background(), testResource, func(broker.Client) error {
			panic("handler exploded")
		})
	}()

	// If the panic leaked the handle, the stale-hold reclaim would be the
	// only way out. A healthy release means this acquire sees inUse == 0
	// and does not log a reclaim; verify by acquiring normally.
	h, err := b.Acquire(context.Background(), testResource)
	if err != nil {
		t.Fatalf("Acquire after panic: %v", err)
	}
	b.Release(h)
}

func TestStaleHandleIsReclaimed(t *testing.T) {
	first := &fakeClient{}
	second := &fakeClient{}
	clients := []broker.Client{first, second}
	b := broker.New(broker.WithHoldTimeout(1 * time.Millisecond))
	b.Register(testResource, func(context.Context) (broker.Client, error) {
		c := clients[0]
		clients = clients[1:]
		return c, nil
	})

	// Acquire and deliberately never release.
	if _, err := b.Acquire(context.Background(), testResource); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	h, err := b.Acquire(context.Background(), testResource)
	if err != nil {
		t.Fatalf("Acquire after stale hold: %v", err)
	}
	defer b.Release(h)

	if first.closes == 0 {
		t.Fatal("stale client was not reclaimed")
	}
	if h.Client() != second {
		t.Fatal("expected a fresh client after reclaim")
	}
}

func TestCloseClosesAllClients(t *testing.T) {
	a := &fakeClient{}
	c := &fakeClient{}
	b := broker.New()
	b.Register("a", func(context.Context) (broker.Client, error) { return a, nil })
	b.Register("c", func(context.Context) (broker.Client, error) { return c, nil })

	for _, res := range []broker.Resource{"a", "c"} {
		h, err := b.Acquire(context.Background(), res)
		if err != nil {
			t.Fatalf("Acquire %s: %v", res, err)
		}
		b.Release(h)
	}

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.closes != 1 || c.closes != 1 {
		t.Fatalf("closes = %d/%d, want 1/1", a.closes, c.closes)
	}
}

func TestUnknownResource(t *testing.T) {
	b := broker.New()
	_, err := b.Acquire(context.Background(), "nope")
	if err == nil {
		t.Fatal("Acquire of unregistered resource succeeded")
	}
}
