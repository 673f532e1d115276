package oxia

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/keys"
)

// These tests use an embedded Oxia standalone server by default.
// To test against an external server, set the OXIA_SERVICE_ADDRESS environment variable.

// Oxia requires a minimum session timeout of 5 seconds.
const minSessionTimeout = 5 * time.Second

func TestIntegration_BasicGetPut(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	ctx := context.Background()

	key := keys.ConfigKeyPath("basic")
	version, err := store.Put(ctx, key, []byte("rules: v1"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if version < 1 {
		t.Errorf("expected version >= 1, got %d", version)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !result.Exists || string(result.Value) != "rules: v1" {
		t.Errorf("unexpected result %+v", result)
	}
	if result.Version != version {
		t.Errorf("version mismatch: put=%d get=%d", version, result.Version)
	}

	missing, err := store.Get(ctx, keys.ConfigKeyPath("missing"))
	if err != nil {
		t.Fatalf("Get missing failed: %v", err)
	}
	if missing.Exists {
		t.Error("missing key reported as existing")
	}
}

func TestIntegration_FirstWriterWins(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	ctx := context.Background()
	key := keys.ConfigKeyPath("fww")

	if _, err := store.Put(ctx, key, []byte("first"), metadata.WithExpectedVersion(0)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := store.Put(ctx, key, []byte("second"), metadata.WithExpectedVersion(0))
	if !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	result, _ := store.Get(ctx, key)
	if string(result.Value) != "first" {
		t.Errorf("existing value replaced: %q", result.Value)
	}

	v2, err := store.Put(ctx, key, []byte("third"), metadata.WithExpectedVersion(result.Version))
	if err != nil {
		t.Fatalf("CAS update failed: %v", err)
	}
	if v2 <= result.Version {
		t.Errorf("version did not advance: %d -> %d", result.Version, v2)
	}
}

func TestIntegration_Delete(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	ctx := context.Background()
	key := keys.ConfigKeyPath("delete")

	v, _ := store.Put(ctx, key, []byte("x"))
	if err := store.Delete(ctx, key, metadata.WithDeleteExpectedVersion(v+1)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be idempotent, got %v", err)
	}
}

func TestIntegration_ListInstances(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.PutEphemeral(ctx, keys.InstanceKeyPath("db", id), []byte(id)); err != nil {
			t.Fatalf("PutEphemeral failed: %v", err)
		}
	}
	store.Put(ctx, keys.ConfigKeyPath("db"), []byte("cfg"))
	store.PutEphemeral(ctx, keys.InstanceKeyPath("db10", "z"), []byte("z"))

	results, err := store.List(ctx, keys.InstancesPrefix("db"), "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(results[i].Value) != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i].Value, want)
		}
	}

	limited, err := store.List(ctx, keys.InstancesPrefix("db"), "", 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 results, got %d", len(limited))
	}
}

func TestIntegration_EphemeralRemovedWithSession(t *testing.T) {
	server := StartTestServer(t)
	ctx := context.Background()
	key := keys.InstanceKeyPath("db", "short-lived")

	owner, err := New(ctx, Config{
		ServiceAddress: server.Addr(),
		Namespace:      "default",
		RequestTimeout: 10 * time.Second,
		SessionTimeout: minSessionTimeout,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := owner.PutEphemeral(ctx, key, []byte("x"), metadata.WithEphemeralExpectNotExists()); err != nil {
		t.Fatalf("PutEphemeral failed: %v", err)
	}

	observer := NewTestStore(t, server)
	if r, _ := observer.Get(ctx, key); !r.Exists {
		t.Fatal("ephemeral key should be visible to other clients")
	}

	owner.Close()

	deadline := time.Now().Add(3 * minSessionTimeout)
	for time.Now().Before(deadline) {
		r, err := observer.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !r.Exists {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("ephemeral key survived its session")
}

func TestIntegration_ClosedStore(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	store.Close()

	if _, err := store.PutEphemeral(context.Background(), "/k", nil); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.Notifications(context.Background()); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestIntegration_Notifications(t *testing.T) {
	store := NewTestStore(t, StartTestServer(t))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := store.Notifications(ctx)
	if err != nil {
		t.Fatalf("failed to get notifications: %v", err)
	}
	defer stream.Close()

	key := keys.ConfigKeyPath("notify")
	go func() {
		time.Sleep(100 * time.Millisecond)
		store.Put(context.Background(), key, []byte("v1"))
	}()

	n, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("failed to receive notification: %v", err)
	}
	if n.Key != key || n.Deleted {
		t.Errorf("unexpected notification %+v", n)
	}

	result, _ := store.Get(ctx, key)
	if n.Version != result.Version {
		t.Errorf("notification version %d, stored version %d", n.Version, result.Version)
	}
}
