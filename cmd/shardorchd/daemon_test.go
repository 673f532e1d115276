package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shardorch/shardorch/internal/metadata"
	"github.com/shardorch/shardorch/internal/metadata/oxia"
	"github.com/shardorch/shardorch/internal/orchestration"
)

func TestDaemonStartAndShutdown(t *testing.T) {
	store := metadata.NewMockStore()
	d := newTestDaemon(t, testConfig(), store)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	coordinator := d.Coordinator()
	if coordinator == nil {
		t.Fatal("coordinator not built")
	}
	if v := coordinator.Router().ActiveConfig().Version(); v != 1 {
		t.Errorf("expected active version 1, got %d", v)
	}
	if v, _ := coordinator.Router().ActiveConfig().Prop("sql.show"); v != "true" {
		t.Errorf("expected sql.show=true, got %q", v)
	}

	instances, err := orchestration.ListInstances(ctx, store, "sharding_db", nil)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(instances) != 1 || instances[0].InstanceID != "instance-1" {
		t.Fatalf("unexpected instances: %+v", instances)
	}
	if instances[0].BuildInfo.Version != "test" {
		t.Errorf("expected build version test, got %q", instances[0].BuildInfo.Version)
	}

	base := "http://" + d.healthServer.Addr()
	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected /readyz 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "shardorch_orchestration_init_total") {
		t.Errorf("metrics output missing init counter:\n%s", body)
	}
	if !strings.Contains(string(body), "shardorch_coordination_") {
		t.Errorf("metrics output missing coordination metrics")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	instances, err = orchestration.ListInstances(ctx, store, "sharding_db", nil)
	if err != nil {
		t.Fatalf("ListInstances after shutdown: %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("expected no instances after shutdown, got %d", len(instances))
	}
	if store.Subscribers() != 0 {
		t.Errorf("expected no subscribers after shutdown, got %d", store.Subscribers())
	}
	if err := coordinator.Init(ctx); !errors.Is(err, orchestration.ErrShutdown) {
		t.Errorf("expected ErrShutdown after shutdown, got %v", err)
	}
}

func TestDaemonStartTwice(t *testing.T) {
	d := newTestDaemon(t, testConfig(), metadata.NewMockStore())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Shutdown(context.Background())

	if err := d.Start(context.Background()); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestDaemonShutdownBeforeStart(t *testing.T) {
	d := newTestDaemon(t, testConfig(), metadata.NewMockStore())
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestDaemonAdoptsStoredConfiguration(t *testing.T) {
	store := metadata.NewMockStore()

	first := newTestDaemon(t, testConfig(), store)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Shutdown(context.Background())

	cfg := testConfig()
	cfg.Orchestration.InstanceID = "instance-2"
	cfg.Props = map[string]string{"sql.show": "false"}
	second := newTestDaemon(t, cfg, store)
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer second.Shutdown(context.Background())

	if v, _ := second.Coordinator().Router().ActiveConfig().Prop("sql.show"); v != "true" {
		t.Errorf("expected second instance to adopt sql.show=true, got %q", v)
	}
}

func TestDaemonRetriesInitUntilStoreAvailable(t *testing.T) {
	store := metadata.NewMockStore()
	store.SetUnavailable(metadata.ErrUnavailable)
	time.AfterFunc(300*time.Millisecond, func() { store.SetUnavailable(nil) })

	d := newTestDaemon(t, testConfig(), store)
	defer d.Shutdown(context.Background())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v := d.Coordinator().Router().ActiveConfig().Version(); v == 0 {
		t.Error("expected a persisted configuration after retry")
	}
}

func TestDaemonInitRetryStopsOnCancel(t *testing.T) {
	store := metadata.NewMockStore()
	store.SetUnavailable(metadata.ErrUnavailable)

	cfg := testConfig()
	cfg.Orchestration.InitRetryMaxMs = 60000
	d := newTestDaemon(t, cfg, store)
	defer d.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected Start to fail while the store is unavailable")
	}
}

func readyzStatus(t *testing.T, d *Daemon) int {
	t.Helper()
	resp, err := http.Get("http://" + d.healthServer.Addr() + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestDaemonKeepsServingWhenStoreStaysDown(t *testing.T) {
	store := metadata.NewMockStore()
	store.SetUnavailable(metadata.ErrUnavailable)

	cfg := testConfig()
	cfg.Orchestration.InitRetryMaxMs = 300
	d := newTestDaemon(t, cfg, store)
	defer d.Shutdown(context.Background())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start should not fail while the store is down: %v", err)
	}

	coordinator := d.Coordinator()
	if s := coordinator.State(); s == orchestration.StateActive {
		t.Errorf("coordinator active while the store is down")
	}
	if v, _ := coordinator.Router().ActiveConfig().Prop("sql.show"); v != "true" {
		t.Errorf("local configuration not served, sql.show=%q", v)
	}
	if code := readyzStatus(t, d); code != http.StatusServiceUnavailable {
		t.Errorf("expected /readyz 503, got %d", code)
	}

	resp, err := http.Get("http://" + d.healthServer.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `shardorch_orchestration_init_total{status="failure"}`) {
		t.Error("failed init attempts not recorded")
	}

	// the background retry joins once the store is back
	store.SetUnavailable(nil)
	deadline := time.Now().Add(5 * time.Second)
	for coordinator.State() != orchestration.StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("coordinator never became active, state %s", coordinator.State())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if code := readyzStatus(t, d); code != http.StatusOK {
		t.Errorf("expected /readyz 200 after recovery, got %d", code)
	}
	if v := coordinator.Router().ActiveConfig().Version(); v == 0 {
		t.Error("expected a stored configuration version after recovery")
	}
}

func TestDaemonShutdownStopsBackgroundInit(t *testing.T) {
	store := metadata.NewMockStore()
	store.SetUnavailable(metadata.ErrUnavailable)

	cfg := testConfig()
	cfg.Orchestration.InitRetryMaxMs = 100
	d := newTestDaemon(t, cfg, store)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Shutdown(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown blocked on the background init")
	}
	if s := d.Coordinator().State(); s != orchestration.StateShutdown {
		t.Errorf("expected shutdown state, got %s", s)
	}
}

func TestDaemonRejectsUnknownDataSource(t *testing.T) {
	cfg := testConfig()
	cfg.ShardingRule.Tables[0].ActualDataNodes = []string{"ds9.t_order_0"}
	d := newTestDaemon(t, cfg, metadata.NewMockStore())
	defer d.Shutdown(context.Background())

	start := time.Now()
	err := d.Start(context.Background())
	if err == nil {
		t.Fatal("expected Start to fail")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("invalid configuration should not be retried, took %v", time.Since(start))
	}
}

func TestDaemonWithOxia(t *testing.T) {
	server := oxia.StartTestServer(t)

	cfg := testConfig()
	cfg.Metadata.OxiaEndpoint = server.Addr()
	cfg.Metadata.Namespace = "default"
	cfg.Metadata.Compression = "zstd"

	d := newTestDaemon(t, cfg, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if v := d.Coordinator().Router().ActiveConfig().Version(); v == 0 {
		t.Error("expected a stored configuration version")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
