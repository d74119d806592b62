package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	metricsmem "bankflow/pkg/metrics/memory"
	"bankflow/pkg/store"
	"bankflow/pkg/store/mock"
)

func TestNewTiered_RequiresTier(t *testing.T) {
	if _, err := store.NewTiered(store.TieredConfig{}); err == nil {
		t.Fatal("Expected error with no tiers")
	}
}

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := mock.New("L1"), mock.New("L2")
	ts, _ := store.NewTiered(store.TieredConfig{}, l1, l2)
	ctx := context.Background()

	_ = l1.Set(ctx, "k", []byte("v"), time.Minute)

	got, err := ts.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected 'v', got %q", got)
	}
	if l2.GetCalls() != 0 {
		t.Errorf("Expected L2 untouched on L1 hit, got %d calls", l2.GetCalls())
	}
}

func TestTiered_L2HitWarmsL1(t *testing.T) {
	l1, l2 := mock.New("L1"), mock.New("L2")
	mc := metricsmem.NewMemoryCollector()
	ts, _ := store.NewTiered(store.TieredConfig{
		TTL:      time.Hour,
		Strategy: store.PerTierTTL{5 * time.Minute},
		Metrics:  mc,
	}, l1, l2)
	ctx := context.Background()

	_ = l2.Set(ctx, "k", []byte("v"), time.Hour)

	if _, err := ts.Get(ctx, "k"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !l1.Has("k") {
		t.Fatal("Expected L1 to be warmed")
	}
	if ttl := l1.TTLOf("k"); ttl != 5*time.Minute {
		t.Errorf("Expected L1 warm TTL 5m, got %v", ttl)
	}

	snap := mc.Snapshot()
	if snap.Tiers["L1"].Misses != 1 || snap.Tiers["L2"].Hits != 1 {
		t.Errorf("Unexpected tier metrics: %+v", snap.Tiers)
	}
}

func TestTiered_AllMiss(t *testing.T) {
	ts, _ := store.NewTiered(store.TieredConfig{}, mock.New("L1"), mock.New("L2"))

	if _, err := ts.Get(context.Background(), "k"); !store.IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTiered_FailingTierIsSkipped(t *testing.T) {
	l1, l2 := mock.New("L1"), mock.New("L2")
	l1.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("boom")
	}
	ts, _ := store.NewTiered(store.TieredConfig{}, l1, l2)
	ctx := context.Background()
	_ = l2.Set(ctx, "k", []byte("v"), time.Minute)

	got, err := ts.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Expected fallthrough to L2, got %q, %v", got, err)
	}
}

func TestTiered_SingleFlight(t *testing.T) {
	l1 := mock.New("L1")
	release := make(chan struct{})
	l1.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		<-release
		return []byte("v"), nil
	}
	ts, _ := store.NewTiered(store.TieredConfig{}, l1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ts.Get(context.Background(), "k")
			if err != nil || string(got) != "v" {
				t.Errorf("Unexpected result %q, %v", got, err)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls := l1.GetCalls(); calls != 1 {
		t.Errorf("Expected 1 tier read, got %d", calls)
	}
}

func TestTiered_SetWritesAllTiers(t *testing.T) {
	l1, l2 := mock.New("L1"), mock.New("L2")
	l1.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		return errors.New("full")
	}
	ts, _ := store.NewTiered(store.TieredConfig{}, l1, l2)

	err := ts.Set(context.Background(), "k", []byte("v"))
	if err == nil {
		t.Error("Expected the L1 error to be reported")
	}
	if !l2.Has("k") {
		t.Error("Expected L2 written despite L1 failure")
	}
}

func TestTiered_Delete(t *testing.T) {
	l1, l2 := mock.New("L1"), mock.New("L2")
	ts, _ := store.NewTiered(store.TieredConfig{}, l1, l2)
	ctx := context.Background()

	_ = ts.Set(ctx, "k", []byte("v"))
	if err := ts.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l1.Has("k") || l2.Has("k") {
		t.Error("Expected key removed from every tier")
	}
}

func TestTiered_GuardedMissesDoNotTrip(t *testing.T) {
	l1 := mock.New("L1")
	ts, _ := store.NewTiered(store.TieredConfig{Guard: true}, l1)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if _, err := ts.Get(ctx, "missing"); !store.IsNotFound(err) {
			t.Fatalf("Expected miss on iteration %d, got %v", i, err)
		}
	}
	if err := ts.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set after misses failed: %v", err)
	}
}

func TestTiered_CloseAndString(t *testing.T) {
	l1, l2 := mock.New("memory"), mock.New("redis")
	ts, _ := store.NewTiered(store.TieredConfig{}, l1, l2)

	if ts.String() != "store(2 tiers): memory -> redis" {
		t.Errorf("Unexpected String(): %s", ts.String())
	}
	if err := ts.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Error("Expected every tier closed")
	}
}

func TestNamespace(t *testing.T) {
	ns := store.NewNamespace("bankflow", "session").Sub("abc")
	if got := ns.Key("accounts"); got != "bankflow:session:abc:accounts" {
		t.Errorf("Unexpected key %s", got)
	}
	if err := store.ValidateKey(ns.Key("accounts")); err != nil {
		t.Errorf("Expected valid key, got %v", err)
	}
}
