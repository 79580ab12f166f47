package cachemanager

import (
	"context"
	"testing"
	"time"

	"encore.app/cache/layers"
)

func newTestManager() *Manager {
	l1 := layers.NewL1(100)
	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Hour
	return New([]layers.Layer{l1}, nil, cfg)
}

func TestManagerSetGetRoundTrip(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()
	ctx := context.Background()

	if err := m.Set(ctx, "customer:1:summary", "data", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok, err := m.Get(ctx, "customer:1:summary")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.Value != "data" {
		t.Fatalf("unexpected value: %v", entry.Value)
	}
}

func TestManagerInvalidateByTagFansOutAcrossTiers(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()
	ctx := context.Background()

	if err := m.Set(ctx, "customer:1:summary", "a", time.Minute, "customer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Set(ctx, "customer:1:invoices", "b", time.Minute, "customer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Set(ctx, "order:1", "c", time.Minute, "order"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := m.Invalidate(ctx, nil, "", "customer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}

	if _, ok, _ := m.Get(ctx, "customer:1:summary"); ok {
		t.Fatal("expected tagged entry to be gone")
	}
	if _, ok, _ := m.Get(ctx, "order:1"); !ok {
		t.Fatal("expected untagged entry to survive")
	}
}

func TestManagerInvalidateByKeyStillWorks(t *testing.T) {
	m := newTestManager()
	defer m.Shutdown()
	ctx := context.Background()

	m.Set(ctx, "a", 1, time.Minute)
	n, err := m.Invalidate(ctx, []string{"a"}, "", "")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 invalidated, got n=%d err=%v", n, err)
	}
}
