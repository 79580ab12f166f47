package invalidation

import (
	"context"
	"testing"
	"time"
)

func TestDelayedQueueSchedulesAndDrains(t *testing.T) {
	q := NewDelayedQueue(10)
	q.Schedule("a", "", "", time.Millisecond)
	q.Schedule("b", "", "", time.Hour)

	time.Sleep(5 * time.Millisecond)
	ready := q.Ready(time.Now())
	if len(ready) != 1 || ready[0].target != "a" {
		t.Fatalf("expected only 'a' ready, got %+v", ready)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.Len())
	}
}

func TestDelayedQueueOverflowDropsOldest20Percent(t *testing.T) {
	q := NewDelayedQueue(10)
	for i := 0; i < 10; i++ {
		q.Schedule("k", "", "", time.Duration(i+1)*time.Minute)
	}
	q.Schedule("overflow", "", "", time.Hour)

	if q.DroppedCount() != 2 {
		t.Fatalf("expected 2 dropped (20%% of 10), got %d", q.DroppedCount())
	}
	if q.Len() != 9 {
		t.Fatalf("expected 9 remaining after drop+insert, got %d", q.Len())
	}
}

func TestDependencyGraphChain(t *testing.T) {
	g := NewDependencyGraph()
	g.Register("customer:1", "customer:1:summary")
	g.Register("customer:1", "customer:1:invoices")
	g.Register("customer:1:invoices", "customer:1:invoices:recent")

	chain := g.Chain("customer:1")
	want := map[string]bool{
		"customer:1":                   true,
		"customer:1:summary":           true,
		"customer:1:invoices":          true,
		"customer:1:invoices:recent":   true,
	}
	if len(chain) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(chain), chain)
	}
	for _, k := range chain {
		if !want[k] {
			t.Fatalf("unexpected key in chain: %s", k)
		}
	}
}

func TestServiceInvalidateDelayed(t *testing.T) {
	svc := setupTestService()
	resp, err := svc.InvalidateDelayed(context.Background(), &InvalidateDelayedRequest{
		Key: "user:1", Delay: time.Minute, TriggeredBy: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Scheduled || resp.QueueLen != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestServiceInvalidateDelayedRequiresKeyOrPattern(t *testing.T) {
	svc := setupTestService()
	_, err := svc.InvalidateDelayed(context.Background(), &InvalidateDelayedRequest{Delay: time.Minute})
	if err == nil {
		t.Fatal("expected error for missing key/pattern")
	}
}

func TestServiceDependencyChainInvalidation(t *testing.T) {
	svc := setupTestService()
	ctx := context.Background()

	svc.dependencies().Register("customer:1", "customer:1:summary")

	resp, err := svc.InvalidateDependencyChain(ctx, &InvalidateDependencyChainRequest{Root: "customer:1", TriggeredBy: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.InvalidatedCount != 2 {
		t.Fatalf("expected 2 invalidated (root + child), got %d", resp.InvalidatedCount)
	}
}

func TestServiceDispatchEvent(t *testing.T) {
	svc := setupTestService()
	svc.catalogue = NewRuleCatalogue()
	svc.catalogue.Register(Rule{Event: "customer.updated", Patterns: []string{"customer:1:*"}})

	resp, err := svc.DispatchEvent(context.Background(), &DispatchEventRequest{Event: "customer.updated", TriggeredBy: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RulesApplied != 1 {
		t.Fatalf("expected 1 rule applied, got %d", resp.RulesApplied)
	}
}

func TestServiceDispatchEventInterpolatesTagAndPattern(t *testing.T) {
	svc := setupTestService()
	svc.catalogue = DefaultCatalogue()

	resp, err := svc.DispatchEvent(context.Background(), &DispatchEventRequest{
		Event:       "customer:updated",
		Data:        map[string]string{"id": "42"},
		TriggeredBy: "test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RulesApplied != 1 {
		t.Fatalf("expected 1 rule applied, got %d", resp.RulesApplied)
	}
}

func TestServiceInvalidateTag(t *testing.T) {
	svc := setupTestService()
	resp, err := svc.InvalidateTag(context.Background(), &InvalidateTagRequest{Tag: "customer", TriggeredBy: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Tag != "customer" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDelayedWorkerGroupsByKindAndDedups(t *testing.T) {
	q := NewDelayedQueue(10)
	q.Schedule("a", "", "", time.Millisecond)
	q.Schedule("a", "", "", time.Millisecond)
	q.Schedule("", "p:*", "", time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	ready := q.Ready(time.Now())
	if len(ready) != 3 {
		t.Fatalf("expected 3 raw ready items before grouping, got %d", len(ready))
	}

	grouped := make(map[string]map[string]bool)
	for _, item := range ready {
		if grouped[item.kind] == nil {
			grouped[item.kind] = make(map[string]bool)
		}
		grouped[item.kind][item.target] = true
	}
	if len(grouped["key"]) != 1 {
		t.Fatalf("expected deduped to 1 key target, got %d", len(grouped["key"]))
	}
	if len(grouped["pattern"]) != 1 {
		t.Fatalf("expected 1 pattern target, got %d", len(grouped["pattern"]))
	}
}
