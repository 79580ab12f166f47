package registry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStartRespectsDependencyOrder(t *testing.T) {
	r := New()
	var order []string
	record := func(name string) InitFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	r.Register(Component{Name: "db", Init: record("db"), Required: true})
	r.Register(Component{Name: "cache", Dependencies: []string{"db"}, Init: record("cache"), Required: true})
	r.Register(Component{Name: "api", Dependencies: []string{"cache", "db"}, Init: record("api"), Required: true})

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	want := map[string]int{"db": 0, "cache": 1, "api": 2}
	for name, idx := range want {
		if order[idx] != name {
			t.Fatalf("expected %s at position %d, got order %v", name, idx, order)
		}
	}
}

func TestStartBreaksTiesByPriority(t *testing.T) {
	r := New()
	var order []string
	record := func(name string) InitFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	r.Register(Component{Name: "low", Priority: 1, Init: record("low")})
	r.Register(Component{Name: "high", Priority: 10, Init: record("high")})

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if order[0] != "high" {
		t.Fatalf("expected high-priority component first, got %v", order)
	}
}

func TestStartDetectsCycle(t *testing.T) {
	r := New()
	r.Register(Component{Name: "a", Dependencies: []string{"b"}})
	r.Register(Component{Name: "b", Dependencies: []string{"a"}})

	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestOptionalComponentFailureDoesNotAbortStartup(t *testing.T) {
	r := New()
	failing := func(ctx context.Context) error { return errTest }
	var apiStarted bool
	r.Register(Component{Name: "optional", Required: false, Init: failing})
	r.Register(Component{Name: "api", Required: true, Init: func(ctx context.Context) error { apiStarted = true; return nil }})

	results, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("optional failure should not be fatal: %v", err)
	}
	if !apiStarted {
		t.Fatal("expected required component to still start")
	}
	var sawFailure bool
	for _, res := range results {
		if res.Name == "optional" && res.Error != nil {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected optional component's failure to be recorded")
	}
}

func TestRequiredComponentFailureAbortsStartup(t *testing.T) {
	r := New()
	r.Register(Component{Name: "db", Required: true, Init: func(ctx context.Context) error { return errTest }})
	r.Register(Component{Name: "api", Dependencies: []string{"db"}, Required: true})

	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("expected required component failure to abort startup")
	}
}

func TestShutdownRunsInReverseOrder(t *testing.T) {
	r := New()
	var order []string
	r.Register(Component{Name: "db", Init: noop, Shutdown: func(ctx context.Context) error { order = append(order, "db"); return nil }})
	r.Register(Component{Name: "cache", Dependencies: []string{"db"}, Init: noop, Shutdown: func(ctx context.Context) error { order = append(order, "cache"); return nil }})

	if _, err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Shutdown(context.Background(), time.Second)

	if len(order) != 2 || order[0] != "cache" || order[1] != "db" {
		t.Fatalf("expected reverse shutdown order [cache db], got %v", order)
	}
}

func TestHealthReportsDisabledWhenNoProbe(t *testing.T) {
	r := New()
	r.Register(Component{Name: "nohealth", Init: noop})
	r.Start(context.Background())

	reports := r.Health(context.Background())
	if len(reports) != 1 || reports[0].Status != StatusDisabled {
		t.Fatalf("expected disabled status, got %+v", reports)
	}
}

func TestHealthRecordsGaugeForEachComponent(t *testing.T) {
	r := New()
	r.Register(Component{Name: "gauge-test-healthy", Init: noop, Health: func(ctx context.Context) error { return nil }})
	r.Register(Component{Name: "gauge-test-unhealthy", Init: noop, Health: func(ctx context.Context) error { return errTest }})
	r.Start(context.Background())

	r.Health(context.Background())

	healthy := testutil.ToFloat64(componentHealthGauge.WithLabelValues("gauge-test-healthy"))
	if healthy != 1 {
		t.Fatalf("expected healthy gauge=1, got %v", healthy)
	}
	unhealthy := testutil.ToFloat64(componentHealthGauge.WithLabelValues("gauge-test-unhealthy"))
	if unhealthy != 0 {
		t.Fatalf("expected unhealthy gauge=0, got %v", unhealthy)
	}
}

func noop(ctx context.Context) error { return nil }

var errTest = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
