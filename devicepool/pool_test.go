package devicepool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"encore.app/pkg/apperrors"
)

type fakeClient struct {
	calls  *atomic.Int64
	closed *atomic.Bool
}

func (f *fakeClient) Execute(ctx context.Context, command string) ([]byte, error) {
	f.calls.Add(1)
	return []byte("ok:" + command), nil
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeResolver struct {
	active map[string]string
}

func (r *fakeResolver) ActiveDevice(group string) (string, bool) {
	id, ok := r.active[group]
	return id, ok
}

func newTestPool(t *testing.T) (*Pool, *atomic.Int64) {
	t.Helper()
	var dialCount atomic.Int64
	factory := func(ctx context.Context, deviceID string) (Client, error) {
		dialCount.Add(1)
		return &fakeClient{calls: &atomic.Int64{}, closed: &atomic.Bool{}}, nil
	}
	resolver := &fakeResolver{active: map[string]string{"group-a": "device-1"}}
	p := New(factory, resolver, Config{
		Concurrency:    2,
		DefaultRPS:     1000,
		ResponseTTL:    50 * time.Millisecond,
		ResponseCacheN: 100,
	})
	return p, &dialCount
}

func TestExecuteCommandDialsOncePerDevice(t *testing.T) {
	p, dialCount := newTestPool(t)
	defer p.Shutdown()

	for i := 0; i < 5; i++ {
		if _, err := p.ExecuteCommand(context.Background(), "device-1", "show version", ExecuteOptions{}); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if dialCount.Load() != 1 {
		t.Fatalf("expected exactly one dial, got %d", dialCount.Load())
	}
}

func TestExecuteCommandResolvesActiveDeviceForGroup(t *testing.T) {
	p, _ := newTestPool(t)
	defer p.Shutdown()

	out, err := p.ExecuteCommand(context.Background(), "ignored-id", "show version", ExecuteOptions{Group: "group-a"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(out) != "ok:show version" {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExecuteCommandUnknownGroupFails(t *testing.T) {
	p, _ := newTestPool(t)
	defer p.Shutdown()

	if _, err := p.ExecuteCommand(context.Background(), "x", "cmd", ExecuteOptions{Group: "missing"}); err == nil {
		t.Fatal("expected error for unresolvable group")
	}
}

func TestResponseCacheServesWithinTTL(t *testing.T) {
	p, dialCount := newTestPool(t)
	defer p.Shutdown()

	opts := ExecuteOptions{CacheReads: true}
	if _, err := p.ExecuteCommand(context.Background(), "device-2", "show clock", opts); err != nil {
		t.Fatal(err)
	}
	dials := dialCount.Load()

	if _, err := p.ExecuteCommand(context.Background(), "device-2", "show clock", opts); err != nil {
		t.Fatal(err)
	}
	if dialCount.Load() != dials {
		t.Fatal("expected cached response to avoid dialing again")
	}
}

func TestInvalidateDeviceResetsConnectionPool(t *testing.T) {
	p, _ := newTestPool(t)
	defer p.Shutdown()

	if _, err := p.ExecuteCommand(context.Background(), "device-3", "cmd", ExecuteOptions{}); err != nil {
		t.Fatal(err)
	}
	p.InvalidateDevice("device-3")

	p.mu.Lock()
	_, ok := p.devices["device-3"]
	p.mu.Unlock()
	if ok {
		t.Fatal("expected device pool to be removed after invalidation")
	}
}

type failingClient struct{}

func (failingClient) Execute(ctx context.Context, command string) ([]byte, error) {
	return nil, context.DeadlineExceeded
}
func (failingClient) Close() error { return nil }

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	factory := func(ctx context.Context, deviceID string) (Client, error) {
		return failingClient{}, nil
	}
	p := New(factory, nil, Config{Concurrency: 1, DefaultRPS: 1000, ResponseTTL: time.Second, ResponseCacheN: 10})
	defer p.Shutdown()

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = p.ExecuteCommand(context.Background(), "device-flaky", "cmd", ExecuteOptions{})
	}
	if !apperrors.Is(lastErr, apperrors.KindUnavailable) {
		t.Fatalf("expected a circuit-open (unavailable) error once the circuit trips, got %v", lastErr)
	}
}

func TestFingerprintDependsOnDeviceAndCommand(t *testing.T) {
	a := fingerprint("dev-1", "show version")
	b := fingerprint("dev-2", "show version")
	c := fingerprint("dev-1", "show clock")
	if a == b || a == c {
		t.Fatal("expected distinct fingerprints for distinct device/command pairs")
	}
}
