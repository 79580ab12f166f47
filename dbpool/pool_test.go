package dbpool

import (
	"testing"
	"time"
)

func newTestPool(name string, weight int, healthy bool) *Pool {
	p := newPool(Descriptor{Name: name, Weight: weight}, nil, time.Second)
	p.healthy.Store(healthy)
	return p
}

func TestRouteWritesAlwaysGoToPrimary(t *testing.T) {
	primary := newTestPool("primary", 0, true)
	replica := newTestPool("replica", 10, true)
	m := &Manager{primary: primary, replicas: []*Pool{replica}}

	got := m.route(QueryOptions{Operation: "write", UseReplica: true})
	if got != primary {
		t.Fatalf("expected primary for write, got %s", got.name)
	}
}

func TestRouteFallsBackToPrimaryWhenNoHealthyReplica(t *testing.T) {
	primary := newTestPool("primary", 0, true)
	replica := newTestPool("replica", 10, false)
	m := &Manager{primary: primary, replicas: []*Pool{replica}}

	got := m.route(QueryOptions{Operation: "read", UseReplica: true})
	if got != primary {
		t.Fatalf("expected primary fallback, got %s", got.name)
	}
}

func TestRoutePicksHealthyReplicaForRead(t *testing.T) {
	primary := newTestPool("primary", 0, true)
	replica := newTestPool("replica", 10, true)
	m := &Manager{primary: primary, replicas: []*Pool{replica}}

	got := m.route(QueryOptions{Operation: "read", UseReplica: true})
	if got != replica {
		t.Fatalf("expected replica for healthy read, got %s", got.name)
	}
}

func TestRouteReadWithoutUseReplicaStaysOnPrimary(t *testing.T) {
	primary := newTestPool("primary", 0, true)
	replica := newTestPool("replica", 10, true)
	m := &Manager{primary: primary, replicas: []*Pool{replica}}

	got := m.route(QueryOptions{Operation: "read", UseReplica: false})
	if got != primary {
		t.Fatalf("expected primary when UseReplica is false, got %s", got.name)
	}
}
