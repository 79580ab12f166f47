package invalidation

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedItem is a pending invalidation scheduled to fire at readyAt. kind
// is one of "key", "pattern" or "tag"; target holds the corresponding
// value — exactly one kind is ever set per item.
type delayedItem struct {
	kind    string
	target  string
	readyAt time.Time
	index   int
}

// delayedHeap is a min-heap ordered by readyAt, giving O(log n) insert and
// O(log n) pop-earliest instead of the O(n) scan a slice would need on
// every tick.
type delayedHeap []*delayedItem

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].readyAt.Before(h[j].readyAt) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *delayedHeap) Push(x interface{}) {
	item := x.(*delayedItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// DelayedQueue buffers invalidations that should apply only after a grace
// period, e.g. to let in-flight reads that observed the old value settle
// before the key disappears. At capacity, the oldest (earliest-scheduled)
// 20% of entries are dropped to make room rather than rejecting new
// arrivals outright or growing unbounded — an explicit, observable
// overflow policy rather than the teacher's synchronous invalidate path,
// which has no queue to overflow at all.
type DelayedQueue struct {
	mu       sync.Mutex
	items    delayedHeap
	capacity int
	dropped  int
}

// NewDelayedQueue creates a queue bounded at capacity entries.
func NewDelayedQueue(capacity int) *DelayedQueue {
	q := &DelayedQueue{capacity: capacity}
	heap.Init(&q.items)
	return q
}

// Schedule enqueues a key, pattern or tag invalidation (whichever of the
// three is non-empty) to apply after delay.
func (q *DelayedQueue) Schedule(key, pattern, tag string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.dropOldestLocked()
	}
	item := &delayedItem{readyAt: time.Now().Add(delay)}
	switch {
	case key != "":
		item.kind, item.target = "key", key
	case pattern != "":
		item.kind, item.target = "pattern", pattern
	case tag != "":
		item.kind, item.target = "tag", tag
	}
	heap.Push(&q.items, item)
}

// dropOldestLocked removes the earliest-scheduled 20% of entries (at least
// one), counting the total so operators can see overflow pressure via
// DroppedCount rather than have it happen silently.
func (q *DelayedQueue) dropOldestLocked() {
	n := len(q.items) / 5
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && len(q.items) > 0; i++ {
		heap.Pop(&q.items)
		q.dropped++
	}
}

// DroppedCount reports how many entries have been evicted by overflow.
func (q *DelayedQueue) DroppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len reports the number of pending entries.
func (q *DelayedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready pops every item whose readyAt has passed.
func (q *DelayedQueue) Ready(now time.Time) []*delayedItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*delayedItem
	for len(q.items) > 0 && !q.items[0].readyAt.After(now) {
		ready = append(ready, heap.Pop(&q.items).(*delayedItem))
	}
	return ready
}

// runDelayedWorker polls the delayed queue and applies whatever has come
// due. Ready items are grouped by kind and deduplicated within each group
// before apply is invoked, so a burst of repeated schedules for the same
// key/pattern/tag executes once per tick rather than once per schedule
// call. Run as a background goroutine from Service initialization, the
// same shape as the cache manager's runTTLCleanup ticker loop.
func (s *Service) runDelayedWorker(ctx context.Context, interval time.Duration, apply func(kind string, targets []string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready := s.delayed().Ready(time.Now())
			if len(ready) == 0 {
				continue
			}
			grouped := make(map[string][]string)
			seen := make(map[string]map[string]bool)
			for _, item := range ready {
				if seen[item.kind] == nil {
					seen[item.kind] = make(map[string]bool)
				}
				if seen[item.kind][item.target] {
					continue
				}
				seen[item.kind][item.target] = true
				grouped[item.kind] = append(grouped[item.kind], item.target)
			}
			for kind, targets := range grouped {
				apply(kind, targets)
			}
		}
	}
}

func (s *Service) delayed() *DelayedQueue {
	s.delayedOnce.Do(func() {
		if s.delayedQueue == nil {
			s.delayedQueue = NewDelayedQueue(s.delayedCapacity())
		}
	})
	return s.delayedQueue
}

func (s *Service) delayedCapacity() int {
	if s.config.DelayedQueueCapacity > 0 {
		return s.config.DelayedQueueCapacity
	}
	return 10000
}
