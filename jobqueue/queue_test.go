package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEnqueueDequeueRespectsBandPriority(t *testing.T) {
	q := New(Config{})
	ctx := context.Background()

	q.Enqueue(ctx, BandBulk, []byte("bulk"))
	q.Enqueue(ctx, BandHigh, []byte("high"))
	q.Enqueue(ctx, BandNormal, []byte("normal"))

	job, ok := q.dequeue()
	if !ok || job.Band != BandHigh {
		t.Fatalf("expected high band first, got %+v", job)
	}
	job, ok = q.dequeue()
	if !ok || job.Band != BandNormal {
		t.Fatalf("expected normal band second, got %+v", job)
	}
	job, ok = q.dequeue()
	if !ok || job.Band != BandBulk {
		t.Fatalf("expected bulk band third, got %+v", job)
	}
}

func TestEnqueueRejectsUnknownBand(t *testing.T) {
	q := New(Config{})
	if _, err := q.Enqueue(context.Background(), Band("urgent"), nil); err == nil {
		t.Fatal("expected error for unknown band")
	}
}

func TestDispatchRetriesThenDeadLettersAfterMaxAttempts(t *testing.T) {
	var deadLettered int32
	q := New(Config{MaxAttempts: 2, OnDeadLetter: func(job *Job) {
		atomic.AddInt32(&deadLettered, 1)
	}})
	q.RegisterHandler("always-fail", func(ctx context.Context, job *Job) error {
		return errors.New("boom")
	})

	job, _ := q.Enqueue(context.Background(), BandNormal, nil)
	q.dispatch(context.Background(), "always-fail", job)
	if job.Status != StatusPending {
		t.Fatalf("expected job requeued as pending after first failure, got %s", job.Status)
	}

	// The requeued job carries a future NextAttempt from backoff, so pull
	// it directly rather than via dequeue (which honors that delay).
	q.mu.Lock()
	elem := q.bands[BandNormal].Front()
	job2 := elem.Value.(*Job)
	q.bands[BandNormal].Remove(elem)
	delete(q.byID, job2.ID)
	q.mu.Unlock()

	q.dispatch(context.Background(), "always-fail", job2)
	if job2.Status != StatusFailed {
		t.Fatalf("expected terminal failed status after max attempts, got %s", job2.Status)
	}
	if atomic.LoadInt32(&deadLettered) != 1 {
		t.Fatalf("expected dead-letter callback invoked once, got %d", deadLettered)
	}
}

func TestDispatchSucceedsAndRemovesJob(t *testing.T) {
	q := New(Config{})
	q.RegisterHandler("ok", func(ctx context.Context, job *Job) error { return nil })

	job, _ := q.Enqueue(context.Background(), BandHigh, nil)
	q.dispatch(context.Background(), "ok", job)
	if job.Status != StatusDone {
		t.Fatalf("expected done status, got %s", job.Status)
	}
}

func TestResumeRequeuesRunningJobsAsPending(t *testing.T) {
	store := newMemStore()
	store.jobs["j1"] = &Job{ID: "j1", Band: BandHigh, Status: StatusRunning, MaxAttempts: 3}

	q := New(Config{Store: store})
	if err := q.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	job, ok := q.dequeue()
	if !ok {
		t.Fatal("expected resumed job to be queued")
	}
	if job.Status != StatusPending {
		t.Fatalf("expected resumed job marked pending, got %s", job.Status)
	}
}

func TestDepthReflectsQueuedJobsPerBand(t *testing.T) {
	q := New(Config{})
	ctx := context.Background()
	q.Enqueue(ctx, BandLow, nil)
	q.Enqueue(ctx, BandLow, nil)
	q.Enqueue(ctx, BandHigh, nil)

	depth := q.Depth()
	if depth[BandLow] != 2 || depth[BandHigh] != 1 {
		t.Fatalf("unexpected depth: %+v", depth)
	}
}

func TestNextBackoffIsMonotonicNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := nextBackoff(attempt)
		if d < prev {
			t.Fatalf("expected non-decreasing backoff, attempt %d got %v after %v", attempt, d, prev)
		}
		prev = d
	}
}
