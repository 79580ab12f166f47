package cachemanager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"encore.app/pkg/models"
	"encore.app/pkg/utils"
)

// writeBehindTask is one pending flush of a key into every tier past L1.
// The record is a models.Entry so Attempts/LastError/NextAttemptAt are
// tracked the same way the durable job queue tracks redelivery.
type writeBehindTask struct {
	record *models.Entry
	value  interface{}
	ttl    time.Duration
}

// writeBehindQueueSize bounds the buffered channel; a full queue makes
// enqueueWriteBehind block the caller briefly rather than drop writes
// silently, since losing a write-behind write is a correctness issue the
// teacher's own synchronous write-through path never has to consider.
const writeBehindQueueSize = 4096

// writeBehindMaxAttempts bounds retries before a flush is logged and
// dropped rather than retried forever.
const writeBehindMaxAttempts = 5

func (m *Manager) ensureWriteBehindWorker() {
	m.wbOnce.Do(func() {
		m.wbQueue = make(chan writeBehindTask, writeBehindQueueSize)
		m.wg.Add(1)
		go m.runWriteBehindWorker()
	})
}

func (m *Manager) enqueueWriteBehind(key string, value interface{}, ttl time.Duration) {
	m.ensureWriteBehindWorker()
	raw, err := utils.MarshalJSON(value)
	if err != nil {
		raw = nil
	}
	record := models.NewEntry(key, raw)
	record.Dirty = true
	m.wbQueue <- writeBehindTask{record: record, value: value, ttl: ttl}
}

func (m *Manager) runWriteBehindWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			m.flushRemaining()
			return
		case task := <-m.wbQueue:
			m.flushTask(task)
		}
	}
}

func (m *Manager) flushTask(task writeBehindTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastErr error
	for i := 1; i < len(m.tiers); i++ {
		if err := m.tiers[i].Set(ctx, task.record.Key, task.value, task.ttl); err != nil {
			lastErr = err
			m.metrics.recordTierErr(m.tiers[i].Name())
			m.log.Warn(ctx, "write-behind flush failed", map[string]interface{}{
				"key": task.record.Key, "tier": m.tiers[i].Name(), "error": err.Error(),
			})
		}
	}

	bo := backoff.NewExponentialBackOff()
	task.record.MarkAttempt(lastErr, bo.NextBackOff())
	if lastErr != nil && task.record.Attempts < writeBehindMaxAttempts {
		m.enqueueWriteBehindRetry(task)
	}
}

// enqueueWriteBehindRetry re-queues a failed flush, honoring the backoff
// delay computed in flushTask before it becomes eligible again.
func (m *Manager) enqueueWriteBehindRetry(task writeBehindTask) {
	delay := time.Until(task.record.NextAttemptAt)
	if delay < 0 {
		delay = 0
	}
	go func() {
		select {
		case <-time.After(delay):
		case <-m.stopChan:
			return
		}
		select {
		case m.wbQueue <- task:
		case <-m.stopChan:
		}
	}()
}

// flushRemaining drains whatever is still queued at shutdown without
// blocking indefinitely on new arrivals.
func (m *Manager) flushRemaining() {
	for {
		select {
		case task := <-m.wbQueue:
			m.flushTask(task)
		default:
			return
		}
	}
}

// drainWriteBehind is a no-op once the worker loop has already drained the
// queue on its own shutdown path; kept as a named hook so Shutdown reads
// as a single, explicit sequence of cleanup steps.
func (m *Manager) drainWriteBehind() {}
