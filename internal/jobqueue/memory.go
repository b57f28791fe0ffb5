package jobqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/pkg/telemetry/correlation"
)

type memoryEntry struct {
	job        Job
	inflight   bool
	leaseUntil time.Time
}

// MemoryQueue is a single-process Queue with the same claim and lease rules as
// RedisQueue. Jobs are lost on restart.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[Handle]*memoryEntry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[Handle]*memoryEntry)}
}

func (q *MemoryQueue) Schedule(ctx context.Context, runAt time.Time, orderID snowflake.ID) (Handle, error) {
	if orderID == 0 {
		return "", ErrInvalidOrder
	}
	handle := NewHandle()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[handle] = &memoryEntry{job: Job{
		Handle:  handle,
		OrderID: orderID,
		RunAt:   runAt.UTC(),
		Carrier: correlation.Carrier(ctx),
	}}
	return handle, nil
}

func (q *MemoryQueue) Revoke(_ context.Context, handle Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.jobs[handle]; ok && !entry.inflight {
		delete(q.jobs, handle)
	}
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]*memoryEntry, 0)
	for _, entry := range q.jobs {
		if !entry.inflight && !entry.job.RunAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].job.RunAt.Equal(due[j].job.RunAt) {
			return due[i].job.Handle < due[j].job.Handle
		}
		return due[i].job.RunAt.Before(due[j].job.RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]Job, 0, len(due))
	for _, entry := range due {
		entry.inflight = true
		entry.leaseUntil = now.Add(lease)
		entry.job.Attempts++
		jobs = append(jobs, entry.job)
	}
	return jobs, nil
}

func (q *MemoryQueue) Ack(_ context.Context, handle Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, handle)
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, handle Handle, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.jobs[handle]; ok && entry.inflight {
		entry.inflight = false
		entry.job.RunAt = retryAt.UTC()
	}
	return nil
}

func (q *MemoryQueue) RecoverExpired(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for _, entry := range q.jobs {
		if entry.inflight && !entry.leaseUntil.After(now) {
			entry.inflight = false
			entry.job.RunAt = now
			recovered++
		}
	}
	return recovered, nil
}

func (q *MemoryQueue) Exists(_ context.Context, handle Handle) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[handle]
	return ok, nil
}

// Pending returns the jobs not yet claimed, ordered by run time.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, 0, len(q.jobs))
	for _, entry := range q.jobs {
		if !entry.inflight {
			out = append(out, entry.job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
