package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/subhub/internal/jobqueue"
)

// RecordingScheduler is a MemoryQueue that records Schedule and Revoke calls
// and can be told to fail scheduling.
type RecordingScheduler struct {
	*jobqueue.MemoryQueue

	mu           sync.Mutex
	Scheduled    []jobqueue.Job
	Revoked      []jobqueue.Handle
	FailSchedule error
}

func NewRecordingScheduler() *RecordingScheduler {
	return &RecordingScheduler{MemoryQueue: jobqueue.NewMemoryQueue()}
}

func (r *RecordingScheduler) Schedule(ctx context.Context, runAt time.Time, orderID snowflake.ID) (jobqueue.Handle, error) {
	r.mu.Lock()
	fail := r.FailSchedule
	r.mu.Unlock()
	if fail != nil {
		return "", fail
	}

	handle, err := r.MemoryQueue.Schedule(ctx, runAt, orderID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.Scheduled = append(r.Scheduled, jobqueue.Job{Handle: handle, OrderID: orderID, RunAt: runAt.UTC()})
	r.mu.Unlock()
	return handle, nil
}

func (r *RecordingScheduler) Revoke(ctx context.Context, handle jobqueue.Handle) error {
	r.mu.Lock()
	r.Revoked = append(r.Revoked, handle)
	r.mu.Unlock()
	return r.MemoryQueue.Revoke(ctx, handle)
}

func (r *RecordingScheduler) ScheduledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Scheduled)
}

func (r *RecordingScheduler) SetFailSchedule(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailSchedule = err
}
