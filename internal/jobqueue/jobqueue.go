// Package jobqueue schedules one delayed billing job per order cycle.
//
// Delivery is at least once: a claimed job whose lease expires before Ack is
// handed out again by RecoverExpired. A handle is claimed by one worker at a
// time.
package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

// Handle identifies one scheduled job.
type Handle string

func (h Handle) String() string { return string(h) }

// NewHandle returns a lexically sortable job handle.
func NewHandle() Handle {
	return Handle(ulid.Make().String())
}

type Job struct {
	Handle   Handle
	OrderID  snowflake.ID
	RunAt    time.Time
	Attempts int
	// Carrier holds correlation and trace fields of the scheduling request.
	Carrier map[string]string
}

// Scheduler is what the billing engine needs: arm a job and best-effort revoke it.
type Scheduler interface {
	Schedule(ctx context.Context, runAt time.Time, orderID snowflake.ID) (Handle, error)
	// Revoke drops a job that has not been claimed yet. Revoking a claimed,
	// acked or unknown handle is a no-op.
	Revoke(ctx context.Context, handle Handle) error
}

// Queue is the worker side used by the scheduler loop.
type Queue interface {
	Scheduler
	Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	Ack(ctx context.Context, handle Handle) error
	Release(ctx context.Context, handle Handle, retryAt time.Time) error
	RecoverExpired(ctx context.Context, now time.Time) (int, error)
	Exists(ctx context.Context, handle Handle) (bool, error)
}

var (
	ErrInvalidOrder = errors.New("jobqueue: invalid order id")
	ErrInvalidLimit = errors.New("jobqueue: invalid claim limit")
)
