package lifecycle

import (
	"context"
	"time"
)

// Store persists tasks. Implementations assign ids on Create, return
// NotFound(id) for unknown ids and *ConflictError when an expected status
// does not match. A committed write is visible to every later read.
type Store interface {
	Create(ctx context.Context, scheduleTime time.Time, lines string) (Task, error)
	Get(ctx context.Context, id int64) (Task, error)
	// List returns all tasks ordered by id.
	List(ctx context.Context) ([]Task, error)
	Update(ctx context.Context, id int64, p Patch) (Task, error)
	// Delete removes the task. A non-empty expect guards on the current status.
	Delete(ctx context.Context, id int64, expect Status) error
	Close() error
}

// Fetcher performs the upstream disruption call for a normalized line list.
type Fetcher interface {
	Fetch(ctx context.Context, lines string) (string, error)
}

// Trigger arms and cancels one-shot execution triggers keyed by task id.
type Trigger interface {
	// Arm replaces any pending trigger for id with one firing at at.
	Arm(id int64, at time.Time)
	// Cancel drops the pending trigger for id; unknown ids are a no-op.
	Cancel(id int64)
}

type nopTrigger struct{}

func (nopTrigger) Arm(int64, time.Time) {}
func (nopTrigger) Cancel(int64)         {}
