package lifecycle

import (
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// ValidTransition reports whether from -> to is an edge of the state machine.
// Staying in scheduled is allowed (reschedule).
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusScheduled:
		return to == StatusScheduled || to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Task is the persisted unit of work.
type Task struct {
	ID           int64     `json:"id"`
	ScheduleTime time.Time `json:"schedule_time"`
	Lines        string    `json:"lines"`
	Status       Status    `json:"status"`
	Result       *string   `json:"result"`
}

// Patch describes a store update. Nil fields are left unchanged.
//
// When Expect is set, the update only applies while the stored status equals
// Expect; otherwise the store returns a *ConflictError and writes nothing.
type Patch struct {
	ScheduleTime *time.Time
	Lines        *string
	Status       *Status
	Result       *string
	Expect       Status
}

// Apply returns t with p applied, enforcing Expect and the state machine.
// Stores that do read-modify-write (memory, redis) share this logic.
func (p Patch) Apply(t Task) (Task, error) {
	if p.Expect != "" && t.Status != p.Expect {
		return t, Conflict(t.ID, t.Status)
	}
	if p.Status != nil && *p.Status != t.Status && !ValidTransition(t.Status, *p.Status) {
		return t, Conflict(t.ID, t.Status)
	}
	if p.ScheduleTime != nil {
		t.ScheduleTime = p.ScheduleTime.UTC().Truncate(time.Second)
	}
	if p.Lines != nil {
		t.Lines = *p.Lines
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Result != nil {
		r := *p.Result
		t.Result = &r
	}
	return t, nil
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.Result != nil {
		r := *t.Result
		t.Result = &r
	}
	return t
}

func ptr[T any](v T) *T { return &v }
