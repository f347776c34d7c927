package lifecycle

import "time"

// Event types published on the event bus.
const (
	EventScheduled = "task.scheduled"
	EventUpdated   = "task.updated"
	EventDeleted   = "task.deleted"
	EventRunning   = "task.running"
	EventCompleted = "task.completed"
	EventFailed    = "task.failed"
)

// TaskEvent is the payload of every task.* event.
type TaskEvent struct {
	ID           int64     `json:"id"`
	Status       Status    `json:"status"`
	Lines        string    `json:"lines"`
	ScheduleTime time.Time `json:"schedule_time"`
	Result       string    `json:"result,omitempty"`
}

func eventOf(t Task) TaskEvent {
	ev := TaskEvent{ID: t.ID, Status: t.Status, Lines: t.Lines, ScheduleTime: t.ScheduleTime}
	if t.Result != nil {
		ev.Result = *t.Result
	}
	return ev
}
