package lifecycle

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrConflict = errors.New("task is not modifiable")
)

// ValidationError reports rejected client input. It never reaches the store.
type ValidationError struct {
	Field   string
	Invalid []string
	Msg     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// ConflictError is returned when a mutation targets a task outside the
// required status. It matches ErrConflict with errors.Is.
type ConflictError struct {
	ID     int64
	Status Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %d is %s; only scheduled tasks can be modified", e.ID, e.Status)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func Conflict(id int64, st Status) error { return &ConflictError{ID: id, Status: st} }

func NotFound(id int64) error { return fmt.Errorf("task %d: %w", id, ErrNotFound) }

// ErrorKind names the class of an execution failure, the prefix of a failed
// task's result.
func ErrorKind(err error) string {
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		if s := k.Kind(); s != "" {
			return s
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return "UpstreamError"
}

// FailureResult renders err as "<kind>: <message>".
func FailureResult(err error) string {
	if err == nil {
		return ""
	}
	return ErrorKind(err) + ": " + err.Error()
}
