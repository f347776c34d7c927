package engine

import "errors"

var (
	ErrDisabled  = errors.New("job engine disabled")
	ErrStopped   = errors.New("job engine stopped")
	ErrStopping  = errors.New("job engine stopping")
	ErrQueueFull = errors.New("job engine queue full")
	// ErrDuplicate is returned when a job with the same Key is already queued
	// or running.
	ErrDuplicate = errors.New("job already pending")
)
