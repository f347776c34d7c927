package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// interruptedResult is recorded for tasks found running at startup.
const interruptedResult = "Interrupted: process stopped before the upstream call finished"

// ServiceConfig controls input interpretation.
type ServiceConfig struct {
	// Location is used for schedule times given without an offset.
	Location *time.Location
	// Now overrides the clock (tests).
	Now func() time.Time
}

// CreateRequest is the raw client input for a new task.
type CreateRequest struct {
	Lines         string
	ScheduleTime  string
	SchedulerTime string // legacy alias of ScheduleTime
}

// UpdateRequest is the raw client input for a reschedule. Nil/empty fields
// are left unchanged.
type UpdateRequest struct {
	Lines         *string
	ScheduleTime  string
	SchedulerTime string
}

// Service implements the task operations exposed to API callers. Every
// operation goes through the injected Store; nothing is cached in memory.
type Service struct {
	store   Store
	trigger Trigger
	cfg     ServiceConfig
	log     logx.Logger
	bus     eventbus.Bus
}

func NewService(store Store, trigger Trigger, cfg ServiceConfig, log logx.Logger, bus eventbus.Bus) *Service {
	if trigger == nil {
		trigger = nopTrigger{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, trigger: trigger, cfg: cfg, log: log, bus: bus}
}

// Create validates req, persists a scheduled task and arms its trigger.
// Without a schedule time the task is due immediately.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Task, error) {
	lines, err := NormalizeLines(req.Lines)
	if err != nil {
		return Task{}, err
	}
	at, err := NormalizeScheduleTime(req.ScheduleTime, req.SchedulerTime, s.cfg.Location)
	if err != nil {
		return Task{}, err
	}
	when := s.cfg.Now().UTC().Truncate(time.Second)
	if at != nil {
		when = *at
	}

	t, err := s.store.Create(ctx, when, lines)
	if err != nil {
		return Task{}, err
	}
	s.trigger.Arm(t.ID, t.ScheduleTime)

	s.log.Info("task scheduled", logx.Int64("task_id", t.ID), logx.String("lines", t.Lines), logx.Time("schedule_time", t.ScheduleTime))
	s.publish(EventScheduled, t)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Task, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Task, error) {
	return s.store.List(ctx)
}

// Update changes lines and/or schedule time of a scheduled task and re-arms
// its trigger. A request that changes nothing still re-arms.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (Task, error) {
	var p Patch
	if req.Lines != nil {
		lines, err := NormalizeLines(*req.Lines)
		if err != nil {
			return Task{}, err
		}
		p.Lines = &lines
	}
	at, err := NormalizeScheduleTime(req.ScheduleTime, req.SchedulerTime, s.cfg.Location)
	if err != nil {
		return Task{}, err
	}
	p.ScheduleTime = at
	p.Expect = StatusScheduled

	t, err := s.store.Update(ctx, id, p)
	if err != nil {
		return Task{}, err
	}
	s.trigger.Arm(t.ID, t.ScheduleTime)

	s.log.Info("task rescheduled", logx.Int64("task_id", t.ID), logx.String("lines", t.Lines), logx.Time("schedule_time", t.ScheduleTime))
	s.publish(EventUpdated, t)
	return t, nil
}

// Delete removes a scheduled task and cancels its pending trigger.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id, StatusScheduled); err != nil {
		return err
	}
	s.trigger.Cancel(id)

	s.log.Info("task deleted", logx.Int64("task_id", id))
	s.publish(EventDeleted, Task{ID: id})
	return nil
}

// RecoverStats summarizes a Recover pass.
type RecoverStats struct {
	Armed       int
	Interrupted int
}

// Recover restores triggers after a restart. Tasks left running by a previous
// process are failed, scheduled tasks are re-armed (past-due ones fire at once).
func (s *Service) Recover(ctx context.Context) (RecoverStats, error) {
	var st RecoverStats
	tasks, err := s.store.List(ctx)
	if err != nil {
		return st, err
	}
	for _, t := range tasks {
		switch t.Status {
		case StatusScheduled:
			s.trigger.Arm(t.ID, t.ScheduleTime)
			st.Armed++
		case StatusRunning:
			failed := StatusFailed
			res := interruptedResult
			nt, err := s.store.Update(ctx, t.ID, Patch{Status: &failed, Result: &res, Expect: StatusRunning})
			if err != nil {
				if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
					continue
				}
				return st, err
			}
			st.Interrupted++
			s.log.Warn("task interrupted by restart", logx.Int64("task_id", t.ID))
			s.publish(EventFailed, nt)
		}
	}
	return st, nil
}

func (s *Service) publish(typ string, t Task) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.cfg.Now(), Data: eventOf(t)})
}
