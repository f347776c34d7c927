package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/task/engine"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// Arm replaces any trigger for id with one firing at at. A time in the past
// fires immediately. With the scheduler disabled Arm only drops the old trigger.
func (s *Service) Arm(id int64, at time.Time) {
	enabled := s.Enabled()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	s.disarmLocked(id)
	if !enabled {
		s.log.Debug("scheduler disabled; trigger not armed", logx.Int64("task_id", id))
		return
	}
	s.armLocked(id, at)
}

// armIfAbsent arms id only when it has no trigger, checking and arming
// under one lock so a concurrent Arm is never overwritten.
func (s *Service) armIfAbsent(id int64, at time.Time) bool {
	if !s.Enabled() {
		return false
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.triggers[id]; ok {
		return false
	}
	s.armLocked(id, at)
	return true
}

func (s *Service) armLocked(id int64, at time.Time) {
	s.verSeq++
	ver := s.verSeq
	delay := max(time.Until(at), 0)
	t := &trigger{at: at, ver: ver}
	t.timer = time.AfterFunc(delay, func() { s.fire(id, ver) })
	s.triggers[id] = t
	s.log.Debug("trigger armed", logx.Int64("task_id", id), logx.Time("at", at), logx.Duration("in", delay))
}

// Cancel disarms id. Unknown ids are ignored.
func (s *Service) Cancel(id int64) {
	s.tmu.Lock()
	ok := s.disarmLocked(id)
	s.tmu.Unlock()
	if ok {
		s.log.Debug("trigger canceled", logx.Int64("task_id", id))
	}
}

func (s *Service) disarmLocked(id int64) bool {
	t, ok := s.triggers[id]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.triggers, id)
	return true
}

func (s *Service) disarmAll() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := len(s.triggers)
	for id := range s.triggers {
		s.disarmLocked(id)
	}
	return n
}

// Armed reports whether id has a pending trigger.
func (s *Service) Armed(id int64) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.triggers[id]
	return ok
}

// Pending lists armed triggers ordered by fire time.
func (s *Service) Pending() []Pending {
	s.tmu.Lock()
	out := make([]Pending, 0, len(s.triggers))
	for id, t := range s.triggers {
		out = append(out, Pending{ID: id, At: t.at})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// fire hands id to the engine unless the trigger was replaced or canceled
// after the timer started.
func (s *Service) fire(id int64, ver uint64) {
	s.tmu.Lock()
	t, ok := s.triggers[id]
	if !ok || t.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.triggers, id)
	s.fired++
	s.tmu.Unlock()

	s.submit(id)
}

func (s *Service) submit(id int64) {
	if s.exec == nil || s.run == nil {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()

	run := s.run
	err := s.exec.Submit(ctx, engine.Job{
		Name:    "task.run",
		Key:     jobKey(id),
		Timeout: timeout,
		Run:     func(ctx context.Context) error { return run(ctx, id) },
	})
	if err != nil {
		s.reportEnqueueError(id, err)
	}
}

func jobKey(id int64) string { return fmt.Sprintf("task:%d", id) }

// Reconcile arms every scheduled task that has no trigger. It returns the
// number of tasks armed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if !s.Enabled() || s.store == nil {
		return 0, nil
	}
	tasks, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if t.Status == lifecycle.StatusScheduled && s.armIfAbsent(t.ID, t.ScheduleTime) {
			n++
		}
	}

	s.tmu.Lock()
	s.reconciled++
	s.lastReconcile = time.Now()
	s.tmu.Unlock()

	if n > 0 {
		s.log.Info("reconcile armed missing triggers", logx.Int("armed", n))
		s.publish("scheduler.reconciled", map[string]int{"armed": n})
	}
	return n, nil
}

func isExpectedSkip(err error) bool {
	return errors.Is(err, engine.ErrDuplicate) || errors.Is(err, context.Canceled)
}
