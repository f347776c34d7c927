package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

func (s *Service) worker(ctx context.Context, p *pool) {
	// A closed quit wins over queued work.
	for !p.stopping() && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-p.quit:
		case qj := <-p.queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qj)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qj queuedJob) {
	j := qj.job
	defer s.releaseKey(j.Key)

	start := time.Now()
	queueDelay := max(start.Sub(qj.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStale(start, j, queueDelay)
		s.record(HistoryItem{ID: j.ID, Name: j.Name, Key: j.Key, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	log := s.log.With(logx.String("job", j.Name), logx.String("id", j.ID))
	log.Debug("job.started", logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, JobEvent{ID: j.ID, Name: j.Name, Key: j.Key, Started: start, QueueDelay: queueDelay})

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if qj.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, qj.timeout)
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("job.panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		return j.Run(runCtx)
	}()
	cancel()

	dur := time.Since(start)
	s.executed.Add(1)
	item := HistoryItem{ID: j.ID, Name: j.Name, Key: j.Key, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := JobEvent{ID: j.ID, Name: j.Name, Key: j.Key, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		log.Warn("job.failed", logx.Err(err), logx.Duration("dur", dur))
		s.publish(EventFailed, ev)
	} else {
		if dur >= 750*time.Millisecond {
			log.Info("job.finished", logx.Duration("dur", dur))
		} else {
			log.Debug("job.finished", logx.Duration("dur", dur))
		}
		s.publish(EventFinished, ev)
	}
	s.record(item, cfg.HistorySize)
}
