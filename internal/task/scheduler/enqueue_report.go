package scheduler

import (
	"time"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed submit. The task stays scheduled, so the
// next reconcile re-arms it.
func (s *Service) reportEnqueueError(id int64, err error) {
	if isExpectedSkip(err) {
		s.log.Debug("trigger submit skipped", logx.Int64("task_id", id), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	for k, v := range s.lastEnqWarn {
		if now.Sub(v) > time.Minute {
			delete(s.lastEnqWarn, k)
		}
	}
	s.enqMu.Unlock()

	s.log.Warn("trigger failed to submit task", logx.Int64("task_id", id), logx.Err(err))
}
