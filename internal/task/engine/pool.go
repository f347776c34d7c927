package engine

import (
	"context"
	"errors"
	"fmt"

	rtsup "github.com/SaadAmer/TFL-line-status/internal/runtime/supervisor"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// pool is one started generation of workers and the queue they drain.
type pool struct {
	queue chan queuedJob
	sup   *rtsup.Supervisor
	// quit is closed by Stop; drained once every worker has returned.
	quit    chan struct{}
	drained chan struct{}
}

func (p *pool) stopping() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// Start launches the workers. It is a no-op when disabled or already
// running, and waits for a pool that is still stopping.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.cur != nil && s.cur.stopping() {
		drained := s.cur.drained
		s.mu.Unlock()
		select {
		case <-drained:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.cur != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	p := &pool{
		queue:   make(chan queuedJob, cfg.QueueSize),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
		sup: rtsup.New(context.WithoutCancel(ctx),
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.cur = p
	s.mu.Unlock()

	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, p)
			switch {
			case p.stopping():
				return context.Canceled
			case c.Err() != nil:
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("job engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop ends the current pool and waits for its workers until ctx ends.
// Jobs still queued are discarded.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.cur
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.stopping()
	if first {
		close(p.quit)
	}
	s.mu.Unlock()

	if first {
		p.sup.Cancel()
		go s.reap(p)
	}
	select {
	case <-p.drained:
		if first {
			s.log.Info("job engine stopped")
		}
	case <-ctx.Done():
		s.log.Warn("job engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) reap(p *pool) {
	_ = p.sup.Wait(context.Background())
	s.mu.Lock()
	if s.cur == p {
		s.cur = nil
	}
	s.mu.Unlock()
	s.keyMu.Lock()
	clear(s.pending)
	s.keyMu.Unlock()
	close(p.drained)
}
