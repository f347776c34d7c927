package notifier

import (
	"context"
	"fmt"
	"sync"

	rtsup "github.com/SaadAmer/TFL-line-status/internal/runtime/supervisor"
)

// pipeline is one Start..Stop cycle: the queue, its workers and the bus
// subscription feeding it. closing and stopped are guarded by Service.mu.
type pipeline struct {
	queue chan Notification
	sup   *rtsup.Supervisor
	unsub func()

	// intake counts Notify calls that passed the closing check.
	intake  sync.WaitGroup
	closing bool
	stopped chan struct{}
}

// Start subscribes to task events and starts the workers. It is idempotent
// and a no-op while disabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	for s.cur != nil && s.cur.stopped != nil {
		stopped := s.cur.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return nil
	}
	if s.sender == nil {
		snd, err := s.factory(s.cfg)
		if err != nil {
			return fmt.Errorf("notifier sender: %w", err)
		}
		s.sender, s.senderToken = snd, s.cfg.Token
	}

	p := &pipeline{
		queue: make(chan Notification, s.cfg.QueueSize),
		// Alerts are best-effort; a failing chat must not stop the service.
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(s.cfg.QueueSize, "task.")
		p.unsub = unsub
		p.sup.GoRestart("forward", func(c context.Context) error {
			s.forwardLoop(c, ch)
			return nil
		})
	}
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, p.queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	s.cur = p
	return nil
}

// Stop stops intake and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.cur
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := p.stopped == nil
	if first {
		p.stopped = make(chan struct{})
	}
	stopped := p.stopped
	s.mu.Unlock()

	if first {
		go s.drain(p)
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// drain closes intake, lets the workers empty the queue and releases p.
func (s *Service) drain(p *pipeline) {
	defer close(p.stopped)
	// Ending the subscription lets the forward loop finish its last
	// Notify before intake closes.
	if p.unsub != nil {
		p.unsub()
	}
	s.mu.Lock()
	p.closing = true
	s.mu.Unlock()
	p.intake.Wait()
	close(p.queue)
	_ = p.sup.Wait(context.Background())

	s.mu.Lock()
	if s.cur == p {
		s.cur = nil
	}
	s.mu.Unlock()
}
