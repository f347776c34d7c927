package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSender  = errors.New("notifier has no sender")
)

const historyCap = 100

// Service implements an async notification pipeline:
// bus subscription + queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	bus     eventbus.Bus
	factory SenderFactory

	cfg         Config
	events      map[string]bool
	sender      Sender
	senderToken string
	limiter     *rate.Limiter

	cur *pipeline

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	sent    atomic.Uint64
	failed  atomic.Uint64
	deduped atomic.Uint64
}

// New builds a stopped service. A nil factory means TelegramFactory.
func New(cfg Config, factory SenderFactory, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if factory == nil {
		factory = TelegramFactory
	}
	s := &Service{log: log, bus: bus, factory: factory, dedup: map[string]time.Time{}}
	s.cfg, s.events, s.limiter = normalize(cfg)
	return s
}

func normalize(cfg Config) (Config, map[string]bool, *rate.Limiter) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Minute
	}
	if cfg.MaxResultChars <= 0 {
		cfg.MaxResultChars = 300
	}

	events := map[string]bool{}
	for _, e := range cfg.Events {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, "task.") {
			e = "task." + e
		}
		events[e] = true
	}
	if len(events) == 0 {
		events[lifecycle.EventCompleted] = true
		events[lifecycle.EventFailed] = true
	}

	burst := max(1, int(cfg.RatePerSec))
	return cfg, events, rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. The sender is rebuilt only when the token changes;
// a factory error keeps the previous sender. Queue and worker sizes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) error {
	ncfg, events, lim := normalize(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg, s.events, s.limiter = ncfg, events, lim
	if !ncfg.Enabled || (s.sender != nil && s.senderToken == ncfg.Token) {
		return nil
	}
	snd, err := s.factory(ncfg)
	if err != nil {
		return fmt.Errorf("notifier sender: %w", err)
	}
	s.sender, s.senderToken = snd, ncfg.Token
	return nil
}

// Notify queues n. Duplicates of a Key within the dedup window are dropped
// silently.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	p, window := s.cur, s.cfg.DedupWindow
	var err error
	switch {
	case !s.cfg.Enabled:
		err = ErrDisabled
	case p == nil || p.closing:
		err = ErrStopped
	default:
		p.intake.Add(1)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	defer p.intake.Done()

	if n.Key != "" && !s.dedupAllow(n.Key, window) {
		s.deduped.Add(1)
		s.publish("notifier.deduped", n, nil)
		return nil
	}

	select {
	case p.queue <- n:
		s.publish("notifier.queued", n, nil)
		return nil
	default:
		s.publish("notifier.dropped", n, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) forwardLoop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n, ok := s.fromEvent(ev)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, n); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("notification not queued", logx.String("key", n.Key), logx.Err(err))
			}
		}
	}
}

func (s *Service) fromEvent(ev eventbus.Event) (Notification, bool) {
	te, ok := ev.Data.(lifecycle.TaskEvent)
	if !ok {
		return Notification{}, false
	}
	s.mu.Lock()
	want := s.events[ev.Type]
	cfg := s.cfg
	s.mu.Unlock()
	if !want {
		return Notification{}, false
	}
	return Notification{
		Key:    fmt.Sprintf("%s:%d", ev.Type, te.ID),
		Target: Target{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID},
		Text:   FormatTaskEvent(te, cfg.MaxResultChars),
	}, true
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg, lim, snd := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if snd == nil || n.Text == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := snd.Send(callCtx, n.Target, n.Text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(n.Text)
			s.publish("notifier.sent", n, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.failed.Add(1)
	s.log.Warn("notification failed", logx.String("key", n.Key), logx.Err(lastErr))
	s.publish("notifier.failed", n, lastErr)
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, n Notification, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: n.Key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.cur != nil}
	if s.cur != nil {
		snap.Queued = len(s.cur.queue)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	snap.Sent = s.sent.Load()
	snap.Failed = s.failed.Load()
	snap.Deduped = s.deduped.Load()
	return snap
}
