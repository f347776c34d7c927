package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

func New(cfg Config, exec Executor, run RunFunc, store Lister, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		exec:        exec,
		run:         run,
		store:       store,
		ctx:         ctx,
		cancel:      cancel,
		parser:      newParser(),
		triggers:    map[int64]*trigger{},
		lastEnqWarn: map[int64]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// newParser accepts 5- and 6-field specs plus descriptors.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateReconcile reports whether spec is usable as Config.Reconcile.
func ValidateReconcile(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "off") {
		return nil
	}
	_, err := newParser().Parse(spec)
	return err
}

// LoadLocation resolves an IANA zone name; empty means time.Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone the scheduler was configured with.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start begins the reconcile loop. Triggers armed before Start are kept.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.addReconcileLocked()
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Bool("enabled", s.cfg.Enabled),
		logx.String("tz", s.loc.String()),
		logx.String("reconcile", s.reconcileSpecLocked()),
	)
}

// Stop halts cron and disarms every trigger. Tasks stay scheduled in the
// store and are re-armed by recovery on the next start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.cancel()
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	n := s.disarmAll()
	s.log.Info("scheduler stopped", logx.Int("disarmed", n), logx.Duration("took", time.Since(start)))
}

// Apply swaps config. A timezone or reconcile change restarts cron; turning
// the scheduler off disarms all triggers, turning it on reconciles at once.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	if running && (strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) || prev.Reconcile != cfg.Reconcile) {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case prev.Enabled && !cfg.Enabled:
		n := s.disarmAll()
		s.log.Info("scheduler disabled", logx.Int("disarmed", n))
	case !prev.Enabled && cfg.Enabled && running:
		go s.Reconcile(context.Background())
	}
}

func (s *Service) restartLocked() {
	old := s.c
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.entry = 0
	s.addReconcileLocked()
	s.c.Start()
	go func() { <-old.Stop().Done() }()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) reconcileSpecLocked() string {
	spec := strings.TrimSpace(s.cfg.Reconcile)
	if spec == "" {
		spec = defaultReconcile
	}
	return spec
}

func (s *Service) addReconcileLocked() {
	spec := s.reconcileSpecLocked()
	if strings.EqualFold(spec, "off") {
		return
	}
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.baseContext(), 30*time.Second)
		defer cancel()
		if _, err := s.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("reconcile failed", logx.Err(err))
		}
	})

	if strings.HasPrefix(spec, "@every") {
		if every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every"))); err == nil && every > 0 {
			sched, jitter := spreadInterval(every, time.Now().In(s.loc), "reconcile")
			s.entry = s.c.Schedule(sched, job)
			s.log.Debug("reconcile scheduled", logx.Duration("every", every), logx.Duration("startup_spread", jitter))
			return
		}
	}
	id, err := s.c.AddJob(spec, job)
	if err != nil {
		s.log.Warn("invalid reconcile spec; reconcile disabled", logx.String("spec", spec), logx.Err(err))
		return
	}
	s.entry = id
}

func (s *Service) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Service) loadLocationLocked() *time.Location {
	loc, err := LoadLocation(s.cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", s.cfg.Timezone), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}
