package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/config"
	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/notifier"
	"github.com/SaadAmer/TFL-line-status/internal/observability/pprof"
	"github.com/SaadAmer/TFL-line-status/internal/observability/tracing"
	rtsup "github.com/SaadAmer/TFL-line-status/internal/runtime/supervisor"
	"github.com/SaadAmer/TFL-line-status/internal/storage"
	"github.com/SaadAmer/TFL-line-status/internal/task/engine"
	"github.com/SaadAmer/TFL-line-status/internal/task/scheduler"
	"github.com/SaadAmer/TFL-line-status/internal/transport/httpapi"
	"github.com/SaadAmer/TFL-line-status/internal/transport/httpserver"
	"github.com/SaadAmer/TFL-line-status/internal/upstream/tfl"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
	"github.com/SaadAmer/TFL-line-status/pkg/systemd"
)

type App struct {
	opts options

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store    lifecycle.Store
	upstream *tfl.Client
	tasks    *lifecycle.Service
	runner   *lifecycle.Runner
	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	pprof    *pprof.Service
	api      *httpserver.Server

	traceShutdown tracing.ShutdownFunc
	started       time.Time
	stopOnce      sync.Once
}

// New loads the config at cfgPath (empty means defaults plus environment)
// and builds every component. Nothing listens or fires until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (a *App, err error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnv(o.getenv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	a = &App{
		opts: o,
		cfgm: cfgm,
		root: root,
		log:  root.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	defer func() {
		if err != nil {
			a.closeEarly()
		}
	}()

	if a.traceShutdown, err = tracing.Setup(ctx, mapTracingConfig(cfg, o.version)); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, root.With(logx.String("comp", "storage"))); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	ucfg, err := mapUpstreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.upstream = tfl.New(ucfg, o.upstreamHC, root.With(logx.String("comp", "upstream")))
	a.runner = lifecycle.NewRunner(a.store, a.upstream, lifecycle.RunnerConfig{FetchTimeout: ucfg.Timeout},
		root.With(logx.String("comp", "runner")), a.bus)

	ecfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(ecfg, root.With(logx.String("comp", "taskengine")), a.bus)

	schCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schCfg, a.engine, a.runner.Run, a.store, root.With(logx.String("comp", "scheduler")), a.bus)
	a.tasks = lifecycle.NewService(a.store, a.sched, lifecycle.ServiceConfig{Location: a.sched.Location()},
		root.With(logx.String("comp", "tasks")), a.bus)

	acfg, err := mapAuthConfig(cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(acfg)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !acfg.Enabled {
		a.log.Warn("auth disabled; every request is served as anonymous with all scopes")
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, o.senders, root.With(logx.String("comp", "notifier")), a.bus)

	pcfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.pprof = pprof.New(pcfg, root.With(logx.String("comp", "pprof")))

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	handler := httpapi.New(httpapi.Options{
		Tasks:        a.tasks,
		Auth:         verifier,
		Status:       a.status,
		Log:          root.With(logx.String("comp", "http")),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	a.api = httpserver.New("api", hcfg, handler, root.With(logx.String("comp", "http")))
	return a, nil
}

// closeEarly releases what New acquired when a later step failed.
func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.traceShutdown(ctx)
		cancel()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// APIAddr is the bound API address while running.
func (a *App) APIAddr() string { return a.api.Addr() }

// Tasks exposes the task lifecycle service.
func (a *App) Tasks() *lifecycle.Service { return a.tasks }

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	// Engine first so the scheduler always has somewhere to submit.
	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	rs, err := a.tasks.Recover(a.sup.Context())
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}
	a.log.Info("tasks recovered", logx.Int("armed", rs.Armed), logx.Int("interrupted", rs.Interrupted))

	if err := a.notif.Start(a.sup.Context()); err != nil {
		// Alerts are optional; keep serving without them.
		a.log.Warn("notifier not started", logx.Err(err))
	}

	cfg := a.cfgm.Get()
	if pcfg, err := mapPprofConfig(cfg); err == nil {
		if err := a.pprof.Reconfigure(a.sup.Context(), pcfg); err != nil {
			a.log.Warn("pprof not started", logx.Err(err))
		}
	}

	if err := a.api.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	a.log.Info("api listening", logx.String("addr", a.api.Addr()))

	// Optional: log events for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level to avoid noise from frequent job events.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.Watchdog(c, iv, a.api.Running, a.log)
		})
	}
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.String("version", a.opts.version))
	return nil
}

// status renders GET /status.
func (a *App) status(context.Context) any {
	bs := a.bus.Stats()
	return map[string]any{
		"version":   a.opts.version,
		"uptime":    time.Since(a.started).Truncate(time.Second).String(),
		"scheduler": a.sched.Snapshot(),
		"engine":    a.engine.Snapshot(),
		"notifier":  a.notif.Snapshot(),
		"runtime":   a.sup.Snapshot(),
		"events": map[string]any{
			"subscribers": bs.Subscribers,
			"published":   bs.Published,
			"dropped":     bs.Dropped,
		},
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var stopErr error
	a.stopOnce.Do(func() { stopErr = a.stop(ctx, reason) })
	return stopErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Intake first, then triggers, then the work they feed.
	step("api", shutdownTimeout(a.cfgm.Get()), func(c context.Context) error { return a.api.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("tracing", 2*time.Second, func(c context.Context) error { return a.traceShutdown(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
