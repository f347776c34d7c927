package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const (
	defaultFetchTimeout = 10 * time.Second
	finalCommitTimeout  = 5 * time.Second
	earlyFireTolerance  = time.Second
	tracerName          = "github.com/SaadAmer/TFL-line-status/internal/lifecycle"
)

// RunnerConfig controls task execution.
type RunnerConfig struct {
	// FetchTimeout bounds each upstream call. 0 means 10s.
	FetchTimeout time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Runner executes one due task per call. It always re-reads the task from the
// store; the store is the only source of truth for status.
type Runner struct {
	store  Store
	fetch  Fetcher
	cfg    RunnerConfig
	log    logx.Logger
	bus    eventbus.Bus
	tracer trace.Tracer
}

func NewRunner(store Store, fetch Fetcher, cfg RunnerConfig, log logx.Logger, bus eventbus.Bus) *Runner {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{store: store, fetch: fetch, cfg: cfg, log: log, bus: bus, tracer: otel.Tracer(tracerName)}
}

// Run executes task id: scheduled -> running -> completed|failed.
//
// A missing task, or one that already left scheduled, is a no-op. Upstream
// failures are recorded on the task and not returned; the returned error
// reports store failures only.
func (r *Runner) Run(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "task.run", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer span.End()

	log := r.log.With(logx.Int64("task_id", id), logx.TraceContext(ctx))

	t, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		log.Debug("trigger fired for missing task; skipping")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load task")
		return err
	}
	if t.Status != StatusScheduled {
		log.Debug("trigger fired for task not scheduled; skipping", logx.String("status", string(t.Status)))
		return nil
	}
	// A trigger armed for an older schedule time can fire after a reschedule
	// moved the task forward; the newer trigger owns it.
	if t.ScheduleTime.After(r.cfg.Now().Add(earlyFireTolerance)) {
		log.Debug("task rescheduled into the future; skipping", logx.Time("schedule_time", t.ScheduleTime))
		return nil
	}

	// Compare-and-set so a trigger racing a reschedule executes at most once.
	t, err = r.store.Update(ctx, id, Patch{Status: ptr(StatusRunning), Expect: StatusScheduled})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		log.Debug("task changed before start; skipping", logx.Err(err))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark running")
		return err
	}
	span.SetAttributes(attribute.String("task.lines", t.Lines))
	log.Info("task running", logx.String("lines", t.Lines))
	r.publish(EventRunning, t)

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	body, ferr := r.fetch.Fetch(fctx, t.Lines)
	cancel()

	p := Patch{Expect: StatusRunning}
	if ferr != nil {
		p.Status = ptr(StatusFailed)
		p.Result = ptr(FailureResult(ferr))
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ErrorKind(ferr))
	} else {
		p.Status = ptr(StatusCompleted)
		p.Result = ptr(body)
	}

	// The final state is committed even when ctx was canceled mid-fetch.
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), finalCommitTimeout)
	defer ccancel()
	t, err = r.store.Update(cctx, id, p)
	if err != nil {
		log.Error("task final state not persisted", logx.Err(err), logx.String("status", string(*p.Status)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist final state")
		return err
	}

	dur := time.Since(start)
	if t.Status == StatusFailed {
		log.Warn("task failed", logx.String("result", *t.Result), logx.Duration("took", dur))
		r.publish(EventFailed, t)
	} else {
		log.Info("task completed", logx.Int("result_bytes", len(body)), logx.Duration("took", dur))
		r.publish(EventCompleted, t)
	}
	return nil
}

func (r *Runner) publish(typ string, t Task) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: eventOf(t)})
}
