package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/storage"
	"github.com/SaadAmer/TFL-line-status/internal/task/engine"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// inlineExec runs submitted jobs synchronously and records their keys.
type inlineExec struct {
	mu   sync.Mutex
	keys []string
	ran  chan string
}

func newInlineExec() *inlineExec { return &inlineExec{ran: make(chan string, 16)} }

func (e *inlineExec) Submit(ctx context.Context, j engine.Job) error {
	e.mu.Lock()
	e.keys = append(e.keys, j.Key)
	e.mu.Unlock()
	err := j.Run(ctx)
	e.ran <- j.Key
	return err
}

func (e *inlineExec) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.keys)
}

func noopRun(context.Context, int64) error { return nil }

func newTestScheduler(t *testing.T, cfg Config, exec Executor, run RunFunc, store Lister) *Service {
	t.Helper()
	if cfg.Reconcile == "" {
		cfg.Reconcile = "off"
	}
	s := New(cfg, exec, run, store, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func waitRan(t *testing.T, e *inlineExec, want string) {
	t.Helper()
	select {
	case got := <-e.ran:
		if got != want {
			t.Fatalf("ran %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never fired", want)
	}
}

func TestArmPastTimeFiresImmediately(t *testing.T) {
	t.Parallel()
	exec := newInlineExec()
	s := newTestScheduler(t, Config{Enabled: true}, exec, noopRun, nil)

	s.Arm(1, time.Now().Add(-time.Hour))
	waitRan(t, exec, "task:1")
	if s.Armed(1) {
		t.Fatal("trigger still armed after firing")
	}
}

func TestRearmReplacesTrigger(t *testing.T) {
	t.Parallel()
	exec := newInlineExec()
	s := newTestScheduler(t, Config{Enabled: true}, exec, noopRun, nil)

	s.Arm(7, time.Now().Add(time.Hour))
	s.Arm(7, time.Now().Add(20*time.Millisecond))
	if got := len(s.Pending()); got != 1 {
		t.Fatalf("len(Pending) = %d, want 1", got)
	}
	waitRan(t, exec, "task:7")

	time.Sleep(50 * time.Millisecond)
	if got := exec.count(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	exec := newInlineExec()
	s := newTestScheduler(t, Config{Enabled: true}, exec, noopRun, nil)

	s.Cancel(404)

	s.Arm(3, time.Now().Add(30*time.Millisecond))
	s.Cancel(3)
	time.Sleep(80 * time.Millisecond)
	if got := exec.count(); got != 0 {
		t.Fatalf("executions = %d, want 0", got)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("Pending = %v, want empty", s.Pending())
	}
}

func TestDisabledDoesNotArm(t *testing.T) {
	t.Parallel()
	exec := newInlineExec()
	s := newTestScheduler(t, Config{Enabled: false}, exec, noopRun, nil)

	s.Arm(1, time.Now())
	time.Sleep(30 * time.Millisecond)
	if s.Armed(1) || exec.count() != 0 {
		t.Fatal("disabled scheduler armed or fired a trigger")
	}
}

func TestPendingOrderedByTime(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, Config{Enabled: true}, newInlineExec(), noopRun, nil)
	base := time.Now().Add(time.Hour)
	s.Arm(2, base.Add(time.Minute))
	s.Arm(1, base.Add(2*time.Minute))
	s.Arm(3, base)

	got := s.Pending()
	want := []int64{3, 2, 1}
	for i, p := range got {
		if p.ID != want[i] {
			t.Fatalf("Pending[%d].ID = %d, want %d", i, p.ID, want[i])
		}
	}
}

func TestReconcileArmsScheduledTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	future := time.Now().Add(time.Hour)
	a, _ := store.Create(ctx, future, "victoria")
	b, _ := store.Create(ctx, future, "central")
	running := lifecycle.StatusRunning
	if _, err := store.Update(ctx, b.ID, lifecycle.Patch{Status: &running}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s := newTestScheduler(t, Config{Enabled: true}, newInlineExec(), noopRun, store)
	n, err := s.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if n != 1 || !s.Armed(a.ID) || s.Armed(b.ID) {
		t.Fatalf("Reconcile armed %d; armed(a)=%v armed(b)=%v", n, s.Armed(a.ID), s.Armed(b.ID))
	}
	if n, _ := s.Reconcile(ctx); n != 0 {
		t.Fatalf("second Reconcile armed %d, want 0", n)
	}
}

func TestValidateReconcile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec string
		ok   bool
	}{
		{"", true},
		{"off", true},
		{"@every 1m", true},
		{"*/5 * * * *", true},
		{"0 */5 * * * *", true},
		{"every minute", false},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			err := ValidateReconcile(tc.spec)
			if (err == nil) != tc.ok {
				t.Fatalf("ValidateReconcile(%q) = %v, want ok=%v", tc.spec, err, tc.ok)
			}
		})
	}
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	body  string
}

func (f *stubFetcher) Fetch(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.body, nil
}

func TestEndToEndRescheduleRunsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := eventbus.New()
	store := storage.NewMemory()
	fetch := &stubFetcher{body: `[]`}

	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), bus)
	eng.Start(ctx)
	t.Cleanup(func() { eng.Stop(ctx) })

	runner := lifecycle.NewRunner(store, fetch, lifecycle.RunnerConfig{}, logx.Nop(), bus)
	sched := newTestScheduler(t, Config{Enabled: true}, eng, runner.Run, store)
	svc := lifecycle.NewService(store, sched, lifecycle.ServiceConfig{Location: time.UTC}, logx.Nop(), bus)

	events, unsub := bus.Subscribe(16, lifecycle.EventCompleted)
	defer unsub()

	task, err := svc.Create(ctx, lifecycle.CreateRequest{Lines: "victoria", ScheduleTime: time.Now().Add(time.Hour).UTC().Format(time.RFC3339)})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	due := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	if _, err := svc.Update(ctx, task.ID, lifecycle.UpdateRequest{ScheduleTime: due}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("task never completed")
	}
	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != lifecycle.StatusCompleted || got.Result == nil || *got.Result != "[]" {
		t.Fatalf("task = %+v, want completed with []", got)
	}
	fetch.mu.Lock()
	calls := fetch.calls
	fetch.mu.Unlock()
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}
}

func TestEndToEndDeletedTaskNeverRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	fetch := &stubFetcher{}
	exec := newInlineExec()
	runner := lifecycle.NewRunner(store, fetch, lifecycle.RunnerConfig{}, logx.Nop(), nil)
	sched := newTestScheduler(t, Config{Enabled: true}, exec, runner.Run, store)

	task, _ := store.Create(ctx, time.Now().Add(-time.Minute), "jubilee")
	if err := store.Delete(ctx, task.ID, lifecycle.StatusScheduled); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	// simulate a trigger that was already firing when the delete landed
	sched.Arm(task.ID, time.Now())
	waitRan(t, exec, jobKey(task.ID))
	if fetch.calls != 0 {
		t.Fatalf("fetch calls = %d, want 0", fetch.calls)
	}
}

// rearmingLister returns a snapshot taken before an update re-arms the task,
// the way a concurrent edit lands between Reconcile's List and its arm.
type rearmingLister struct {
	tasks []lifecycle.Task
	rearm func()
}

func (l *rearmingLister) List(context.Context) ([]lifecycle.Task, error) {
	if l.rearm != nil {
		l.rearm()
	}
	return l.tasks, nil
}

func TestReconcileKeepsConcurrentRearm(t *testing.T) {
	t.Parallel()
	stale := time.Now().Add(-time.Minute)
	fresh := time.Now().Add(time.Hour)
	lister := &rearmingLister{tasks: []lifecycle.Task{{ID: 7, ScheduleTime: stale, Lines: "victoria", Status: lifecycle.StatusScheduled}}}

	exec := newInlineExec()
	s := newTestScheduler(t, Config{Enabled: true}, exec, noopRun, lister)
	lister.rearm = func() { s.Arm(7, fresh) }

	n, err := s.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if n != 0 {
		t.Fatalf("Reconcile armed %d, want 0", n)
	}
	p := s.Pending()
	if len(p) != 1 || !p[0].At.Equal(fresh) {
		t.Fatalf("Pending = %+v, want task 7 at %v", p, fresh)
	}
	if got := exec.count(); got != 0 {
		t.Fatalf("submitted %d jobs, want 0", got)
	}
}
