package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	msgs  []string
	to    []Target
}

func (f *fakeSender) Send(_ context.Context, to Target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("chat unavailable")
	}
	f.msgs = append(f.msgs, text)
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

func factoryFor(s Sender) SenderFactory {
	return func(Config) (Sender, error) { return s, nil }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{Enabled: true, ChatID: 42, ThreadID: 7, RatePerSec: 1000, RetryBase: time.Millisecond}
}

func TestForwardsTaskOutcomes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	snd := &fakeSender{}
	s := New(testConfig(), factoryFor(snd), logx.Nop(), bus)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	at := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: lifecycle.EventRunning, Data: lifecycle.TaskEvent{ID: 1, Status: lifecycle.StatusRunning}})
	bus.Publish(eventbus.Event{Type: lifecycle.EventCompleted, Data: lifecycle.TaskEvent{
		ID: 1, Status: lifecycle.StatusCompleted, Lines: "victoria", ScheduleTime: at, Result: "[]",
	}})
	bus.Publish(eventbus.Event{Type: lifecycle.EventFailed, Data: lifecycle.TaskEvent{
		ID: 2, Status: lifecycle.StatusFailed, Lines: "central", Result: "Timeout: deadline exceeded",
	}})

	waitFor(t, "two messages", func() bool { return len(snd.messages()) == 2 })
	msgs := snd.messages()
	joined := strings.Join(msgs, "\n")
	if !strings.Contains(joined, "task #1 completed (victoria) at 2026-10-15T08:00:00Z\n[]") {
		t.Fatalf("messages = %q, want completed line", msgs)
	}
	if !strings.Contains(joined, "task #2 failed (central)\nTimeout: deadline exceeded") {
		t.Fatalf("messages = %q, want failed line", msgs)
	}
	if strings.Contains(joined, "running") {
		t.Fatalf("running event forwarded: %q", msgs)
	}
	snd.mu.Lock()
	to := snd.to[0]
	snd.mu.Unlock()
	if to != (Target{ChatID: 42, ThreadID: 7}) {
		t.Fatalf("target = %+v", to)
	}
}

func TestEventFilter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Events = []string{"failed"}
	_, events, _ := normalize(cfg)
	if !events[lifecycle.EventFailed] || events[lifecycle.EventCompleted] {
		t.Fatalf("events = %v, want only task.failed", events)
	}
}

func TestDedupByKey(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := New(testConfig(), factoryFor(snd), logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n := Notification{Key: "task.completed:1", Target: Target{ChatID: 1}, Text: "done"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	s.Stop(context.Background())

	if got := len(snd.messages()); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	if snap := s.Snapshot(); snap.Deduped != 2 || snap.Sent != 1 {
		t.Fatalf("snapshot = %+v, want deduped 2 sent 1", snap)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fails: 2}
	cfg := testConfig()
	cfg.RetryMax = 2
	s := New(cfg, factoryFor(snd), logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Notify(context.Background(), Notification{Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(context.Background())

	if got := len(snd.messages()); got != 1 {
		t.Fatalf("sent = %d, want 1", got)
	}
	if f := s.Snapshot().Failed; f != 0 {
		t.Fatalf("failed = %d, want 0", f)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()

	off := New(Config{}, factoryFor(&fakeSender{}), logx.Nop(), nil)
	if err := off.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify disabled = %v, want ErrDisabled", err)
	}

	s := New(testConfig(), factoryFor(&fakeSender{}), logx.Nop(), nil)
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}

	bad := New(testConfig(), func(Config) (Sender, error) { return nil, errors.New("bad token") }, logx.Nop(), nil)
	if err := bad.Start(context.Background()); err == nil {
		t.Fatalf("Start with failing factory = nil, want error")
	}
}

func TestApplyRebuildsSenderOnTokenChange(t *testing.T) {
	t.Parallel()

	builds := 0
	factory := func(Config) (Sender, error) {
		builds++
		return &fakeSender{}, nil
	}
	cfg := testConfig()
	cfg.Token = "a"
	s := New(cfg, factory, logx.Nop(), nil)
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	cfg.Token = "b"
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if builds != 2 {
		t.Fatalf("builds = %d, want 2", builds)
	}
}

func TestFormatTruncates(t *testing.T) {
	t.Parallel()

	got := FormatTaskEvent(lifecycle.TaskEvent{ID: 3, Status: lifecycle.StatusCompleted, Lines: "tube", Result: "abcdefghij"}, 4)
	want := "task #3 completed (tube)\nabcd..."
	if got != want {
		t.Fatalf("FormatTaskEvent = %q, want %q", got, want)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(testConfig(), factoryFor(snd), logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := range 3 {
		if err := s.Notify(context.Background(), Notification{Text: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := len(snd.messages()); got != 3 {
		t.Fatalf("sent = %d, want 3 after drain", got)
	}
	if s.Snapshot().Running {
		t.Fatal("Running after Stop")
	}
	if err := s.Notify(context.Background(), Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}
