package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, *eventbus.MemBus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestSubmitRunsJob(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.Subscribe(16, "job.")
	defer unsub()

	ran := make(chan struct{})
	err := s.Submit(context.Background(), Job{Name: "probe", Run: func(context.Context) error {
		close(ran)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	<-ran
	waitEvent(t, events, EventFinished)

	snap := s.Snapshot()
	if snap.Executed != 1 || len(snap.History) != 1 {
		t.Fatalf("Snapshot = %+v, want one executed job in history", snap)
	}
}

func TestJobErrorAndPanicAreRecorded(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	events, unsub := bus.Subscribe(16, EventFailed)
	defer unsub()

	_ = s.Enqueue(Job{Name: "err", Run: func(context.Context) error { return errors.New("nope") }})
	_ = s.Enqueue(Job{Name: "panic", Run: func(context.Context) error { panic("boom") }})

	first := waitEvent(t, events, EventFailed).Data.(JobEvent)
	second := waitEvent(t, events, EventFailed).Data.(JobEvent)
	if first.Error != "nope" || second.Error != "panic: boom" {
		t.Fatalf("errors = %q, %q; want nope, panic: boom", first.Error, second.Error)
	}
	if got := s.Snapshot().Failed; got != 2 {
		t.Fatalf("Failed = %d, want 2", got)
	}
}

func TestJobTimeout(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	errCh := make(chan error, 1)
	_ = s.Enqueue(Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx.Err() = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job was not bounded by DefaultTimeout")
	}
}

func TestDuplicateKeyRejectedWhilePending(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	job := Job{Name: "task.run", Key: "task:1", Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}}

	if err := s.Enqueue(job); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(job); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Enqueue = %v, want ErrDuplicate", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Enqueue(job)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("key never released: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Snapshot().Duplicates; got < 1 {
		t.Fatalf("Duplicates = %d, want >= 1", got)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Job{Name: "hold", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started
	if err := s.Enqueue(Job{Name: "fill", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("fill Enqueue: %v", err)
	}
	if err := s.Enqueue(Job{Name: "over", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue = %v, want ErrQueueFull", err)
	}
}

func TestEnqueueStateErrors(t *testing.T) {
	t.Parallel()
	noop := Job{Name: "n", Run: func(context.Context) error { return nil }}

	disabled := New(Config{}, logx.Nop(), nil)
	if err := disabled.Enqueue(noop); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Enqueue = %v, want ErrDisabled", err)
	}
	stopped := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := stopped.Enqueue(noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted Enqueue = %v, want ErrStopped", err)
	}
	if err := stopped.Enqueue(Job{Name: "nil"}); err == nil {
		t.Fatal("expected error for nil Run")
	}
}

func TestApplyResizeRestartsPool(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 4})

	s.Apply(context.Background(), Config{Enabled: true, Workers: 3, QueueSize: 8})
	snap := s.Snapshot()
	if snap.Workers != 3 || snap.QueueCap != 8 {
		t.Fatalf("Snapshot = %d workers, cap %d; want 3, 8", snap.Workers, snap.QueueCap)
	}

	done := make(chan struct{})
	if err := s.Enqueue(Job{Name: "after-resize", Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("Enqueue after resize: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job not run by the restarted pool")
	}

	s.Apply(context.Background(), Config{Enabled: false, Workers: 3, QueueSize: 8})
	if err := s.Enqueue(Job{Name: "off", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue after disable = %v, want ErrDisabled", err)
	}
}

func TestStopThenStart(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Stop(ctx)
	s.Stop(ctx)
	if err := s.Enqueue(Job{Name: "n", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
	s.Start(ctx)
	if err := s.Submit(ctx, Job{Name: "n", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Submit after restart: %v", err)
	}
}
