package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/storage"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

type fetchFunc func(ctx context.Context, lines string) (string, error)

func (f fetchFunc) Fetch(ctx context.Context, lines string) (string, error) { return f(ctx, lines) }

type statusErr struct{ code int }

func (e statusErr) Error() string { return "unexpected status 503" }
func (e statusErr) Kind() string  { return "HTTPStatusError" }

func TestRunnerOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		fetch  fetchFunc
		status lifecycle.Status
		result string
	}{
		{
			name:   "success",
			fetch:  func(context.Context, string) (string, error) { return `[{"type":"lineStatus"}]`, nil },
			status: lifecycle.StatusCompleted,
			result: `[{"type":"lineStatus"}]`,
		},
		{
			name:   "http status",
			fetch:  func(context.Context, string) (string, error) { return "", statusErr{503} },
			status: lifecycle.StatusFailed,
			result: "HTTPStatusError: unexpected status 503",
		},
		{
			name:   "generic error",
			fetch:  func(context.Context, string) (string, error) { return "", errors.New("dns down") },
			status: lifecycle.StatusFailed,
			result: "UpstreamError: dns down",
		},
		{
			name: "timeout",
			fetch: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			status: lifecycle.StatusFailed,
			result: "Timeout: context deadline exceeded",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := storage.NewMemory()
			bus := eventbus.New()
			events, unsub := bus.Subscribe(8, "task.")
			defer unsub()

			task, _ := store.Create(ctx, time.Now().Add(-time.Second), "victoria")
			r := lifecycle.NewRunner(store, tc.fetch, lifecycle.RunnerConfig{FetchTimeout: 30 * time.Millisecond}, logx.Nop(), bus)
			if err := r.Run(ctx, task.ID); err != nil {
				t.Fatalf("Run error: %v", err)
			}

			got, _ := store.Get(ctx, task.ID)
			if got.Status != tc.status {
				t.Fatalf("Status = %s, want %s", got.Status, tc.status)
			}
			if got.Result == nil || *got.Result != tc.result {
				t.Fatalf("Result = %v, want %q", got.Result, tc.result)
			}
			if e := <-events; e.Type != lifecycle.EventRunning {
				t.Fatalf("first event = %s, want %s", e.Type, lifecycle.EventRunning)
			}
			want := lifecycle.EventCompleted
			if tc.status == lifecycle.StatusFailed {
				want = lifecycle.EventFailed
			}
			if e := <-events; e.Type != want {
				t.Fatalf("second event = %s, want %s", e.Type, want)
			}
		})
	}
}

func TestRunnerSkips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	calls := 0
	fetch := fetchFunc(func(context.Context, string) (string, error) {
		calls++
		return "[]", nil
	})
	r := lifecycle.NewRunner(store, fetch, lifecycle.RunnerConfig{}, logx.Nop(), nil)

	if err := r.Run(ctx, 42); err != nil {
		t.Fatalf("Run missing task error: %v", err)
	}

	done, _ := store.Create(ctx, time.Now(), "victoria")
	if err := r.Run(ctx, done.ID); err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	if err := r.Run(ctx, done.ID); err != nil {
		t.Fatalf("second Run error: %v", err)
	}

	future, _ := store.Create(ctx, time.Now().Add(time.Hour), "central")
	if err := r.Run(ctx, future.ID); err != nil {
		t.Fatalf("Run future task error: %v", err)
	}
	if got, _ := store.Get(ctx, future.ID); got.Status != lifecycle.StatusScheduled {
		t.Fatalf("future task status = %s, want scheduled", got.Status)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}
}

func TestRunnerCommitsAfterCancel(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	task, _ := store.Create(context.Background(), time.Now(), "victoria")

	ctx, cancel := context.WithCancel(context.Background())
	fetch := fetchFunc(func(fctx context.Context, _ string) (string, error) {
		cancel()
		<-fctx.Done()
		return "", fctx.Err()
	})
	r := lifecycle.NewRunner(store, fetch, lifecycle.RunnerConfig{}, logx.Nop(), nil)
	if err := r.Run(ctx, task.ID); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got, _ := store.Get(context.Background(), task.ID)
	if got.Status != lifecycle.StatusFailed || got.Result == nil || *got.Result != "Canceled: context canceled" {
		t.Fatalf("task = %+v, want failed with Canceled result", got)
	}
}
