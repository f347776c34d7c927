package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	reloadMaxDelay = 2 * time.Second
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch reloads on file changes until ctx ends. Editors often replace the
// file instead of writing it, so the parent directory is watched. A broken
// watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)

	d := &debouncer{wait: reloadDebounce, maxWait: reloadMaxDelay, fn: func() { m.reload(ctx) }}
	defer d.stop()

	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx, dir, name, d.trigger, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Err(err))
		if !sleepCtx(ctx, retry+rand.N(retry/2+1)) {
			return nil
		}
		retry = min(retry*2, watchRetryMax)
	}
}

// watchOnce runs a single fsnotify watcher until it breaks or ctx ends.
// healthy is called once the directory is being watched.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, changed, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once wait has passed without another trigger, or once
// maxWait has passed since the first trigger of a burst. A zero maxWait
// means no cap.
type debouncer struct {
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	mu      sync.Mutex
	timer   *time.Timer
	first   time.Time
	stopped bool
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	now := time.Now()
	if d.first.IsZero() {
		d.first = now
	}
	delay := d.wait
	if d.maxWait > 0 {
		delay = min(delay, max(d.first.Add(d.maxWait).Sub(now), 0))
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(delay, d.fire)
		return
	}
	d.timer.Reset(delay)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	d.first = time.Time{}
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped {
		d.fn()
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
