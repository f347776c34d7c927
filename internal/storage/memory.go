package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
)

// Memory is an in-process task store.
type Memory struct {
	mu    sync.RWMutex
	seq   int64
	tasks map[int64]lifecycle.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: map[int64]lifecycle.Task{}}
}

func (m *Memory) Create(_ context.Context, scheduleTime time.Time, lines string) (lifecycle.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := lifecycle.Task{
		ID:           m.seq,
		ScheduleTime: scheduleTime.UTC().Truncate(time.Second),
		Lines:        lines,
		Status:       lifecycle.StatusScheduled,
	}
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

func (m *Memory) Get(_ context.Context, id int64) (lifecycle.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	return t.Clone(), nil
}

func (m *Memory) List(_ context.Context) ([]lifecycle.Task, error) {
	m.mu.RLock()
	out := make([]lifecycle.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Update(_ context.Context, id int64, p lifecycle.Patch) (lifecycle.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	next, err := p.Apply(cur)
	if err != nil {
		return lifecycle.Task{}, err
	}
	m.tasks[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id int64, expect lifecycle.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return lifecycle.NotFound(id)
	}
	if expect != "" && cur.Status != expect {
		return lifecycle.Conflict(id, cur.Status)
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Close() error { return nil }
