package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const pgColumns = `id, schedule_time, lines, status, result`

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an existing pool. Call EnsureTable before use.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (lifecycle.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	st := NewPgStore(pool)
	if err := st.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("postgres storage ready", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return st, nil
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tasks table: %w", err)
		}
	}
	return nil
}

func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgTask(row pgx.Row) (lifecycle.Task, error) {
	var (
		t      lifecycle.Task
		status string
	)
	if err := row.Scan(&t.ID, &t.ScheduleTime, &t.Lines, &status, &t.Result); err != nil {
		return lifecycle.Task{}, err
	}
	t.ScheduleTime = t.ScheduleTime.UTC()
	t.Status = lifecycle.Status(status)
	return t, nil
}

func (s *PgStore) Create(ctx context.Context, scheduleTime time.Time, lines string) (lifecycle.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, `
		INSERT INTO tasks (schedule_time, lines, status)
		VALUES ($1, $2, $3)
		RETURNING `+pgColumns,
		scheduleTime.UTC().Truncate(time.Second), lines, string(lifecycle.StatusScheduled)))
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *PgStore) Get(ctx context.Context, id int64) (lifecycle.Task, error) {
	t, err := scanPgTask(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (s *PgStore) List(ctx context.Context) ([]lifecycle.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []lifecycle.Task{}
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update locks the row, checks the patch preconditions and writes it back.
func (s *PgStore) Update(ctx context.Context, id int64, p lifecycle.Patch) (lifecycle.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lifecycle.Task{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanPgTask(tx.QueryRow(ctx, `SELECT `+pgColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	next, err := p.Apply(cur)
	if err != nil {
		return lifecycle.Task{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET schedule_time = $1, lines = $2, status = $3, result = $4 WHERE id = $5`,
		next.ScheduleTime, next.Lines, string(next.Status), next.Result, id,
	); err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: commit: %w", id, err)
	}
	return next, nil
}

func (s *PgStore) Delete(ctx context.Context, id int64, expect lifecycle.Status) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return lifecycle.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if expect != "" && lifecycle.Status(status) != expect {
		return lifecycle.Conflict(id, lifecycle.Status(status))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return tx.Commit(ctx)
}
