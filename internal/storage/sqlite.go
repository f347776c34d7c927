package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const sqliteColumns = `id, schedule_time, lines, status, result`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (lifecycle.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./tasks.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; it also serializes our read-modify-write transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("sqlite storage ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(row rowScanner) (lifecycle.Task, error) {
	var (
		t      lifecycle.Task
		at     int64
		status string
		result sql.NullString
	)
	if err := row.Scan(&t.ID, &at, &t.Lines, &status, &result); err != nil {
		return lifecycle.Task{}, err
	}
	t.ScheduleTime = time.Unix(at, 0).UTC()
	t.Status = lifecycle.Status(status)
	if result.Valid {
		r := result.String
		t.Result = &r
	}
	return t, nil
}

func (s *sqliteStore) Create(ctx context.Context, scheduleTime time.Time, lines string) (lifecycle.Task, error) {
	at := scheduleTime.UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(schedule_time, lines, status) VALUES(?,?,?)`,
		at.Unix(), lines, string(lifecycle.StatusScheduled),
	)
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("create task: %w", err)
	}
	return lifecycle.Task{ID: id, ScheduleTime: at, Lines: lines, Status: lifecycle.StatusScheduled}, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (lifecycle.Task, error) {
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]lifecycle.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []lifecycle.Task{}
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Update(ctx context.Context, id int64, p lifecycle.Patch) (lifecycle.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanSQLiteTask(tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.Task{}, lifecycle.NotFound(id)
	}
	if err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	next, err := p.Apply(cur)
	if err != nil {
		return lifecycle.Task{}, err
	}

	var result any
	if next.Result != nil {
		result = *next.Result
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET schedule_time = ?, lines = ?, status = ?, result = ? WHERE id = ?`,
		next.ScheduleTime.Unix(), next.Lines, string(next.Status), result, id,
	); err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.Task{}, fmt.Errorf("update task %d: commit: %w", id, err)
	}
	return next, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id int64, expect lifecycle.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if expect != "" && lifecycle.Status(status) != expect {
		return lifecycle.Conflict(id, lifecycle.Status(status))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return tx.Commit()
}
