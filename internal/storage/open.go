package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// Config configures the task store.
type Config struct {
	Driver string

	// sqlite
	Path        string
	BusyTimeout time.Duration

	// postgres
	DSN      string
	MaxConns int32

	// redis
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open initializes the configured driver and prepares its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (lifecycle.Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "memory":
		log.Warn("memory storage selected; tasks are lost on restart")
		return NewMemory(), nil
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	case "redis":
		return openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
