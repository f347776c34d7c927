package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/SaadAmer/TFL-line-status/internal/eventbus"
	"github.com/SaadAmer/TFL-line-status/internal/lifecycle"
	"github.com/SaadAmer/TFL-line-status/internal/task/engine"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

const defaultReconcile = "@every 1m"

// Config controls trigger behaviour.
type Config struct {
	// Enabled false keeps tasks in the store but never fires them.
	Enabled bool
	// Timezone is the IANA zone for the reconcile cron spec.
	Timezone string
	// Reconcile is a cron spec ("@every 1m", "*/5 * * * *"); "off" disables it.
	Reconcile string
	// JobTimeout bounds a whole task run inside the engine. 0 uses the engine default.
	JobTimeout time.Duration
}

// RunFunc executes one task by id.
type RunFunc func(ctx context.Context, id int64) error

// Executor accepts jobs for execution.
type Executor interface {
	Submit(ctx context.Context, j engine.Job) error
}

// Lister reads the persisted task set.
type Lister interface {
	List(ctx context.Context) ([]lifecycle.Task, error)
}

type trigger struct {
	timer *time.Timer
	at    time.Time
	ver   uint64
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	entry  cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc

	exec  Executor
	run   RunFunc
	store Lister

	// Trigger map; guarded by tmu only.
	tmu      sync.Mutex
	triggers map[int64]*trigger
	verSeq   uint64
	fired    uint64

	enqMu       sync.Mutex
	lastEnqWarn map[int64]time.Time

	reconciled    uint64
	lastReconcile time.Time
}

// Pending describes one armed trigger.
type Pending struct {
	ID int64     `json:"id"`
	At time.Time `json:"at"`
}

type Snapshot struct {
	Enabled       bool      `json:"enabled"`
	Timezone      string    `json:"timezone"`
	Reconcile     string    `json:"reconcile"`
	NextReconcile time.Time `json:"next_reconcile,omitempty"`
	LastReconcile time.Time `json:"last_reconcile,omitempty"`
	Reconciled    uint64    `json:"reconciled"`
	Fired         uint64    `json:"fired"`
	Pending       []Pending `json:"pending"`
}
