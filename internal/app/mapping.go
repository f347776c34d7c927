package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/auth"
	"github.com/SaadAmer/TFL-line-status/internal/config"
	"github.com/SaadAmer/TFL-line-status/internal/notifier"
	"github.com/SaadAmer/TFL-line-status/internal/observability/pprof"
	"github.com/SaadAmer/TFL-line-status/internal/observability/tracing"
	"github.com/SaadAmer/TFL-line-status/internal/storage"
	"github.com/SaadAmer/TFL-line-status/internal/task/engine"
	"github.com/SaadAmer/TFL-line-status/internal/task/scheduler"
	"github.com/SaadAmer/TFL-line-status/internal/transport/httpserver"
	"github.com/SaadAmer/TFL-line-status/internal/upstream/tfl"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// Each map* turns one validated config section into the component config it
// feeds. They are also run by the reload validator so a bad hot reload is
// rejected before commit.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if (driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(sc.Path) == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		DSN:         sc.DSN,
		MaxConns:    sc.MaxConns,
		Addr:        sc.Addr,
		Password:    sc.Password,
		DB:          sc.DB,
		KeyPrefix:   sc.KeyPrefix,
	}, nil
}

func mapAuthConfig(cfg *config.Config) (auth.Config, error) {
	leeway, err := config.ParseDurationField("auth.leeway", cfg.Auth.Leeway)
	if err != nil {
		return auth.Config{}, err
	}
	return auth.Config{
		Enabled:   cfg.Auth.IsEnabled(),
		Secret:    cfg.Auth.Secret,
		Algorithm: cfg.Auth.Algorithm,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		Leeway:    leeway,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	var (
		out httpserver.Config
		err error
	)
	out.Addr = strings.TrimSpace(cfg.HTTP.Addr)
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	out.ReadHeaderTimeout = 5 * time.Second
	return out, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func mapUpstreamConfig(cfg *config.Config) (tfl.Config, error) {
	timeout, err := config.ParseDurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, tfl.DefaultTimeout)
	if err != nil {
		return tfl.Config{}, err
	}
	return tfl.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		AppKey:     cfg.Upstream.AppKey,
		UserAgent:  cfg.Upstream.UserAgent,
		Timeout:    timeout,
		RatePerSec: cfg.Upstream.RatePerSec,
		Burst:      cfg.Upstream.Burst,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	workers := te.Workers
	if workers == 0 {
		workers = 4
	}
	queue := te.QueueSize
	if queue == 0 {
		queue = 256
	}
	history := te.HistorySize
	if history == 0 {
		history = 200
	}
	// The engine always runs; scheduler.enabled decides whether anything is fed to it.
	return engine.Config{
		Enabled:        true,
		Workers:        workers,
		QueueSize:      queue,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxDelay,
		HistorySize:    history,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	if err := scheduler.ValidateReconcile(sc.Reconcile); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.reconcile: %w", err)
	}
	if _, err := scheduler.LoadLocation(sc.Timezone); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	jobTimeout, err := config.ParseDurationField("scheduler.job_timeout", sc.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:    sc.IsEnabled(),
		Timezone:   strings.TrimSpace(sc.Timezone),
		Reconcile:  sc.Reconcile,
		JobTimeout: jobTimeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.Enabled && (strings.TrimSpace(nc.Token) == "" || nc.ChatID == 0) {
		return notifier.Config{}, fmt.Errorf("notifier: token and chat_id are required when enabled")
	}
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	return notifier.Config{
		Enabled:        nc.Enabled,
		Token:          strings.TrimSpace(nc.Token),
		ChatID:         nc.ChatID,
		ThreadID:       nc.ThreadID,
		Events:         nc.Events,
		RatePerSec:     nc.RatePerSec,
		MaxResultChars: nc.MaxResultChars,
	}, nil
}

func mapTracingConfig(cfg *config.Config, version string) tracing.Config {
	tc := cfg.Tracing
	return tracing.Config{
		Enabled:     tc.Enabled,
		Endpoint:    strings.TrimSpace(tc.Endpoint),
		Insecure:    tc.Insecure,
		ServiceName: tc.ServiceName,
		SampleRatio: tc.SampleRatio,
		Version:     version,
	}
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	var (
		out = pprof.Config{
			Enabled:       pc.Enabled,
			Addr:          strings.TrimSpace(pc.Addr),
			Prefix:        pc.Prefix,
			Token:         pc.Token,
			AllowInsecure: pc.AllowInsecure,
		}
		err error
	)
	if out.ReadTimeout, err = config.ParseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("pprof.write_timeout", pc.WriteTimeout, time.Minute); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	if out.Enabled && out.Token == "" && !out.AllowInsecure && out.Addr != "" && !httpserver.IsLoopbackAddr(out.Addr) {
		return out, fmt.Errorf("pprof.addr %q is not loopback; set pprof.token or pprof.allow_insecure", out.Addr)
	}
	return out, nil
}

// validate runs every mapper; it is the transactional gate for hot reloads.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAuthConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapUpstreamConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if lv := cfg.Logging.Level; lv != "" && !logx.ValidLevel(lv) {
		return fmt.Errorf("logging.level: unknown %q", lv)
	}
	return nil
}
