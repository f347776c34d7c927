package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            "0.0.0.0:5555",
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			IdleTimeout:     "60s",
			ShutdownTimeout: "10s",
		},
		Auth:      AuthConfig{Algorithm: "HS256"},
		Storage:   StorageConfig{Driver: "sqlite", Path: "./tasks.db", BusyTimeout: "1s"},
		Scheduler: SchedulerConfig{Reconcile: "@every 1m", JobTimeout: "30s"},
		TaskEngine: TaskEngineConfig{
			Workers:     4,
			QueueSize:   256,
			HistorySize: 200,
		},
		Upstream: UpstreamConfig{Timeout: "10s"},
		Logging:  LoggingConfig{Level: "info", Console: true},
		Notifier: NotifierConfig{RatePerSec: 1, MaxResultChars: 300},
		Tracing:  TracingConfig{Endpoint: "localhost:4317", Insecure: true, ServiceName: "tflsched", SampleRatio: 1},
		Pprof:    PprofConfig{Addr: "127.0.0.1:6060", Prefix: "/debug/pprof/"},
	}
}

// ApplyEnv overlays the environment variables the service has always
// honoured. getenv is os.Getenv outside tests.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	env := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := env("JWT_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := env("JWT_ALG"); v != "" {
		cfg.Auth.Algorithm = v
	}
	if v := env("JWT_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
	if v := env("JWT_AUD"); v != "" {
		cfg.Auth.Audience = v
	}
	if v := env("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		cfg.Storage.Driver = "redis"
		cfg.Storage.Addr = v
	}
	if env("DISABLE_SCHEDULER") == "1" {
		off := false
		cfg.Scheduler.Enabled = &off
	}
	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	} else if v := env("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		host, _, err := net.SplitHostPort(cfg.HTTP.Addr)
		if err != nil {
			host = "0.0.0.0"
		}
		cfg.HTTP.Addr = net.JoinHostPort(host, v)
	}
	if v := env("TFL_APP_KEY"); v != "" {
		cfg.Upstream.AppKey = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks values that would otherwise fail late at runtime.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	dur("auth.leeway", cfg.Auth.Leeway)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("scheduler.job_timeout", cfg.Scheduler.JobTimeout)
	dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout)
	dur("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay)
	dur("upstream.timeout", cfg.Upstream.Timeout)
	dur("pprof.read_timeout", cfg.Pprof.ReadTimeout)
	dur("pprof.write_timeout", cfg.Pprof.WriteTimeout)
	dur("pprof.idle_timeout", cfg.Pprof.IdleTimeout)

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if cfg.Auth.IsEnabled() && cfg.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret (or JWT_SECRET) is required while auth is enabled"))
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Auth.Algorithm)) {
	case "", "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm: unsupported %q", cfg.Auth.Algorithm))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	case "postgres", "postgresql", "pgx":
		if cfg.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case "redis":
		if cfg.Storage.Addr == "" {
			errs = append(errs, errors.New("storage.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		errs = append(errs, errors.New("task_engine: workers, queue_size and history_size must be >= 0"))
	}
	if cfg.Upstream.RatePerSec < 0 || cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("rate_per_sec must be >= 0"))
	}
	if cfg.Notifier.Enabled && (cfg.Notifier.Token == "" || cfg.Notifier.ChatID == 0) {
		errs = append(errs, errors.New("notifier: token and chat_id are required when enabled"))
	}
	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when enabled"))
	}
	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0,1]"))
	}
	return errors.Join(errs...)
}
