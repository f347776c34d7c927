package config

// Config is the whole service configuration. Durations are Go duration
// strings ("500ms", "10s", "1m") or bare integers meaning seconds. Every section is optional; Default fills
// the gaps and environment variables override the file (see ApplyEnv).
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Auth       AuthConfig       `json:"auth"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Upstream   UpstreamConfig   `json:"upstream"`
	Logging    LoggingConfig    `json:"logging"`
	Notifier   NotifierConfig   `json:"notifier"`
	Tracing    TracingConfig    `json:"tracing"`
	Pprof      PprofConfig      `json:"pprof"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// MaxBodyBytes caps request bodies. 0 means 1 MiB.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

// AuthConfig configures bearer token verification.
//
// Enabled is a pointer so an omitted key keeps auth on.
type AuthConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Secret    string `json:"secret,omitempty"` // never logged
	Algorithm string `json:"algorithm,omitempty"`
	Issuer    string `json:"issuer,omitempty"`
	Audience  string `json:"audience,omitempty"`
	Leeway    string `json:"leeway,omitempty"`
}

func (a AuthConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// StorageConfig selects the task store.
//
//	"storage": { "driver": "sqlite", "path": "./tasks.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "redis", "addr": "127.0.0.1:6379" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	DSN         string `json:"dsn,omitempty"` // never logged
	MaxConns    int32  `json:"max_conns,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Password    string `json:"password,omitempty"` // never logged
	DB          int    `json:"db,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Timezone reads schedule times given without an offset; IANA name.
	Timezone  string `json:"timezone,omitempty"`
	Reconcile string `json:"reconcile,omitempty"`
	// JobTimeout bounds a whole task run (store writes plus upstream call).
	JobTimeout string `json:"job_timeout,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops runs that waited too long; "0s" (default) never drops.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

type UpstreamConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	AppKey     string  `json:"app_key,omitempty"` // never logged
	UserAgent  string  `json:"user_agent,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // text | json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifierConfig sends task outcomes to a Telegram chat.
type NotifierConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Events lists task event types to forward; empty means completed and failed.
	Events         []string `json:"events,omitempty"`
	RatePerSec     float64  `json:"rate_per_sec,omitempty"`
	MaxResultChars int      `json:"max_result_chars,omitempty"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // host:port of an OTLP/gRPC collector
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}

// PprofConfig controls the optional debug server.
//
// Prefer a loopback addr. A non-loopback addr needs a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
