package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
)

// liveSections are applied on reload. Everything else needs a restart.
var liveSections = map[string]bool{
	"logging":     true,
	"notifier":    true,
	"scheduler":   true,
	"task_engine": true,
	"pprof":       true,
}

// IsLive reports whether a changed section takes effect without a restart.
func IsLive(section string) bool { return liveSections[section] }

// SummarizeConfigChange returns the sorted list of changed sections and
// structured attrs for logging. Secrets (tokens, DSNs, passwords, keys) are
// only reported as set or unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.String("http.write_timeout", newCfg.HTTP.WriteTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Auth, newCfg.Auth) {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.Bool("auth.enabled", newCfg.Auth.IsEnabled()),
			logx.String("auth.algorithm", newCfg.Auth.Algorithm),
			logx.Bool("auth.secret_changed", oldCfg.Auth.Secret != newCfg.Auth.Secret),
			logx.Bool("auth.issuer_set", newCfg.Auth.Issuer != ""),
			logx.Bool("auth.audience_set", newCfg.Auth.Audience != ""),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", newCfg.Storage.DSN != ""),
			logx.Bool("storage.addr_set", newCfg.Storage.Addr != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.reconcile", newCfg.Scheduler.Reconcile),
			logx.String("scheduler.job_timeout", newCfg.Scheduler.JobTimeout),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
			logx.String("task_engine.max_queue_delay", newCfg.TaskEngine.MaxQueueDelay),
		)
	}

	if oldCfg.Upstream != newCfg.Upstream {
		changed = append(changed, "upstream")
		attrs = append(attrs,
			logx.String("upstream.base_url", newCfg.Upstream.BaseURL),
			logx.Bool("upstream.app_key_set", newCfg.Upstream.AppKey != ""),
			logx.String("upstream.timeout", newCfg.Upstream.Timeout),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.token_set", newCfg.Notifier.Token != ""),
			logx.Int64("notifier.chat_id", newCfg.Notifier.ChatID),
			logx.Int("notifier.event_count", len(newCfg.Notifier.Events)),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs,
			logx.Bool("tracing.enabled", newCfg.Tracing.Enabled),
			logx.String("tracing.endpoint", newCfg.Tracing.Endpoint),
			logx.Float64("tracing.sample_ratio", newCfg.Tracing.SampleRatio),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
