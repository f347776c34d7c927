package app

import (
	"context"
	"strings"
	"time"

	"github.com/SaadAmer/TFL-line-status/internal/config"
	logx "github.com/SaadAmer/TFL-line-status/pkg/logx"
	"github.com/SaadAmer/TFL-line-status/pkg/systemd"
)

// reloadLoop applies committed configs. Only the sections config.IsLive
// reports are applied in place; the rest are logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			systemd.Reloading(func() {
				a.applyConfig(ctx, lastApplied, newCfg)
			})
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	var restart []string
	for _, s := range sections {
		if !config.IsLive(s) {
			restart = append(restart, s)
			continue
		}
		a.applySection(ctx, s, next)
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	// Keep the final log line concise and human-friendly (details are in debug logs).
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) applySection(ctx context.Context, section string, cfg *config.Config) {
	switch section {
	case "logging":
		a.logs.Apply(mapLoggingConfig(cfg))

	case "task_engine":
		ecfg, err := mapTaskEngineConfig(cfg)
		if err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
			return
		}
		a.engine.Apply(ctx, ecfg)

	case "scheduler":
		scfg, err := mapSchedulerConfig(cfg)
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			return
		}
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		switch {
		case prevEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
		case !prevEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
		}

	case "notifier":
		ncfg, err := mapNotifierConfig(cfg)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			return
		}
		prevEnabled := a.notif.Enabled()
		if err := a.notif.Apply(ncfg); err != nil {
			a.log.Warn("notifier apply failed", logx.Err(err))
		}
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			if err := a.notif.Start(ctx); err != nil {
				a.log.Warn("notifier not started", logx.Err(err))
			}
		}

	case "pprof":
		pcfg, err := mapPprofConfig(cfg)
		if err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
			return
		}
		if err := a.pprof.Reconfigure(ctx, pcfg); err != nil {
			a.log.Warn("pprof reconfigure failed", logx.Err(err))
		}
	}
}
