package app

import (
	"fmt"
	"strings"
	"time"

	"kubelookout/internal/digest"
	"kubelookout/internal/observability/pprof"
	"kubelookout/internal/rollout"
	"kubelookout/internal/sink"
	"kubelookout/internal/watch"
	logx "kubelookout/pkg/logx"
)

func mapDispatcherConfig(cfg *Config) (rollout.DispatcherConfig, error) {
	refresh, err := parseDurationField("thread.refresh", cfg.Thread.Refresh)
	if err != nil {
		return rollout.DispatcherConfig{}, err
	}
	timeout, err := parseDurationField("thread.timeout", cfg.Thread.Timeout)
	if err != nil {
		return rollout.DispatcherConfig{}, err
	}
	tick, err := parseDurationOrDefault("thread.tick", cfg.Thread.Tick, 10*time.Second)
	if err != nil {
		return rollout.DispatcherConfig{}, err
	}
	dc := rollout.DispatcherConfig{
		Refresh:       refresh,
		Timeout:       timeout,
		Tick:          tick,
		MinReadyRatio: cfg.Classify.MinReadyRatio,
	}
	if err := dc.Validate(); err != nil {
		return rollout.DispatcherConfig{}, err
	}
	return dc, nil
}

func mapRenderConfig(cfg *Config) sink.RenderConfig {
	return sink.RenderConfig{
		ClusterName:     cfg.Kube.ClusterName,
		OKImage:         cfg.Sink.Images.OK,
		ProgressImage:   cfg.Sink.Images.Progress,
		WarningImage:    cfg.Sink.Images.Warning,
		ConsoleTemplate: cfg.Sink.Links.Console,
		Region:          cfg.Sink.Links.Region,
		Project:         cfg.Sink.Links.Project,
	}
}

func mapSinkLimits(cfg *Config) (sink.Limits, error) {
	opTimeout, err := parseDurationOrDefault("sink.op_timeout", cfg.Sink.OpTimeout, 10*time.Second)
	if err != nil {
		return sink.Limits{}, err
	}
	if cfg.Sink.RatePerSec < 0 {
		return sink.Limits{}, fmt.Errorf("sink.rate_per_sec must be >= 0")
	}
	if cfg.Sink.Burst < 0 {
		return sink.Limits{}, fmt.Errorf("sink.burst must be >= 0")
	}
	return sink.Limits{
		OpTimeout:  opTimeout,
		RatePerSec: cfg.Sink.RatePerSec,
		Burst:      cfg.Sink.Burst,
	}, nil
}

func mapWatchConfig(cfg *Config) watch.Config {
	return watch.Config{
		Kubeconfig:       cfg.Kube.Kubeconfig,
		IgnoreNamespaces: cfg.Kube.IgnoreNamespaces,
	}
}

func mapDigestConfig(cfg *Config) (digest.Config, error) {
	if cfg.Digest == nil {
		return digest.Config{}, nil
	}
	dc := digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: cfg.Digest.Schedule,
		Timezone: cfg.Digest.Timezone,
	}
	if err := dc.Validate(); err != nil {
		return digest.Config{}, err
	}
	return dc, nil
}

func mapPprofConfig(cfg *Config) (pprof.Config, error) {
	pc := cfg.Pprof
	out := pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 strings.TrimSpace(pc.Addr),
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}
	var err error
	if out.ReadTimeout, err = parseDurationOrDefault("pprof.read_timeout", pc.ReadTimeout, 5*time.Second); err != nil {
		return pprof.Config{}, err
	}
	if out.WriteTimeout, err = parseDurationOrDefault("pprof.write_timeout", pc.WriteTimeout, 0); err != nil {
		return pprof.Config{}, err
	}
	if out.IdleTimeout, err = parseDurationOrDefault("pprof.idle_timeout", pc.IdleTimeout, 60*time.Second); err != nil {
		return pprof.Config{}, err
	}
	return out, nil
}

func mapLogConfig(cfg *Config, chatEnabled bool) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    chatEnabled && cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}
