package config

import (
	"reflect"
	"strings"

	logx "kubelookout/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if strings.TrimSpace(oldCfg.Kube.Kubeconfig) != strings.TrimSpace(newCfg.Kube.Kubeconfig) ||
		!reflect.DeepEqual(oldCfg.Kube.IgnoreNamespaces, newCfg.Kube.IgnoreNamespaces) ||
		strings.TrimSpace(oldCfg.Kube.ClusterName) != strings.TrimSpace(newCfg.Kube.ClusterName) {
		changed = append(changed, "kube")
		attrs = append(attrs,
			logx.String("kube.cluster", strings.TrimSpace(newCfg.Kube.ClusterName)),
			logx.Int("kube.ignored_namespaces", len(newCfg.Kube.IgnoreNamespaces)),
		)
	}

	if oldCfg.Thread != newCfg.Thread {
		changed = append(changed, "thread")
		attrs = append(attrs,
			logx.String("thread.refresh", strings.TrimSpace(newCfg.Thread.Refresh)),
			logx.String("thread.timeout", strings.TrimSpace(newCfg.Thread.Timeout)),
			logx.String("thread.tick", strings.TrimSpace(newCfg.Thread.Tick)),
		)
	}

	if oldCfg.Classify != newCfg.Classify {
		changed = append(changed, "classify")
		attrs = append(attrs, logx.Float64("classify.min_ready_ratio", newCfg.Classify.MinReadyRatio))
	}

	// Sink (never log tokens)
	if sinkChanged(oldCfg.Sink, newCfg.Sink) {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.String("sink.driver", strings.TrimSpace(newCfg.Sink.Driver)),
			logx.String("sink.op_timeout", strings.TrimSpace(newCfg.Sink.OpTimeout)),
			logx.Int("sink.rate_per_sec", newCfg.Sink.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// Pprof (never log token)
	if pprofChanged(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
		}
	}

	if !reflect.DeepEqual(oldCfg.Digest, newCfg.Digest) {
		changed = append(changed, "digest")
		if newCfg.Digest != nil {
			attrs = append(attrs,
				logx.Bool("digest.enabled", newCfg.Digest.Enabled),
				logx.String("digest.schedule", strings.TrimSpace(newCfg.Digest.Schedule)),
			)
		}
	}

	return changed, attrs
}

func sinkChanged(a, b SinkConfig) bool {
	if strings.TrimSpace(a.Driver) != strings.TrimSpace(b.Driver) ||
		strings.TrimSpace(a.OpTimeout) != strings.TrimSpace(b.OpTimeout) ||
		a.RatePerSec != b.RatePerSec || a.Burst != b.Burst ||
		a.Images != b.Images || a.Links != b.Links {
		return true
	}
	// Compare targets without leaking secrets: presence of a token counts,
	// its value doesn't (a rotated token doesn't change behavior).
	as, bs := a.Slack, b.Slack
	if (as == nil) != (bs == nil) {
		return true
	}
	if as != nil && (as.Channel != bs.Channel || as.IconEmoji != bs.IconEmoji || (as.Token != "") != (bs.Token != "")) {
		return true
	}
	at, bt := a.Telegram, b.Telegram
	if (at == nil) != (bt == nil) {
		return true
	}
	if at != nil && (at.ChatID != bt.ChatID || at.TopicID != bt.TopicID || (at.Token != "") != (bt.Token != "")) {
		return true
	}
	return false
}

func pprofChanged(a, b PprofConfig) bool {
	return a.Enabled != b.Enabled ||
		strings.TrimSpace(a.Addr) != strings.TrimSpace(b.Addr) ||
		strings.TrimSpace(a.Prefix) != strings.TrimSpace(b.Prefix) ||
		a.AllowInsecure != b.AllowInsecure ||
		strings.TrimSpace(a.ReadTimeout) != strings.TrimSpace(b.ReadTimeout) ||
		strings.TrimSpace(a.WriteTimeout) != strings.TrimSpace(b.WriteTimeout) ||
		strings.TrimSpace(a.IdleTimeout) != strings.TrimSpace(b.IdleTimeout) ||
		a.MutexProfileFraction != b.MutexProfileFraction ||
		a.BlockProfileRate != b.BlockProfileRate ||
		a.MemProfileRate != b.MemProfileRate ||
		(strings.TrimSpace(a.Token) != "") != (strings.TrimSpace(b.Token) != "")
}
