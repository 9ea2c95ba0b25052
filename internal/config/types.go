package config

import "os"

type Config struct {
	Kube     KubeConfig     `json:"kube"`
	Thread   ThreadConfig   `json:"thread"`
	Classify ClassifyConfig `json:"classify,omitempty"`
	Sink     SinkConfig     `json:"sink"`
	Logging  LoggingConfig  `json:"logging"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Digest  *DigestConfig  `json:"digest,omitempty"`
}

// KubeConfig selects the cluster connection and which namespaces to report on.
//
// Kubeconfig is only consulted when the process runs outside a cluster; in a
// pod the in-cluster service account wins.
type KubeConfig struct {
	Kubeconfig       string   `json:"kubeconfig,omitempty"`
	IgnoreNamespaces []string `json:"ignore_namespaces,omitempty"`
	ClusterName      string   `json:"cluster_name,omitempty"`
}

// ThreadConfig controls thread promotion and expiry.
//
// All durations are Go duration strings (e.g. "45s", "10m").
// Refresh must be > 0 and strictly less than Timeout.
type ThreadConfig struct {
	Refresh string `json:"refresh"`
	Timeout string `json:"timeout"`
	// Tick is the sweep cadence for the timer checks. Default "10s".
	Tick string `json:"tick,omitempty"`
}

// ClassifyConfig tunes the phase boundary.
//
// MinReadyRatio is the fraction of desired replicas that must be ready for a
// deployment with no rollout in flight to count as healthy. Default 1.0.
type ClassifyConfig struct {
	MinReadyRatio float64 `json:"min_ready_ratio,omitempty"`
}

// SinkConfig selects and tunes the chat platform.
//
// Driver is "slack" or "telegram". Changing the driver requires a restart;
// the remaining knobs are hot-reloadable.
type SinkConfig struct {
	Driver string `json:"driver"`

	// OpTimeout bounds every single chat call (Go duration string, default "10s").
	OpTimeout string `json:"op_timeout,omitempty"`
	// RatePerSec/Burst feed the client-side rate limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`

	Slack    *SlackConfig    `json:"slack,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	Images ImagesConfig `json:"images,omitempty"`
	Links  LinksConfig  `json:"links,omitempty"`
}

type SlackConfig struct {
	// Token may be left empty in the file; the SLACK_TOKEN environment
	// variable is the usual place for it.
	Token     string `json:"token,omitempty"`
	Channel   string `json:"channel"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// ResolveToken returns the configured token or the SLACK_TOKEN env fallback.
func (s *SlackConfig) ResolveToken() string {
	if s != nil && s.Token != "" {
		return s.Token
	}
	return os.Getenv("SLACK_TOKEN")
}

type TelegramConfig struct {
	// Token may be left empty in the file; the TELEGRAM_TOKEN environment
	// variable is the usual place for it.
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id"`
	// TopicID targets a forum topic (0 = plain chat).
	TopicID int `json:"topic_id,omitempty"`
}

// ResolveToken returns the configured token or the TELEGRAM_TOKEN env fallback.
func (t *TelegramConfig) ResolveToken() string {
	if t != nil && t.Token != "" {
		return t.Token
	}
	return os.Getenv("TELEGRAM_TOKEN")
}

// ImagesConfig sets the accessory image shown next to a thread message,
// keyed by the reported phase.
type ImagesConfig struct {
	OK       string `json:"ok,omitempty"`
	Progress string `json:"progress,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// LinksConfig templates per-container console deep links.
//
// Console accepts {cluster}, {region}, {project}, {namespace} and {name}
// placeholders. Empty disables link rendering.
type LinksConfig struct {
	Console string `json:"console,omitempty"`
	Region  string `json:"region,omitempty"`
	Project string `json:"project,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ records into the notification channel itself,
// rate-limited so a flapping cluster can't flood the chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional rollout history journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./lookout_history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention prunes journal rows older than this (Go duration string,
	// default "720h"). Zero keeps everything.
	Retention string `json:"retention,omitempty"`
}

// DigestConfig posts a periodic rollout summary built from the journal.
// Requires storage to be enabled.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"`
}

// PprofConfig controls the optional debug HTTP server (pprof + statusz).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
