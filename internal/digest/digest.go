// Package digest posts a periodic rollout summary built from the history
// journal. It is optional and requires storage to be enabled.
package digest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"kubelookout/internal/sink"
	"kubelookout/internal/storage"
	logx "kubelookout/pkg/logx"
)

const window = 24 * time.Hour

type Config struct {
	Enabled  bool
	Schedule string // cron spec; default "0 9 * * *"
	Timezone string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = "0 9 * * *"
	}
	return c
}

// Validate checks the schedule and timezone without starting anything.
func (c Config) Validate() error {
	c = c.withDefaults()
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("digest.schedule: %w", err)
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

type Service struct {
	mu    sync.Mutex
	cfg   Config
	cr    *cron.Cron
	store storage.Store
	post  sink.TextPoster
	log   logx.Logger
}

func New(cfg Config, store storage.Store, post sink.TextPoster, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), store: store, post: post, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.store != nil && s.post != nil
}

// Start schedules the digest job. Idempotent; no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cr != nil || !s.cfg.Enabled || s.store == nil || s.post == nil {
		return
	}
	s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	cr := cron.New(cron.WithLocation(loc))
	_, err := cr.AddFunc(s.cfg.Schedule, func() { s.runOnce(ctx) })
	if err != nil {
		s.log.Warn("digest schedule rejected", logx.String("spec", s.cfg.Schedule), logx.Err(err))
		return
	}
	cr.Start()
	s.cr = cr
	s.log.Info("digest scheduled", logx.String("spec", s.cfg.Schedule))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cr := s.cr
	s.cr = nil
	s.mu.Unlock()
	if cr == nil {
		return
	}
	done := cr.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Apply swaps the schedule, restarting the cron entry when it changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.cr != nil
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev.Schedule != cfg.Schedule || prev.Timezone != cfg.Timezone) {
		s.Stop(ctx)
		running = false
	}
	if !running && cfg.Enabled {
		s.Start(ctx)
	}
}

func (s *Service) runOnce(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	recs, err := s.store.RecentRollouts(qctx, time.Now().Add(-window), 0)
	if err != nil {
		s.log.Warn("digest query failed", logx.Err(err))
		return
	}
	if err := s.post.PostText(qctx, Summarize(recs)); err != nil {
		s.log.Warn("digest post failed", logx.Err(err))
	}
}

// Summarize formats the last day's rollouts as one chat message.
func Summarize(recs []storage.RolloutRecord) string {
	if len(recs) == 0 {
		return "Rollout digest: no rollouts finished in the last 24h."
	}

	succeeded, failed := 0, 0
	for _, r := range recs {
		if r.Outcome == "failed" {
			failed++
		} else {
			succeeded++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rollout digest (last 24h): %d finished, %d succeeded, %d failed.\n",
		len(recs), succeeded, failed)

	if failed > 0 {
		b.WriteString("Failed:\n")
		for _, r := range recs {
			if r.Outcome == "failed" {
				fmt.Fprintf(&b, "  - %s/%s (%s)\n", r.Namespace, r.Name, r.ImageTag)
			}
		}
	}

	slowest := append([]storage.RolloutRecord(nil), recs...)
	sort.Slice(slowest, func(i, j int) bool { return slowest[i].TookMS > slowest[j].TookMS })
	n := 3
	if len(slowest) < n {
		n = len(slowest)
	}
	b.WriteString("Slowest:\n")
	for _, r := range slowest[:n] {
		fmt.Fprintf(&b, "  - %s/%s took %s\n", r.Namespace, r.Name,
			(time.Duration(r.TookMS) * time.Millisecond).Round(time.Second))
	}
	return strings.TrimRight(b.String(), "\n")
}
