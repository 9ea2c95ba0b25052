package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kubelookout/internal/digest"
	"kubelookout/internal/eventbus"
	"kubelookout/internal/observability/pprof"
	"kubelookout/internal/rollout"
	"kubelookout/internal/sink"
	"kubelookout/internal/sink/slack"
	"kubelookout/internal/sink/telegram"
	"kubelookout/internal/storage"
	"kubelookout/internal/watch"
	logx "kubelookout/pkg/logx"
)

// sinkDriver is what the app needs from a chat platform driver: the thread
// operations, plain text posting (digest, chat logs) and live limit updates.
type sinkDriver interface {
	sink.Sink
	sink.TextPoster
	Apply(sink.Limits)
	Describe() string
}

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	driver   sinkDriver
	notifier *sink.Notifier

	reg      *rollout.Registry
	disp     *rollout.Dispatcher
	watcher  *watch.Watcher
	recorder *storage.Recorder
	digest   *digest.Service
	pprof    *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Map and validate everything up front so a bad config fails before any
	// connection is opened.
	dispCfg, err := mapDispatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	limits, err := mapSinkLimits(cfg)
	if err != nil {
		return nil, err
	}
	digestCfg, err := mapDigestConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Logging comes up in two phases: chat forwarding stays disabled until
	// the sink driver exists, then the final config is applied. Avoids a
	// false warning about a missing chat sender during boot.
	logSvc, log := logx.New(mapLogConfig(cfg, false))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Journal (optional)
	var store storage.Store
	var retention time.Duration
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		retention = sc.Retention
		log.Info("journal enabled", logx.String("driver", sc.Driver))
	}

	driver, err := newSinkDriver(cfg, limits, log)
	if err != nil {
		return nil, err
	}

	// Chat log forwarding goes through the same driver as notifications.
	logSvc.SetChatSender(driver.PostText)
	logSvc.Apply(mapLogConfig(cfg, true))

	notifier := sink.NewNotifier(driver, mapRenderConfig(cfg))
	reg := rollout.NewRegistry(log.With(logx.String("comp", "registry")))
	disp := rollout.NewDispatcher(dispCfg, reg, notifier, bus,
		log.With(logx.String("comp", "dispatcher")))

	watcher, err := watch.New(mapWatchConfig(cfg), disp, log.With(logx.String("comp", "watch")))
	if err != nil {
		return nil, fmt.Errorf("kube client: %w", err)
	}

	var recorder *storage.Recorder
	var digestSvc *digest.Service
	if store != nil {
		recorder = storage.NewRecorder(store, bus, retention, log.With(logx.String("comp", "journal")))
		digestSvc = digest.New(digestCfg, store, driver, log.With(logx.String("comp", "digest")))
	}

	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))
	pprofSvc.SetStatus(func() any { return reg.Stats() })

	log.Info("sink ready", logx.String("target", driver.Describe()))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		driver:   driver,
		notifier: notifier,
		reg:      reg,
		disp:     disp,
		watcher:  watcher,
		recorder: recorder,
		digest:   digestSvc,
		pprof:    pprofSvc,
	}, nil
}

func newSinkDriver(cfg *Config, limits sink.Limits, log logx.Logger) (sinkDriver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink.Driver)) {
	case "slack":
		if cfg.Sink.Slack == nil {
			return nil, fmt.Errorf("sink.driver=slack but sink.slack is missing")
		}
		return slack.New(slack.Config{
			Token:     cfg.Sink.Slack.ResolveToken(),
			Channel:   cfg.Sink.Slack.Channel,
			IconEmoji: cfg.Sink.Slack.IconEmoji,
			Limits:    limits,
		}, log.With(logx.String("comp", "slack")))
	case "telegram":
		if cfg.Sink.Telegram == nil {
			return nil, fmt.Errorf("sink.driver=telegram but sink.telegram is missing")
		}
		return telegram.New(telegram.Config{
			Token:  cfg.Sink.Telegram.ResolveToken(),
			ChatID: cfg.Sink.Telegram.ChatID,
			TopicID: cfg.Sink.Telegram.TopicID,
			Limits: limits,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown sink.driver: %q (want slack or telegram)", cfg.Sink.Driver)
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapDispatcherConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSinkLimits(cfg); err != nil {
			return err
		}
		if _, err := mapDigestConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		switch d := strings.ToLower(strings.TrimSpace(cfg.Sink.Driver)); d {
		case "slack":
			if cfg.Sink.Slack == nil {
				return fmt.Errorf("sink.driver=slack but sink.slack is missing")
			}
		case "telegram":
			if cfg.Sink.Telegram == nil {
				return fmt.Errorf("sink.driver=telegram but sink.telegram is missing")
			}
		default:
			return fmt.Errorf("unknown sink.driver: %q", cfg.Sink.Driver)
		}
		return nil
	})

	a.disp.Start(a.sup.Context())

	// The watcher loops and resumes internally; GoRestart is the backstop
	// for a crash outside its own retry path.
	a.sup.GoRestart("kube.watch", a.watcher.Run)

	if a.recorder != nil {
		a.sup.Go("journal.recorder", a.recorder.Run)
	}
	if a.digest != nil {
		a.digest.Start(a.sup.Context())
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Debug visibility into the rollout event stream.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				a.applyConfig(c, lastApplied, newCfg, sections, attrs)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the running components. Knobs
// that cannot change live (kube connection, sink driver, storage driver) get
// a restart-required warning instead.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config, sections []string, attrs []logx.Field) {
	for _, s := range sections {
		switch s {
		case "kube", "storage":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}
	if oldCfg != nil && !strings.EqualFold(oldCfg.Sink.Driver, newCfg.Sink.Driver) {
		a.log.Warn("sink.driver changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg, true))

	if dc, err := mapDispatcherConfig(newCfg); err != nil {
		a.log.Warn("invalid thread config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}

	a.notifier.Apply(mapRenderConfig(newCfg))

	if limits, err := mapSinkLimits(newCfg); err != nil {
		a.log.Warn("invalid sink limits; keeping previous", logx.Err(err))
	} else {
		a.driver.Apply(limits)
	}

	if a.digest != nil {
		if dc, err := mapDigestConfig(newCfg); err != nil {
			a.log.Warn("invalid digest config; keeping previous", logx.Err(err))
		} else {
			a.digest.Apply(ctx, dc)
		}
	}

	if a.recorder != nil {
		if sc, enabled, err := mapStorageConfig(newCfg); err == nil && enabled {
			a.recorder.SetRetention(sc.Retention)
		}
	}

	if ppc, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so the watcher and reload loops unwind
	// while the components below drain.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("digest", 2*time.Second, func(c context.Context) error {
		if a.digest != nil {
			a.digest.Stop(c)
		}
		return nil
	})
	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	// Dispatcher last among the chat users: it may still be draining sink ops.
	step("dispatcher", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (watcher, recorder, config watch/reload).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
