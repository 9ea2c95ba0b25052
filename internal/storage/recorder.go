package storage

import (
	"context"
	"sync"
	"time"

	"kubelookout/internal/eventbus"
	"kubelookout/internal/rollout"
	logx "kubelookout/pkg/logx"
)

// Recorder subscribes to the rollout bus and journals finished rollouts.
// It carries a small in-memory view of open rollouts (start time, promotion)
// and writes exactly one record when a thread resolves or expires.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	mu        sync.Mutex
	open      map[rollout.Identity]openRollout
	retention time.Duration
}

type openRollout struct {
	startedAt time.Time
	imageTag  string
	promoted  bool
}

func NewRecorder(store Store, bus eventbus.Bus, retention time.Duration, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		store:     store,
		bus:       bus,
		log:       log,
		open:      map[rollout.Identity]openRollout{},
		retention: retention,
	}
}

// SetRetention swaps the prune window. Hot-reloadable.
func (r *Recorder) SetRetention(d time.Duration) {
	r.mu.Lock()
	r.retention = d
	r.mu.Unlock()
}

// Run consumes bus events until ctx is canceled. Meant to run under the
// app supervisor.
func (r *Recorder) Run(ctx context.Context) error {
	events, unsub := r.bus.Subscribe(256)
	defer unsub()

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-prune.C:
			r.pruneOnce(ctx)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			te, ok := e.Data.(rollout.ThreadEvent)
			if !ok {
				continue
			}
			r.handle(ctx, e.Type, te)
		}
	}
}

func (r *Recorder) handle(ctx context.Context, typ string, te rollout.ThreadEvent) {
	switch typ {
	case rollout.EventStarted:
		r.mu.Lock()
		r.open[te.Identity] = openRollout{startedAt: te.At, imageTag: te.ImageTag}
		r.mu.Unlock()

	case rollout.EventPromoted:
		r.mu.Lock()
		if o, ok := r.open[te.Identity]; ok {
			o.promoted = true
			r.open[te.Identity] = o
		}
		r.mu.Unlock()

	case rollout.EventResolved, rollout.EventExpired:
		r.mu.Lock()
		o, ok := r.open[te.Identity]
		delete(r.open, te.Identity)
		r.mu.Unlock()
		if !ok {
			// Thread predates this recorder (restart mid-rollout); journal
			// it with a zero duration rather than dropping the outcome.
			o = openRollout{startedAt: te.At, imageTag: te.ImageTag}
		}

		outcome := string(rollout.OutcomeSucceeded)
		if typ == rollout.EventExpired {
			outcome = string(rollout.OutcomeFailed)
		}
		rec := RolloutRecord{
			Namespace: te.Identity.Namespace,
			Name:      te.Identity.Name,
			ImageTag:  o.imageTag,
			Outcome:   outcome,
			Promoted:  o.promoted,
			StartedAt: o.startedAt,
			EndedAt:   te.At,
			TookMS:    te.At.Sub(o.startedAt).Milliseconds(),
		}
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := r.store.AppendRollout(wctx, rec)
		cancel()
		if err != nil {
			r.log.Warn("journal write failed",
				logx.String("identity", te.Identity.String()),
				logx.Err(err),
			)
		}
	}
}

func (r *Recorder) pruneOnce(ctx context.Context) {
	r.mu.Lock()
	ret := r.retention
	r.mu.Unlock()
	if ret <= 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.Prune(pctx, time.Now().Add(-ret)); err != nil {
		r.log.Debug("journal prune failed", logx.Err(err))
	}
}
