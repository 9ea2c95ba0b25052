package rollout

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"kubelookout/internal/eventbus"
	rtsup "kubelookout/internal/runtime/supervisor"
	logx "kubelookout/pkg/logx"
)

// Notification is what the dispatcher hands to the sink for one chat
// operation: the thread handle plus everything needed to render the message.
type Notification struct {
	Snapshot Snapshot
	Phase    Phase
	Outcome  Outcome
	Thread   ThreadRef
}

// Notifier is the outbound chat surface. Implementations bound each call
// themselves (rate limit + per-call timeout); the dispatcher makes exactly
// one attempt and never retries.
type Notifier interface {
	CreateThread(ctx context.Context, n Notification) (ThreadRef, error)
	UpdateThread(ctx context.Context, n Notification) error
	PromoteThread(ctx context.Context, n Notification) error
}

// DispatcherConfig tunes the pipeline. Refresh, Timeout, Tick and
// MinReadyRatio are hot-reloadable via Apply; Shards and QueueSize are fixed
// at Start.
type DispatcherConfig struct {
	Refresh time.Duration
	Timeout time.Duration
	// Tick is the sweep cadence for timer checks on quiet deployments.
	Tick time.Duration

	MinReadyRatio float64

	Shards    int
	QueueSize int
}

func (c *DispatcherConfig) withDefaults() DispatcherConfig {
	out := *c
	if out.Tick <= 0 {
		out.Tick = 10 * time.Second
	}
	if out.Shards <= 0 {
		out.Shards = 4
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	return out
}

// Validate enforces 0 < Refresh < Timeout.
func (c DispatcherConfig) Validate() error {
	if c.Refresh <= 0 {
		return errors.New("thread.refresh must be > 0")
	}
	if c.Timeout <= c.Refresh {
		return errors.New("thread.timeout must be greater than thread.refresh")
	}
	return nil
}

type task struct {
	id   Identity
	snap *Snapshot // nil for sweep ticks and deletes
	del  bool
}

// Dispatcher consumes the snapshot stream and drives the whole pipeline:
// classification, registry lookup, thread transitions, sink operations.
//
// Identities hash onto a fixed set of shard queues; each shard is a single
// goroutine, so two events for the same deployment can never race. The
// per-shard previous-snapshot cache is owned by its shard goroutine and
// needs no lock.
type Dispatcher struct {
	mu  sync.Mutex
	cfg DispatcherConfig
	cls Classifier

	reg      *Registry
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger

	shards  []chan task
	sup     *rtsup.Supervisor
	started bool

	now func() time.Time

	dropped uint64
}

func NewDispatcher(cfg DispatcherConfig, reg *Registry, notifier Notifier, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		cls:      Classifier{MinReadyRatio: cfg.MinReadyRatio},
		reg:      reg,
		notifier: notifier,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the dispatcher's time source. Test hook.
func (d *Dispatcher) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Apply swaps the hot-reloadable knobs. Shard layout is fixed at Start;
// queue geometry changes are ignored after that.
func (d *Dispatcher) Apply(cfg DispatcherConfig) {
	d.mu.Lock()
	fixed := d.started
	next := cfg.withDefaults()
	if fixed {
		next.Shards = d.cfg.Shards
		next.QueueSize = d.cfg.QueueSize
	}
	d.cfg = next
	d.cls = Classifier{MinReadyRatio: cfg.MinReadyRatio}
	d.mu.Unlock()
}

func (d *Dispatcher) snapshotCfg() (DispatcherConfig, Classifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.cls
}

// Start launches the shard workers and the sweep loop. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	cfg := d.cfg
	d.shards = make([]chan task, cfg.Shards)
	for i := range d.shards {
		d.shards[i] = make(chan task, cfg.QueueSize)
	}
	d.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log),
		// A crashed shard must come back; losing one never kills the app.
		rtsup.WithCancelOnError(false),
	)
	sup := d.sup
	shards := d.shards
	d.mu.Unlock()

	for i, q := range shards {
		name := shardName(i)
		queue := q
		sup.GoRestart(name, func(c context.Context) error {
			d.shardLoop(c, queue)
			if c.Err() != nil {
				return context.Canceled
			}
			return errors.New("shard loop exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	sup.GoRestart("sweep", func(c context.Context) error {
		d.sweepLoop(c)
		if c.Err() != nil {
			return context.Canceled
		}
		return errors.New("sweep loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))
}

// Stop cancels the workers and waits for them up to ctx's deadline. Queued
// tasks are discarded; a restart re-derives everything from the next events.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	sup := d.sup
	d.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

// OnEvent is the single inbound entry point. It never blocks: when the
// owning shard's queue is full the event is dropped with a warning, and the
// next event for that identity re-derives the correct state.
func (d *Dispatcher) OnEvent(snap Snapshot) {
	d.enqueue(task{id: snap.Identity, snap: &snap})
}

// OnDelete drops the identity's thread and cache entry when the deployment
// itself is deleted from the cluster. Cleanup runs on the owning shard so
// cache mutation stays single-threaded.
func (d *Dispatcher) OnDelete(id Identity) {
	d.enqueue(task{id: id, del: true})
}

func (d *Dispatcher) enqueue(t task) {
	d.mu.Lock()
	shards := d.shards
	d.mu.Unlock()
	if len(shards) == 0 {
		return
	}
	q := shards[shardIndex(t.id, len(shards))]
	select {
	case q <- t:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		d.log.Warn("event dropped (shard queue full)",
			logx.String("identity", t.id.String()),
			logx.Uint64("dropped_total", n),
		)
	}
}

func shardIndex(id Identity, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Namespace))
	_, _ = h.Write([]byte{'/'})
	_, _ = h.Write([]byte(id.Name))
	return int(h.Sum32() % uint32(n))
}

func shardName(i int) string {
	return "shard." + strconv.Itoa(i)
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	for {
		cfg, _ := d.snapshotCfg()
		t := time.NewTimer(cfg.Tick)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		for _, id := range d.reg.Identities() {
			d.enqueue(task{id: id})
		}
	}
}

func (d *Dispatcher) shardLoop(ctx context.Context, q <-chan task) {
	// prev is the most-recent-only snapshot cache for identities owned by
	// this shard. Exclusively owned here.
	prev := map[Identity]*Snapshot{}
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			if t.del {
				delete(prev, t.id)
				d.reg.Remove(t.id)
				continue
			}
			if t.snap == nil {
				d.handleTick(ctx, t.id, prev)
				continue
			}
			d.handleEvent(ctx, *t.snap, prev)
		}
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, snap Snapshot, prev map[Identity]*Snapshot) {
	cfg, cls := d.snapshotCfg()
	now := d.now()
	id := snap.Identity

	phase, transition, err := cls.Classify(prev[id], snap)
	if err != nil {
		// Malformed snapshot: drop the event, leave the cache and every
		// thread untouched.
		d.log.Warn("snapshot rejected", logx.Err(err))
		return
	}
	prev[id] = &snap

	t := d.reg.Get(id)
	if t == nil {
		if phase == PhaseHealthy {
			// Nothing to report: a healthy first observation is startup
			// noise, and a healthy deployment with no open thread is the
			// steady state. transition is true only in the former case and
			// changes nothing here.
			_ = transition
			return
		}
		created := false
		t, created = d.reg.FindOrCreate(id, phase, now)
		if t == nil {
			return
		}
		if created {
			d.create(ctx, t, snap)
			return
		}
		// Lost a creation race; fall through to the winner's thread.
	}
	d.apply(ctx, t, snap, t.Advance(phase, now, cfg.Refresh, cfg.Timeout))
}

func (d *Dispatcher) handleTick(ctx context.Context, id Identity, prev map[Identity]*Snapshot) {
	cfg, _ := d.snapshotCfg()
	t := d.reg.Get(id)
	if t == nil {
		return
	}
	snap := prev[id]
	if snap == nil {
		// Thread created on another shard generation (restart); render from
		// an identity-only snapshot rather than skipping the timer checks.
		snap = &Snapshot{Identity: id}
	}
	d.apply(ctx, t, *snap, t.Tick(d.now(), cfg.Refresh, cfg.Timeout))
}

func (d *Dispatcher) create(ctx context.Context, t *Thread, snap Snapshot) {
	n := Notification{Snapshot: snap, Phase: t.Phase}
	ref, err := d.notifier.CreateThread(ctx, n)
	if err != nil {
		d.sinkFailed(t, OpCreate, err)
	} else {
		t.Handle = ref
	}
	d.publish(EventStarted, t, snap, Step{Op: OpCreate}, "")
	d.log.Info("rollout thread opened",
		logx.String("identity", t.Identity.String()),
		logx.String("phase", string(t.Phase)),
		logx.String("image_tag", snap.ImageTag),
	)
}

// apply executes at most one sink operation for an already-advanced thread.
func (d *Dispatcher) apply(ctx context.Context, t *Thread, snap Snapshot, step Step) {
	if step.Op != OpNone {
		n := Notification{Snapshot: snap, Phase: t.Phase, Outcome: step.Outcome, Thread: t.Handle}
		var err error
		op := step.Op
		switch {
		case t.Handle.IsZero():
			// The original create never landed; a fresh create is the only
			// way this conversation can self-correct.
			var ref ThreadRef
			ref, err = d.notifier.CreateThread(ctx, n)
			if err == nil {
				t.Handle = ref
			}
			op = OpCreate
		case step.Op == OpPromote:
			err = d.notifier.PromoteThread(ctx, n)
		default:
			err = d.notifier.UpdateThread(ctx, n)
		}
		if err != nil {
			// State is already advanced and stays that way; the next
			// successful operation repaints the conversation.
			d.sinkFailed(t, op, err)
		}
	}

	switch {
	case t.State == StateResolved:
		d.publish(EventResolved, t, snap, step, "")
		d.log.Info("rollout succeeded", logx.String("identity", t.Identity.String()))
	case t.State == StateExpired:
		d.publish(EventExpired, t, snap, step, "")
		d.log.Warn("rollout abandoned (thread timeout)", logx.String("identity", t.Identity.String()))
	case step.Op == OpPromote:
		d.publish(EventPromoted, t, snap, step, "")
	case step.Op != OpNone:
		d.publish(EventPhase, t, snap, step, "")
	}

	if step.Remove {
		d.reg.Remove(t.Identity)
	}
}

func (d *Dispatcher) sinkFailed(t *Thread, op OpKind, err error) {
	derr := &SinkDeliveryError{Identity: t.Identity, Op: op, Err: err}
	d.log.Error("chat delivery failed", logx.Err(derr))
	d.publish(EventSinkErr, t, Snapshot{Identity: t.Identity}, Step{Op: op}, derr.Error())
}

func (d *Dispatcher) publish(typ string, t *Thread, snap Snapshot, step Step, errStr string) {
	if d.bus == nil {
		return
	}
	now := d.now()
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ThreadEvent{
		Identity: t.Identity,
		Phase:    t.Phase,
		State:    t.State,
		Outcome:  step.Outcome,
		Op:       step.Op,
		ImageTag: snap.ImageTag,
		Error:    errStr,
		At:       now,
	}})
}
