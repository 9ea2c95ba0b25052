package sink

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits is the shared delivery discipline for every driver: a client-side
// token bucket plus a hard per-call deadline. Rate pressure that outlasts
// the deadline surfaces as an error instead of a stuck caller.
type Limits struct {
	OpTimeout  time.Duration
	RatePerSec int
	Burst      int
}

func (l Limits) withDefaults() Limits {
	if l.OpTimeout <= 0 {
		l.OpTimeout = 10 * time.Second
	}
	if l.RatePerSec <= 0 {
		l.RatePerSec = 1
	}
	if l.Burst <= 0 {
		l.Burst = l.RatePerSec
	}
	return l
}

// Limiter enforces Limits. Hot-swappable via Apply.
type Limiter struct {
	mu        sync.Mutex
	lim       *rate.Limiter
	opTimeout time.Duration
}

func NewLimiter(l Limits) *Limiter {
	lm := &Limiter{}
	lm.Apply(l)
	return lm
}

func (lm *Limiter) Apply(l Limits) {
	l = l.withDefaults()
	lm.mu.Lock()
	lm.lim = rate.NewLimiter(rate.Limit(l.RatePerSec), l.Burst)
	lm.opTimeout = l.OpTimeout
	lm.mu.Unlock()
}

// Begin waits for a rate token under the op deadline and returns the bounded
// context for the platform call. The caller must invoke cancel.
func (lm *Limiter) Begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	lm.mu.Lock()
	lim := lm.lim
	d := lm.opTimeout
	lm.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	if err := lim.Wait(cctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return cctx, cancel, nil
}
