package sink

import (
	"context"
	"testing"
	"time"
)

func TestLimitsDefaults(t *testing.T) {
	t.Parallel()
	l := Limits{}.withDefaults()
	if l.OpTimeout != 10*time.Second || l.RatePerSec != 1 || l.Burst != 1 {
		t.Fatalf("defaults = %+v", l)
	}
	l = Limits{RatePerSec: 5}.withDefaults()
	if l.Burst != 5 {
		t.Fatalf("burst must default to the rate, got %d", l.Burst)
	}
}

func TestLimiterBegin(t *testing.T) {
	t.Parallel()
	lm := NewLimiter(Limits{OpTimeout: time.Second, RatePerSec: 100, Burst: 100})

	ctx, cancel, err := lm.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("Begin must return a bounded context")
	}
}

func TestLimiterBeginFailsUnderPressure(t *testing.T) {
	t.Parallel()
	// One token, then a wait longer than the op deadline.
	lm := NewLimiter(Limits{OpTimeout: 20 * time.Millisecond, RatePerSec: 1, Burst: 1})

	_, cancel, err := lm.Begin(context.Background())
	if err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	cancel()

	if _, _, err := lm.Begin(context.Background()); err == nil {
		t.Fatal("second Begin must fail once the deadline can't cover the wait")
	}
}
