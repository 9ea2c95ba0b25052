package rollout

import (
	"testing"
	"time"
)

const (
	testRefresh = 45 * time.Second
	testTimeout = 10 * time.Minute
)

func TestThreadAdvancePrecedence(t *testing.T) {
	t.Parallel()
	start := time.Unix(1700000000, 0)
	id := Identity{Namespace: "prod", Name: "api"}

	t.Run("timeout wins over healthy", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseHealthy, start.Add(testTimeout), testRefresh, testTimeout)
		if step.Op != OpUpdate || step.Outcome != OutcomeFailed || !step.Remove {
			t.Fatalf("unexpected step: %+v", step)
		}
		if th.State != StateExpired {
			t.Fatalf("state = %s, want expired", th.State)
		}
	})

	t.Run("healthy resolves before refresh promotion", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseHealthy, start.Add(testRefresh), testRefresh, testTimeout)
		if step.Op != OpUpdate || step.Outcome != OutcomeSucceeded || !step.Remove {
			t.Fatalf("unexpected step: %+v", step)
		}
		if th.State != StateResolved {
			t.Fatalf("state = %s, want resolved", th.State)
		}
	})

	t.Run("refresh promotes once", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseProgressing, start.Add(testRefresh), testRefresh, testTimeout)
		if step.Op != OpPromote {
			t.Fatalf("first refresh: op = %s, want promote", step.Op)
		}
		if th.State != StatePromoted {
			t.Fatalf("state = %s, want promoted", th.State)
		}
		// Still past the refresh age, already promoted: nothing more.
		step = th.Advance(PhaseProgressing, start.Add(2*testRefresh), testRefresh, testTimeout)
		if step.Op != OpNone {
			t.Fatalf("second refresh: op = %s, want none", step.Op)
		}
	})

	t.Run("promotion carries the new phase without an extra update", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseDegraded, start.Add(testRefresh), testRefresh, testTimeout)
		if step.Op != OpPromote {
			t.Fatalf("op = %s, want promote", step.Op)
		}
		if th.Phase != PhaseDegraded {
			t.Fatalf("phase = %s, want degraded", th.Phase)
		}
		// The phase change already went out with the promotion.
		step = th.Advance(PhaseDegraded, start.Add(testRefresh+time.Second), testRefresh, testTimeout)
		if step.Op != OpNone {
			t.Fatalf("op = %s, want none", step.Op)
		}
	})

	t.Run("phase change updates in place", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseDegraded, start.Add(time.Second), testRefresh, testTimeout)
		if step.Op != OpUpdate || step.Outcome != OutcomeNone || step.Remove {
			t.Fatalf("unexpected step: %+v", step)
		}
		if th.Phase != PhaseDegraded || th.State != StateActive {
			t.Fatalf("thread = %s/%s, want active/degraded", th.State, th.Phase)
		}
	})

	t.Run("same phase is a no-op", func(t *testing.T) {
		th := newThread(id, PhaseProgressing, start)
		step := th.Advance(PhaseProgressing, start.Add(time.Second), testRefresh, testTimeout)
		if step != (Step{}) {
			t.Fatalf("unexpected step: %+v", step)
		}
	})
}

func TestThreadTerminalIsInert(t *testing.T) {
	t.Parallel()
	start := time.Unix(1700000000, 0)
	th := newThread(Identity{Namespace: "prod", Name: "api"}, PhaseProgressing, start)

	th.Advance(PhaseHealthy, start.Add(time.Second), testRefresh, testTimeout)
	if !th.Terminal() {
		t.Fatal("resolved thread must be terminal")
	}

	// Replayed events and ticks change nothing.
	if step := th.Advance(PhaseDegraded, start.Add(testTimeout), testRefresh, testTimeout); step != (Step{}) {
		t.Fatalf("advance on terminal thread: %+v", step)
	}
	if step := th.Tick(start.Add(testTimeout), testRefresh, testTimeout); step != (Step{}) {
		t.Fatalf("tick on terminal thread: %+v", step)
	}
	if th.State != StateResolved {
		t.Fatalf("state = %s, want resolved", th.State)
	}
}

func TestThreadTickExpiresPromotedThread(t *testing.T) {
	t.Parallel()
	start := time.Unix(1700000000, 0)
	th := newThread(Identity{Namespace: "prod", Name: "api"}, PhaseDegraded, start)

	if step := th.Tick(start.Add(testRefresh), testRefresh, testTimeout); step.Op != OpPromote {
		t.Fatalf("op = %s, want promote", step.Op)
	}
	step := th.Tick(start.Add(testTimeout), testRefresh, testTimeout)
	if step.Op != OpUpdate || step.Outcome != OutcomeFailed || !step.Remove {
		t.Fatalf("unexpected step: %+v", step)
	}
	if !th.Expired() {
		t.Fatal("thread must be expired")
	}
}

func TestValidateTransition(t *testing.T) {
	t.Parallel()
	ok := [][2]State{
		{StateActive, StatePromoted},
		{StateActive, StateResolved},
		{StateActive, StateExpired},
		{StatePromoted, StateResolved},
		{StatePromoted, StateExpired},
	}
	for _, tr := range ok {
		if err := ValidateTransition(tr[0], tr[1]); err != nil {
			t.Fatalf("%s -> %s: %v", tr[0], tr[1], err)
		}
	}
	bad := [][2]State{
		{StatePromoted, StateActive},
		{StateResolved, StateActive},
		{StateExpired, StatePromoted},
		{StateResolved, StateExpired},
	}
	for _, tr := range bad {
		if err := ValidateTransition(tr[0], tr[1]); err == nil {
			t.Fatalf("%s -> %s: expected error", tr[0], tr[1])
		}
	}
}
