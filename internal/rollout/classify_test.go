package rollout

import (
	"errors"
	"testing"
	"time"
)

func snap(ns, name string, desired, ready, updated int32) Snapshot {
	return Snapshot{
		Identity:   Identity{Namespace: ns, Name: name},
		Desired:    desired,
		Ready:      ready,
		Updated:    updated,
		ObservedAt: time.Unix(1700000000, 0),
	}
}

func TestClassifyPhases(t *testing.T) {
	t.Parallel()
	var c Classifier

	tests := []struct {
		name string
		prev *Snapshot
		cur  Snapshot
		want Phase
	}{
		{
			name: "all replicas ready",
			cur:  snap("prod", "api", 3, 3, 3),
			want: PhaseHealthy,
		},
		{
			name: "scaled to zero is healthy",
			cur:  snap("prod", "api", 0, 0, 0),
			want: PhaseHealthy,
		},
		{
			name: "updated below desired is progressing",
			cur:  snap("prod", "api", 3, 3, 1),
			want: PhaseProgressing,
		},
		{
			name: "generation not observed yet is progressing",
			cur: func() Snapshot {
				s := snap("prod", "api", 3, 3, 3)
				s.Generation = 5
				s.ObservedGeneration = 4
				return s
			}(),
			want: PhaseProgressing,
		},
		{
			name: "controller failure message is degraded",
			cur: func() Snapshot {
				s := snap("prod", "api", 3, 3, 3)
				s.FailureMessage = "ProgressDeadlineExceeded"
				return s
			}(),
			want: PhaseDegraded,
		},
		{
			name: "failure message wins over scale down in flight",
			cur: func() Snapshot {
				s := snap("prod", "api", 3, 0, 1)
				s.FailureMessage = "ProgressDeadlineExceeded"
				return s
			}(),
			want: PhaseDegraded,
		},
		{
			name: "ready shortfall with no rollout is degraded",
			cur:  snap("prod", "api", 3, 1, 3),
			want: PhaseDegraded,
		},
		{
			name: "image tag change starts a rollout",
			prev: func() *Snapshot {
				s := snap("prod", "api", 3, 3, 3)
				s.ImageTag = "v1"
				return &s
			}(),
			cur: func() Snapshot {
				s := snap("prod", "api", 3, 3, 3)
				s.ImageTag = "v2"
				return s
			}(),
			want: PhaseProgressing,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := c.Classify(tt.prev, tt.cur)
			if err != nil {
				t.Fatalf("Classify error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("phase = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyFirstObservationTransition(t *testing.T) {
	t.Parallel()
	var c Classifier

	// A healthy first sight is startup noise, not a transition.
	_, transition, err := c.Classify(nil, snap("prod", "api", 2, 2, 2))
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if transition {
		t.Fatal("healthy first observation must not be a transition")
	}

	// An already broken deployment is reported even on first sight.
	broken := snap("prod", "api", 2, 0, 2)
	_, transition, err = c.Classify(nil, broken)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !transition {
		t.Fatal("degraded first observation must be a transition")
	}
}

func TestClassifyTransitionAgainstPrev(t *testing.T) {
	t.Parallel()
	var c Classifier

	prev := snap("prod", "api", 3, 3, 3) // healthy
	cur := snap("prod", "api", 3, 3, 1)  // progressing

	_, transition, err := c.Classify(&prev, cur)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !transition {
		t.Fatal("healthy -> progressing must be a transition")
	}

	// Same phase twice is not a transition.
	prev2 := snap("prod", "api", 3, 3, 1)
	_, transition, err = c.Classify(&prev2, cur)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if transition {
		t.Fatal("progressing -> progressing must not be a transition")
	}
}

func TestClassifyMinReadyRatio(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		ratio float64
		ready int32
		want  Phase
	}{
		{name: "half ratio met", ratio: 0.5, ready: 2, want: PhaseHealthy},
		{name: "half ratio missed", ratio: 0.5, ready: 1, want: PhaseDegraded},
		{name: "ceil rounds up", ratio: 0.6, ready: 2, want: PhaseDegraded}, // ceil(0.6*4)=3
		{name: "ratio above one falls back to full", ratio: 1.5, ready: 3, want: PhaseDegraded},
		{name: "zero ratio falls back to full", ratio: 0, ready: 3, want: PhaseDegraded},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := Classifier{MinReadyRatio: tt.ratio}
			got, _, err := c.Classify(nil, snap("prod", "api", 4, tt.ready, 4))
			if err != nil {
				t.Fatalf("Classify error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("phase = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyRejectsMalformedSnapshots(t *testing.T) {
	t.Parallel()
	var c Classifier

	var ce *ClassificationError

	_, _, err := c.Classify(nil, Snapshot{Desired: 1})
	if !errors.As(err, &ce) {
		t.Fatalf("missing identity: got %v, want ClassificationError", err)
	}

	bad := snap("prod", "api", 1, 1, 1)
	bad.Ready = -1
	_, _, err = c.Classify(nil, bad)
	if !errors.As(err, &ce) {
		t.Fatalf("negative count: got %v, want ClassificationError", err)
	}

	prev := snap("prod", "other", 1, 1, 1)
	_, _, err = c.Classify(&prev, snap("prod", "api", 1, 1, 1))
	if !errors.As(err, &ce) {
		t.Fatalf("identity mismatch: got %v, want ClassificationError", err)
	}
}

func TestSnapshotLive(t *testing.T) {
	t.Parallel()
	s := Snapshot{Updated: 3, Unavailable: 1}
	if got := s.Live(); got != 2 {
		t.Fatalf("Live = %d, want 2", got)
	}
	s = Snapshot{Updated: 1, Unavailable: 3}
	if got := s.Live(); got != 0 {
		t.Fatalf("Live clamps at zero, got %d", got)
	}
}
