package rollout

import "math"

// Phase is the lifecycle classification of a deployment.
type Phase string

const (
	PhaseProgressing Phase = "progressing"
	PhaseHealthy     Phase = "healthy"
	PhaseDegraded    Phase = "degraded"
)

// Classifier derives phases from snapshots. It is pure: no state survives
// a call beyond what the caller hands in.
//
// MinReadyRatio tunes the healthy/degraded boundary for deployments with no
// rollout in flight: ready must reach ceil(ratio * desired). Values outside
// (0, 1] fall back to 1 ("every desired replica ready").
type Classifier struct {
	MinReadyRatio float64
}

// Classify maps (previous, current) snapshots for one identity to the
// current phase, plus whether that phase differs from the phase implied by
// the previous snapshot alone.
//
// prev is nil on first observation; the transition flag is then set only
// for a non-healthy start, so pointing the watcher at a quiet cluster
// stays silent while an already broken deployment is still reported.
func (c Classifier) Classify(prev *Snapshot, cur Snapshot) (Phase, bool, error) {
	if err := cur.Validate(); err != nil {
		return "", false, err
	}
	if prev == nil {
		p := c.phase(nil, cur)
		return p, p != PhaseHealthy, nil
	}
	if err := prev.Validate(); err != nil {
		return "", false, err
	}
	if prev.Identity != cur.Identity {
		return "", false, &ClassificationError{Identity: cur.Identity, Reason: "previous snapshot belongs to " + prev.Identity.String()}
	}
	p := c.phase(prev, cur)
	// The previous snapshot's phase is judged standalone: with a
	// most-recent-only cache there is nothing older to compare it against.
	return p, p != c.phase(nil, *prev), nil
}

func (c Classifier) phase(prev *Snapshot, cur Snapshot) Phase {
	// Scaled to zero on purpose; nothing to be unhealthy.
	if cur.Desired == 0 {
		return PhaseHealthy
	}

	if cur.FailureMessage != "" {
		return PhaseDegraded
	}

	rolling := cur.Updated < cur.Desired ||
		cur.ObservedGeneration < cur.Generation ||
		(prev != nil && prev.ImageTag != "" && cur.ImageTag != "" && prev.ImageTag != cur.ImageTag)

	if !rolling {
		if cur.Ready >= c.minReady(cur.Desired) {
			return PhaseHealthy
		}
		return PhaseDegraded
	}

	// Mid-rollout shortfalls are expected, not degraded; the thread timeout
	// is what eventually declares a stuck rollout failed.
	return PhaseProgressing
}

func (c Classifier) minReady(desired int32) int32 {
	ratio := c.MinReadyRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return int32(math.Ceil(ratio * float64(desired)))
}
