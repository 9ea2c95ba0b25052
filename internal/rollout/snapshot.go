package rollout

import "time"

// Identity names a deployment. It is the stable key for threads and caches
// across the deployment's whole life.
type Identity struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (id Identity) String() string { return id.Namespace + "/" + id.Name }

func (id Identity) IsZero() bool { return id.Namespace == "" && id.Name == "" }

// Snapshot is one observed state of a deployment. Immutable once built;
// produced by the watch layer, consumed by the Classifier and the sinks.
type Snapshot struct {
	Identity Identity

	// Desired is spec.replicas (the watch layer maps an absent field to 1).
	Desired     int32
	Ready       int32
	Updated     int32
	Unavailable int32

	Generation         int64
	ObservedGeneration int64

	// ImageTag is the version tag of the first container image ("latest"
	// when the ref carries no tag). Images holds the full refs in
	// container order, for rendering.
	ImageTag string
	Images   []string

	// FailureMessage carries the Progressing condition's message when the
	// controller has declared the rollout failed (e.g. progress deadline
	// exceeded). Empty otherwise.
	FailureMessage string

	ObservedAt time.Time
}

// Validate rejects snapshots the classifier must not touch: missing
// identity or negative replica counts.
func (s Snapshot) Validate() error {
	if s.Identity.IsZero() {
		return &ClassificationError{Identity: s.Identity, Reason: "missing identity"}
	}
	if s.Desired < 0 || s.Ready < 0 || s.Updated < 0 || s.Unavailable < 0 {
		return &ClassificationError{Identity: s.Identity, Reason: "negative replica count"}
	}
	return nil
}

// Live is the replica count presented to humans while a rollout runs:
// surge pods that are not yet available don't count.
func (s Snapshot) Live() int32 {
	live := s.Updated - s.Unavailable
	if live < 0 {
		return 0
	}
	return live
}
