package rollout

import "time"

// Bus event types published by the dispatcher.
const (
	EventStarted  = "rollout.started"
	EventPhase    = "rollout.phase"
	EventPromoted = "rollout.promoted"
	EventResolved = "rollout.resolved"
	EventExpired  = "rollout.expired"
	EventSinkErr  = "sink.error"
)

// ThreadEvent is the payload carried on every rollout.* and sink.error bus
// event. Small and JSON-serializable per the bus contract.
type ThreadEvent struct {
	Identity Identity  `json:"identity"`
	Phase    Phase     `json:"phase"`
	State    State     `json:"state"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	Op       OpKind    `json:"op,omitempty"`
	ImageTag string    `json:"image_tag,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
