package rollout

import (
	"errors"
	"fmt"
)

// ClassificationError reports a malformed snapshot. The event is dropped
// without touching any thread state.
type ClassificationError struct {
	Identity Identity
	Reason   string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %s", e.Identity, e.Reason)
}

// SinkDeliveryError wraps a failed chat operation. Thread state advances
// as if the operation had succeeded; the next successful operation
// self-corrects the conversation.
type SinkDeliveryError struct {
	Identity Identity
	Op       OpKind
	Err      error
}

func (e *SinkDeliveryError) Error() string {
	return fmt.Sprintf("sink %s for %s: %v", e.Op, e.Identity, e.Err)
}

func (e *SinkDeliveryError) Unwrap() error { return e.Err }

// ErrRegistryConflict marks a lost thread-creation race. It is resolved
// inside the Registry (the loser adopts the winner's thread) and only ever
// shows up in debug logs.
var ErrRegistryConflict = errors.New("thread already active for identity")
