package rollout

import (
	"fmt"
	"time"
)

// State tracks a notification thread through its chat lifecycle.
type State string

const (
	// StateActive: thread exists in the feed, not yet promoted.
	StateActive State = "active"
	// StatePromoted: posted to the main channel at least once.
	StatePromoted State = "promoted"
	// StateExpired: hit the thread timeout; terminal.
	StateExpired State = "expired"
	// StateResolved: rollout reached healthy and closed; terminal.
	StateResolved State = "resolved"
)

var terminalStates = map[State]bool{
	StateExpired:  true,
	StateResolved: true,
}

var validThreadTransitions = map[State]map[State]bool{
	StateActive: {
		StatePromoted: true,
		StateExpired:  true,
		StateResolved: true,
	},
	StatePromoted: {
		StateExpired:  true,
		StateResolved: true,
	},
	StateExpired:  {},
	StateResolved: {},
}

// ValidateTransition reports whether a thread may move between two states.
func ValidateTransition(from, to State) error {
	if validThreadTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("invalid thread transition from %q to %q", from, to)
}

// ThreadRef is the sink-assigned conversation handle. Channel and ID are
// opaque to the core; only the sink that issued them reads them back.
type ThreadRef struct {
	Channel string `json:"channel"`
	ID      string `json:"id"`
}

func (r ThreadRef) IsZero() bool { return r.Channel == "" && r.ID == "" }

// Outcome labels the final update of a finished thread.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// OpKind is the single chat operation one dispatcher step may emit.
type OpKind string

const (
	OpNone    OpKind = ""
	OpCreate  OpKind = "create"
	OpUpdate  OpKind = "update"
	OpPromote OpKind = "promote"
)

// Thread is one notification conversation covering a single rollout.
//
// All mutation happens on the owning identity's dispatcher shard; fields
// need no lock of their own.
type Thread struct {
	Identity Identity
	Handle   ThreadRef

	State State
	// Phase is the last phase reported to the chat.
	Phase Phase

	CreatedAt     time.Time
	LastRefreshAt time.Time
}

func newThread(id Identity, phase Phase, now time.Time) *Thread {
	return &Thread{
		Identity:      id,
		State:         StateActive,
		Phase:         phase,
		CreatedAt:     now,
		LastRefreshAt: now,
	}
}

// Terminal reports whether the thread accepts no further transitions.
func (t *Thread) Terminal() bool { return terminalStates[t.State] }

// Promoted reports whether the thread has been posted to the main channel.
func (t *Thread) Promoted() bool { return t.State == StatePromoted }

// Expired reports whether the thread timed out.
func (t *Thread) Expired() bool { return t.State == StateExpired }

// Step is the outcome of advancing a thread one event or tick: at most one
// chat operation, an optional final outcome, and whether the registry entry
// is done.
type Step struct {
	Op      OpKind
	Outcome Outcome
	Remove  bool
}

// Advance applies one classification to the thread and returns what to do.
//
// Rule order (first match wins):
//  1. past the timeout: final failure update, expire, remove. This wins
//     over a simultaneous phase change or healthy report; a timed-out
//     thread reports failure, not a fresh phase.
//  2. healthy: final success update, resolve, remove.
//  3. past the refresh age and never promoted: promote once; the promoted
//     copy carries the current phase, so no separate update is owed.
//  4. phase differs from the last reported one: in-place update.
//  5. otherwise nothing.
//
// Terminal threads return an empty Step no matter what.
func (t *Thread) Advance(phase Phase, now time.Time, refresh, timeout time.Duration) Step {
	if t.Terminal() {
		return Step{}
	}

	age := now.Sub(t.CreatedAt)

	if age >= timeout {
		t.State = StateExpired
		return Step{Op: OpUpdate, Outcome: OutcomeFailed, Remove: true}
	}

	if phase == PhaseHealthy {
		t.Phase = PhaseHealthy
		t.State = StateResolved
		return Step{Op: OpUpdate, Outcome: OutcomeSucceeded, Remove: true}
	}

	if age >= refresh && t.State == StateActive {
		t.State = StatePromoted
		t.LastRefreshAt = now
		t.Phase = phase
		return Step{Op: OpPromote}
	}

	if phase != t.Phase {
		t.Phase = phase
		return Step{Op: OpUpdate}
	}

	return Step{}
}

// Tick applies the timer rules only (no fresh classification). Fired by the
// dispatcher sweep so promotion and expiry don't depend on the cluster
// emitting another event.
func (t *Thread) Tick(now time.Time, refresh, timeout time.Duration) Step {
	return t.Advance(t.Phase, now, refresh, timeout)
}
