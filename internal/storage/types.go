package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the rollout history journal.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the journal is disabled. The journal records
// finished rollouts only; live thread state is never persisted or restored.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention prunes records older than this. 0 keeps everything.
	Retention time.Duration
}

// RolloutRecord is one finished rollout. Keep it compact and schema-stable.
type RolloutRecord struct {
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	ImageTag  string    `json:"image_tag,omitempty"`
	Outcome   string    `json:"outcome"` // "succeeded" | "failed"
	Promoted  bool      `json:"promoted,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	TookMS    int64     `json:"took_ms"`
}
