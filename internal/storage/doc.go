// Package storage is the optional rollout history journal: a Store
// interface with file (JSON Lines) and sqlite (build tag) drivers, plus a
// bus-driven Recorder that journals finished rollouts. Thread state itself
// is never persisted; a restart always begins with an empty registry.
package storage
