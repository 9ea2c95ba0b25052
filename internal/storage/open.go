package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "kubelookout/pkg/logx"
)

// Store is the journal API used by the recorder and the digest.
type Store interface {
	AppendRollout(ctx context.Context, r RolloutRecord) error
	// RecentRollouts returns records that ended at or after since, newest
	// first, capped at limit (0 means no cap).
	RecentRollouts(ctx context.Context, since time.Time, limit int) ([]RolloutRecord, error)
	Prune(ctx context.Context, olderThan time.Time) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
