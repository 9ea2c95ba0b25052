package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "kubelookout/pkg/logx"
)

// fileStore is the dependency-free journal backend: a single append-only
// JSON Lines file. Prune compacts it in place via a temp-file rename.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if filepath.Ext(path) == "" {
		path += ".rollouts.jsonl"
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRollout(ctx context.Context, r RolloutRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("journal closed")
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) RecentRollouts(ctx context.Context, since time.Time, limit int) ([]RolloutRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := readAll(s.path)
	if err != nil {
		return nil, err
	}

	out := make([]RolloutRecord, 0, len(recs))
	// File order is append order; walk backwards for newest-first.
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].EndedAt.Before(since) {
			continue
		}
		out = append(out, recs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fileStore) Prune(ctx context.Context, olderThan time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("journal closed")
	}

	recs, err := readAll(s.path)
	if err != nil {
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if !r.EndedAt.Before(olderThan) {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		return nil
	}

	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tf)
	for _, r := range kept {
		if err := enc.Encode(r); err != nil {
			_ = tf.Close()
			return err
		}
	}
	if err := tf.Close(); err != nil {
		return err
	}

	// Swap the live handle over to the compacted file.
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.f = nil
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = f
	s.log.Debug("journal compacted",
		logx.Int("kept", len(kept)),
		logx.Int("dropped", len(recs)-len(kept)),
	)
	return nil
}

func readAll(path string) ([]RolloutRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []RolloutRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RolloutRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue // skip torn writes
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
