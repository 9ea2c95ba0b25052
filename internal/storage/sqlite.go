//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "kubelookout/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRollout(ctx context.Context, r RolloutRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rollouts(namespace, name, image_tag, outcome, promoted, started_at, ended_at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Namespace, r.Name, nullStr(r.ImageTag), r.Outcome, boolInt(r.Promoted),
		r.StartedAt.Format(time.RFC3339Nano), r.EndedAt.Format(time.RFC3339Nano), r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentRollouts(ctx context.Context, since time.Time, limit int) ([]RolloutRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT namespace, name, COALESCE(image_tag, ''), outcome, promoted, started_at, ended_at, took_ms
	      FROM rollouts WHERE ended_at >= ? ORDER BY ended_at DESC`
	args := []any{since.Format(time.RFC3339Nano)}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RolloutRecord
	for rows.Next() {
		var (
			r                  RolloutRecord
			promoted           int
			startedAt, endedAt string
		)
		if err := rows.Scan(&r.Namespace, &r.Name, &r.ImageTag, &r.Outcome, &promoted, &startedAt, &endedAt, &r.TookMS); err != nil {
			return nil, err
		}
		r.Promoted = promoted != 0
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, olderThan time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM rollouts WHERE ended_at < ?`, olderThan.Format(time.RFC3339Nano))
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
