package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "kubelookout/pkg/logx"
)

func record(name string, ended time.Time, outcome string) RolloutRecord {
	return RolloutRecord{
		Namespace: "prod",
		Name:      name,
		ImageTag:  "v2",
		Outcome:   outcome,
		StartedAt: ended.Add(-2 * time.Minute),
		EndedAt:   ended,
		TookMS:    (2 * time.Minute).Milliseconds(),
	}
}

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "journal")},
		logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStoreAppendAndQuery(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i, name := range []string{"api", "web", "worker"} {
		rec := record(name, base.Add(time.Duration(i)*time.Hour), "succeeded")
		if err := st.AppendRollout(ctx, rec); err != nil {
			t.Fatalf("AppendRollout: %v", err)
		}
	}

	recs, err := st.RecentRollouts(ctx, base.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("RecentRollouts: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	// Newest first.
	if recs[0].Name != "worker" || recs[2].Name != "api" {
		t.Fatalf("order = %s,%s,%s", recs[0].Name, recs[1].Name, recs[2].Name)
	}

	// Since filter drops older entries.
	recs, err = st.RecentRollouts(ctx, base.Add(90*time.Minute), 0)
	if err != nil {
		t.Fatalf("RecentRollouts: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "worker" {
		t.Fatalf("filtered = %v", recs)
	}

	// Limit caps the result from the newest end.
	recs, err = st.RecentRollouts(ctx, base.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("RecentRollouts: %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "worker" || recs[1].Name != "web" {
		t.Fatalf("limited = %v", recs)
	}
}

func TestFileStorePrune(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	old := record("old", base, "failed")
	fresh := record("fresh", base.Add(48*time.Hour), "succeeded")
	if err := st.AppendRollout(ctx, old); err != nil {
		t.Fatalf("AppendRollout: %v", err)
	}
	if err := st.AppendRollout(ctx, fresh); err != nil {
		t.Fatalf("AppendRollout: %v", err)
	}

	if err := st.Prune(ctx, base.Add(24*time.Hour)); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	recs, err := st.RecentRollouts(ctx, time.Time{}.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("RecentRollouts: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "fresh" {
		t.Fatalf("after prune = %v", recs)
	}

	// The compacted file must still accept appends.
	if err := st.AppendRollout(ctx, record("later", base.Add(72*time.Hour), "succeeded")); err != nil {
		t.Fatalf("AppendRollout after prune: %v", err)
	}
	recs, _ = st.RecentRollouts(ctx, time.Time{}.Add(time.Second), 0)
	if len(recs) != 2 {
		t.Fatalf("after second append = %v", recs)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("empty driver must return a nil store")
	}
}
