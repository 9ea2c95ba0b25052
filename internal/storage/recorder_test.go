package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"kubelookout/internal/eventbus"
	"kubelookout/internal/rollout"
	logx "kubelookout/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	recs []RolloutRecord
}

func (m *memStore) AppendRollout(_ context.Context, r RolloutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) RecentRollouts(context.Context, time.Time, int) ([]RolloutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RolloutRecord(nil), m.recs...), nil
}

func (m *memStore) Prune(context.Context, time.Time) error { return nil }
func (m *memStore) Close() error                           { return nil }

func (m *memStore) all() []RolloutRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RolloutRecord(nil), m.recs...)
}

func threadEvent(id rollout.Identity, tag string, at time.Time) rollout.ThreadEvent {
	return rollout.ThreadEvent{Identity: id, ImageTag: tag, At: at}
}

func TestRecorderJournalsFinishedRollouts(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	r := NewRecorder(st, eventbus.New(), 0, logx.Nop())
	ctx := context.Background()
	id := rollout.Identity{Namespace: "prod", Name: "api"}
	start := time.Unix(1700000000, 0).UTC()

	r.handle(ctx, rollout.EventStarted, threadEvent(id, "v2", start))
	r.handle(ctx, rollout.EventPromoted, threadEvent(id, "v2", start.Add(45*time.Second)))
	r.handle(ctx, rollout.EventResolved, threadEvent(id, "v2", start.Add(3*time.Minute)))

	recs := st.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Namespace != "prod" || rec.Name != "api" || rec.ImageTag != "v2" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Outcome != "succeeded" || !rec.Promoted {
		t.Fatalf("record = %+v, want promoted success", rec)
	}
	if rec.TookMS != (3 * time.Minute).Milliseconds() {
		t.Fatalf("took = %dms", rec.TookMS)
	}

	// The open entry is consumed; a stray second resolve journals a
	// zero-duration record instead of reusing stale state.
	r.handle(ctx, rollout.EventExpired, threadEvent(id, "v3", start.Add(time.Hour)))
	recs = st.all()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[1].Outcome != "failed" || recs[1].TookMS != 0 || recs[1].Promoted {
		t.Fatalf("record = %+v", recs[1])
	}
}

func TestRecorderRunConsumesBus(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	bus := eventbus.New()
	r := NewRecorder(st, bus, 0, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	id := rollout.Identity{Namespace: "prod", Name: "api"}
	start := time.Unix(1700000000, 0).UTC()

	// Give Run a moment to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: rollout.EventStarted, Time: start,
			Data: threadEvent(id, "v2", start)})
		bus.Publish(eventbus.Event{Type: rollout.EventResolved, Time: start,
			Data: threadEvent(id, "v2", start.Add(time.Minute))})
		if len(st.all()) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder did not journal the rollout in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on context cancel")
	}
}
