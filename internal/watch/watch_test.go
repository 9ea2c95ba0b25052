package watch

import (
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"

	"kubelookout/internal/rollout"
	logx "kubelookout/pkg/logx"
)

type recordingHandler struct {
	events  []rollout.Snapshot
	deletes []rollout.Identity
}

func (h *recordingHandler) OnEvent(s rollout.Snapshot)   { h.events = append(h.events, s) }
func (h *recordingHandler) OnDelete(id rollout.Identity) { h.deletes = append(h.deletes, id) }

func watchEvent(typ apiwatch.EventType, ns, name string) apiwatch.Event {
	d := &appsv1.Deployment{}
	d.Namespace = ns
	d.Name = name
	return apiwatch.Event{Type: typ, Object: d}
}

func TestDispatchRoutesEvents(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	w := newWithClient(Config{}, fake.NewSimpleClientset(), h, logx.Nop())
	w.now = func() time.Time { return time.Unix(1700000000, 0) }

	w.dispatch(watchEvent(apiwatch.Added, "prod", "api"))
	w.dispatch(watchEvent(apiwatch.Modified, "prod", "api"))
	w.dispatch(watchEvent(apiwatch.Deleted, "prod", "api"))
	// Bookmark and error events carry no deployment payload we act on.
	w.dispatch(apiwatch.Event{Type: apiwatch.Bookmark, Object: nil})

	if len(h.events) != 2 {
		t.Fatalf("events = %d, want 2", len(h.events))
	}
	if h.events[0].Identity != (rollout.Identity{Namespace: "prod", Name: "api"}) {
		t.Fatalf("identity = %s", h.events[0].Identity)
	}
	if len(h.deletes) != 1 || h.deletes[0].Name != "api" {
		t.Fatalf("deletes = %v", h.deletes)
	}
}

func TestDispatchSkipsIgnoredNamespaces(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	w := newWithClient(Config{IgnoreNamespaces: []string{"kube-system", " flux "}},
		fake.NewSimpleClientset(), h, logx.Nop())

	w.dispatch(watchEvent(apiwatch.Modified, "kube-system", "coredns"))
	w.dispatch(watchEvent(apiwatch.Modified, "flux", "source-controller"))
	w.dispatch(watchEvent(apiwatch.Deleted, "kube-system", "coredns"))
	w.dispatch(watchEvent(apiwatch.Modified, "prod", "api"))

	if len(h.events) != 1 || h.events[0].Identity.Namespace != "prod" {
		t.Fatalf("events = %v", h.events)
	}
	if len(h.deletes) != 0 {
		t.Fatalf("deletes = %v", h.deletes)
	}
}
