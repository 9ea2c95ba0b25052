package sink

import (
	"strings"
	"testing"

	"kubelookout/internal/rollout"
)

func TestProgressBar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		position int32
		max      int32
		filled   int
	}{
		{name: "empty", position: 0, max: 4, filled: 0},
		{name: "half", position: 2, max: 4, filled: 10},
		{name: "full", position: 4, max: 4, filled: 20},
		{name: "third", position: 1, max: 3, filled: 6},
		{name: "over-full clamps", position: 6, max: 4, filled: 20},
		{name: "negative clamps", position: -1, max: 4, filled: 0},
		{name: "zero max treated as one", position: 1, max: 0, filled: 20},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			bar := ProgressBar(tt.position, tt.max)
			if n := strings.Count(bar, "⬛"); n != tt.filled {
				t.Fatalf("filled = %d, want %d (bar %q)", n, tt.filled, bar)
			}
			if n := strings.Count(bar, "⬜"); n != 20-tt.filled {
				t.Fatalf("empty = %d, want %d", n, 20-tt.filled)
			}
		})
	}
}

func testSnapshot() rollout.Snapshot {
	return rollout.Snapshot{
		Identity: rollout.Identity{Namespace: "prod", Name: "api"},
		Desired:  3,
		Ready:    1,
		Updated:  2,
		Images:   []string{"registry.example.com/team/api:v2"},
		ImageTag: "v2",
	}
}

func TestRenderHeadlines(t *testing.T) {
	t.Parallel()
	cfg := RenderConfig{
		ClusterName:   "staging",
		OKImage:       "https://img/ok.png",
		ProgressImage: "https://img/progress.png",
		WarningImage:  "https://img/warn.png",
	}

	tests := []struct {
		name     string
		mutate   func(*rollout.Notification)
		headline string
		icon     string
	}{
		{
			name:     "progressing",
			mutate:   func(n *rollout.Notification) { n.Phase = rollout.PhaseProgressing },
			headline: "staging deployment prod/api is rolling out an update.",
			icon:     cfg.ProgressImage,
		},
		{
			name: "succeeded",
			mutate: func(n *rollout.Notification) {
				n.Phase = rollout.PhaseHealthy
				n.Outcome = rollout.OutcomeSucceeded
			},
			headline: "staging deployment prod/api rolled out successfully.",
			icon:     cfg.OKImage,
		},
		{
			name: "abandoned",
			mutate: func(n *rollout.Notification) {
				n.Outcome = rollout.OutcomeFailed
			},
			headline: "staging deployment prod/api rollout abandoned: no healthy state before the thread timeout.",
			icon:     cfg.WarningImage,
		},
		{
			name: "failure message",
			mutate: func(n *rollout.Notification) {
				n.Phase = rollout.PhaseDegraded
				n.Snapshot.FailureMessage = "ProgressDeadlineExceeded"
			},
			headline: "staging deployment prod/api is failing: ProgressDeadlineExceeded",
			icon:     cfg.WarningImage,
		},
		{
			name:     "degraded without failure message",
			mutate:   func(n *rollout.Notification) { n.Phase = rollout.PhaseDegraded },
			headline: "staging deployment prod/api has become degraded.",
			icon:     cfg.WarningImage,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n := rollout.Notification{Snapshot: testSnapshot()}
			tt.mutate(&n)
			m := Render(cfg, n)
			if m.Headline != tt.headline {
				t.Fatalf("headline = %q, want %q", m.Headline, tt.headline)
			}
			if m.IconURL != tt.icon {
				t.Fatalf("icon = %q, want %q", m.IconURL, tt.icon)
			}
		})
	}
}

func TestRenderDefaultsClusterName(t *testing.T) {
	t.Parallel()
	n := rollout.Notification{Snapshot: testSnapshot(), Phase: rollout.PhaseProgressing}
	m := Render(RenderConfig{}, n)
	if !strings.HasPrefix(m.Headline, "kubernetes deployment ") {
		t.Fatalf("headline = %q", m.Headline)
	}
}

func TestRenderStatusAndImages(t *testing.T) {
	t.Parallel()
	n := rollout.Notification{Snapshot: testSnapshot(), Phase: rollout.PhaseProgressing}
	m := Render(RenderConfig{}, n)

	if m.StatusLine != "2 replicas updated out of 3, 1 ready." {
		t.Fatalf("status = %q", m.StatusLine)
	}
	if len(m.Images) != 1 || m.Images[0] != "Image registry.example.com/team/api:v2" {
		t.Fatalf("images = %v", m.Images)
	}

	// Degraded reporting overrides the status line with the ready shortfall.
	n.Phase = rollout.PhaseDegraded
	m = Render(RenderConfig{}, n)
	if m.StatusLine != "1 ready replicas when it should have 3." {
		t.Fatalf("degraded status = %q", m.StatusLine)
	}
}

func TestConsoleURL(t *testing.T) {
	t.Parallel()
	cfg := RenderConfig{
		ClusterName:     "staging",
		Region:          "europe-west1",
		Project:         "acme",
		ConsoleTemplate: "https://console.cloud.example/{project}/{region}/{cluster}/{namespace}/{name}",
	}
	n := rollout.Notification{Snapshot: testSnapshot(), Phase: rollout.PhaseProgressing}
	m := Render(cfg, n)
	want := "https://console.cloud.example/acme/europe-west1/staging/prod/api"
	if m.ConsoleURL != want {
		t.Fatalf("console url = %q, want %q", m.ConsoleURL, want)
	}

	cfg.ConsoleTemplate = ""
	if m := Render(cfg, n); m.ConsoleURL != "" {
		t.Fatalf("console url = %q, want empty", m.ConsoleURL)
	}
}
