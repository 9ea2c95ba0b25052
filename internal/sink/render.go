package sink

import (
	"fmt"
	"strings"

	"kubelookout/internal/rollout"
)

// RenderConfig carries the presentation knobs: naming, accessory images and
// the console link template. All hot-reloadable.
type RenderConfig struct {
	ClusterName string

	// Accessory image URLs keyed by state.
	OKImage       string
	ProgressImage string
	WarningImage  string

	// ConsoleTemplate accepts {region}, {cluster}, {project}, {namespace}
	// and {name} placeholders. Empty disables the link.
	ConsoleTemplate string
	Region          string
	Project         string
}

// Render builds the neutral message for one notification.
func Render(cfg RenderConfig, n rollout.Notification) Message {
	s := n.Snapshot
	m := Message{
		Identity:    s.Identity,
		Phase:       n.Phase,
		Outcome:     n.Outcome,
		StatusLine:  statusLine(s),
		ProgressBar: ProgressBar(barPosition(n, s), s.Desired),
		ConsoleURL:  consoleURL(cfg, s.Identity),
		Failure:     s.FailureMessage,
	}
	for _, img := range s.Images {
		m.Images = append(m.Images, "Image "+img)
	}

	name := s.Identity.String()
	cluster := cfg.ClusterName
	if cluster == "" {
		cluster = "kubernetes"
	}

	switch {
	case n.Outcome == rollout.OutcomeSucceeded:
		m.Headline = fmt.Sprintf("%s deployment %s rolled out successfully.", cluster, name)
		m.IconURL = cfg.OKImage
	case n.Outcome == rollout.OutcomeFailed:
		m.Headline = fmt.Sprintf("%s deployment %s rollout abandoned: no healthy state before the thread timeout.", cluster, name)
		m.IconURL = cfg.WarningImage
	case s.FailureMessage != "":
		m.Headline = fmt.Sprintf("%s deployment %s is failing: %s", cluster, name, s.FailureMessage)
		m.IconURL = cfg.WarningImage
	case n.Phase == rollout.PhaseDegraded:
		m.Headline = fmt.Sprintf("%s deployment %s has become degraded.", cluster, name)
		m.StatusLine = fmt.Sprintf("%d ready replicas when it should have %d.", s.Ready, s.Desired)
		m.IconURL = cfg.WarningImage
	default:
		m.Headline = fmt.Sprintf("%s deployment %s is rolling out an update.", cluster, name)
		m.IconURL = cfg.ProgressImage
	}
	return m
}

func statusLine(s rollout.Snapshot) string {
	return fmt.Sprintf("%d replicas updated out of %d, %d ready.", s.Live(), s.Desired, s.Ready)
}

// barPosition follows the original presentation: during a rollout the bar
// tracks live updated replicas; for a finished or degraded thread it tracks
// readiness.
func barPosition(n rollout.Notification, s rollout.Snapshot) int32 {
	if n.Phase == rollout.PhaseDegraded || n.Outcome != rollout.OutcomeNone {
		return s.Ready
	}
	return s.Live()
}

// ProgressBar renders position/max as a 20-segment two-tone bar.
func ProgressBar(position, max int32) string {
	if max <= 0 {
		max = 1
	}
	if position < 0 {
		position = 0
	}
	filled := int((100 / float64(max) * float64(position)) / 5)
	if filled > 20 {
		filled = 20
	}
	return strings.Repeat("⬛", filled) + strings.Repeat("⬜", 20-filled)
}

func consoleURL(cfg RenderConfig, id rollout.Identity) string {
	tpl := strings.TrimSpace(cfg.ConsoleTemplate)
	if tpl == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{region}", cfg.Region,
		"{cluster}", cfg.ClusterName,
		"{project}", cfg.Project,
		"{namespace}", id.Namespace,
		"{name}", id.Name,
	)
	return r.Replace(tpl)
}
