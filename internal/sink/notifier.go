package sink

import (
	"context"
	"sync"

	"kubelookout/internal/rollout"
)

// Notifier adapts a Sink driver to the dispatcher's outbound interface,
// rendering each notification with the current presentation config.
//
// The driver is fixed for the process lifetime; the render config is
// hot-swappable.
type Notifier struct {
	mu  sync.RWMutex
	cfg RenderConfig
	drv Sink
}

func NewNotifier(drv Sink, cfg RenderConfig) *Notifier {
	return &Notifier{drv: drv, cfg: cfg}
}

// Apply swaps the presentation config.
func (n *Notifier) Apply(cfg RenderConfig) {
	n.mu.Lock()
	n.cfg = cfg
	n.mu.Unlock()
}

func (n *Notifier) render(ev rollout.Notification) Message {
	n.mu.RLock()
	cfg := n.cfg
	n.mu.RUnlock()
	return Render(cfg, ev)
}

func (n *Notifier) CreateThread(ctx context.Context, ev rollout.Notification) (rollout.ThreadRef, error) {
	return n.drv.CreateThread(ctx, n.render(ev))
}

func (n *Notifier) UpdateThread(ctx context.Context, ev rollout.Notification) error {
	return n.drv.UpdateThread(ctx, ev.Thread, n.render(ev))
}

func (n *Notifier) PromoteThread(ctx context.Context, ev rollout.Notification) error {
	return n.drv.PromoteThread(ctx, ev.Thread, n.render(ev))
}

var _ rollout.Notifier = (*Notifier)(nil)
