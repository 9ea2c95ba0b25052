// Package sink is the outbound chat surface: a neutral message model, a
// renderer that turns rollout notifications into it, and the Sink interface
// the platform drivers (slack, telegram) implement.
package sink

import (
	"context"

	"kubelookout/internal/rollout"
)

// Message is the platform-neutral content of one thread post. Drivers apply
// their own markup (Block Kit, HTML) over these fields.
type Message struct {
	Identity rollout.Identity
	Phase    rollout.Phase
	Outcome  rollout.Outcome

	// Headline is plain text; drivers add their own emphasis.
	Headline string
	// StatusLine reads like "2 replicas updated out of 3, 1 ready."
	StatusLine string
	// ProgressBar is the 20-segment two-tone bar, already assembled.
	ProgressBar string
	// Images holds one line per container image, in container order.
	Images []string
	// ConsoleURL deep-links the deployment in the cluster console. Empty
	// when link templating is not configured.
	ConsoleURL string
	// IconURL is the accessory image matching the phase/outcome.
	IconURL string
	// Failure carries the controller's failure message, when it declared one.
	Failure string
}

// Sink is the chat platform behind the notifier.
//
// Implementations own their delivery discipline: client-side rate limiting
// and a bounded per-call timeout, one attempt per call. A returned error is
// final; nothing upstream retries.
type Sink interface {
	CreateThread(ctx context.Context, m Message) (rollout.ThreadRef, error)
	UpdateThread(ctx context.Context, ref rollout.ThreadRef, m Message) error
	PromoteThread(ctx context.Context, ref rollout.ThreadRef, m Message) error
}

// TextPoster is implemented by drivers that can also deliver plain text
// lines, used for forwarding WARN+ log records into the channel.
type TextPoster interface {
	PostText(ctx context.Context, text string) error
}
