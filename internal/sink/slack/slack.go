// Package slack delivers rollout threads to a Slack channel with Block Kit
// messages: the thread head is created once and edited in place, and
// promotion posts a permalink back to the channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"

	"kubelookout/internal/rollout"
	"kubelookout/internal/sink"
	logx "kubelookout/pkg/logx"
)

type Config struct {
	Token     string
	Channel   string
	IconEmoji string

	Limits sink.Limits
}

type Driver struct {
	client  *slackapi.Client
	channel string
	icon    string
	lim     *sink.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("slack channel is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	icon := cfg.IconEmoji
	if icon == "" {
		icon = ":kubernetes:"
	}
	return &Driver{
		client:  slackapi.New(cfg.Token),
		channel: cfg.Channel,
		icon:    icon,
		lim:     sink.NewLimiter(cfg.Limits),
		log:     log,
	}, nil
}

// Apply swaps the delivery limits. Token/channel changes require a restart.
func (d *Driver) Apply(l sink.Limits) { d.lim.Apply(l) }

func (d *Driver) CreateThread(ctx context.Context, m sink.Message) (rollout.ThreadRef, error) {
	cctx, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return rollout.ThreadRef{}, err
	}
	defer cancel()

	ch, ts, err := d.client.PostMessageContext(cctx, d.channel,
		slackapi.MsgOptionBlocks(blocksFor(m)...),
		slackapi.MsgOptionIconEmoji(d.icon),
		slackapi.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return rollout.ThreadRef{}, err
	}
	return rollout.ThreadRef{Channel: ch, ID: ts}, nil
}

func (d *Driver) UpdateThread(ctx context.Context, ref rollout.ThreadRef, m sink.Message) error {
	if ref.IsZero() {
		return errors.New("empty thread handle")
	}
	cctx, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, _, _, err = d.client.UpdateMessageContext(cctx, ref.Channel, ref.ID,
		slackapi.MsgOptionBlocks(blocksFor(m)...),
	)
	return err
}

// PromoteThread posts a copy of the headline to the channel, linking back to
// the thread via its permalink so the conversation stays discoverable.
func (d *Driver) PromoteThread(ctx context.Context, ref rollout.ThreadRef, m sink.Message) error {
	if ref.IsZero() {
		return errors.New("empty thread handle")
	}
	cctx, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	link, err := d.client.GetPermalinkContext(cctx, &slackapi.PermalinkParameters{
		Channel: ref.Channel,
		Ts:      ref.ID,
	})
	if err != nil {
		d.log.Debug("permalink lookup failed; promoting without link", logx.Err(err))
	}

	text := "*" + escape(m.Headline) + "*"
	if link != "" {
		text += "\n<" + link + "|Rollout thread>"
	}
	_, _, err = d.client.PostMessageContext(cctx, d.channel,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionIconEmoji(d.icon),
		slackapi.MsgOptionDisableLinkUnfurl(),
	)
	return err
}

// PostText delivers one plain line, used by the chat log forwarder and the
// digest.
func (d *Driver) PostText(ctx context.Context, text string) error {
	cctx, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, _, err = d.client.PostMessageContext(cctx, d.channel,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionIconEmoji(d.icon),
		slackapi.MsgOptionDisableLinkUnfurl(),
	)
	return err
}

func blocksFor(m sink.Message) []slackapi.Block {
	header := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, "*"+escape(m.Headline)+"*", false, false),
		nil, nil,
	)

	var body strings.Builder
	for _, img := range m.Images {
		body.WriteString(escape(img))
		if m.ConsoleURL != "" {
			body.WriteString("  <" + m.ConsoleURL + "|console>")
		}
		body.WriteString("\n")
	}
	if len(m.Images) > 0 {
		body.WriteString("\n")
	}
	body.WriteString(escape(m.StatusLine))
	body.WriteString("\n\n")
	body.WriteString(m.ProgressBar)

	var accessory *slackapi.Accessory
	if m.IconURL != "" {
		accessory = slackapi.NewAccessory(slackapi.NewImageBlockElement(m.IconURL, "status image"))
	}
	section := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, body.String(), false, false),
		nil, accessory,
	)
	return []slackapi.Block{header, section}
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

var (
	_ sink.Sink       = (*Driver)(nil)
	_ sink.TextPoster = (*Driver)(nil)
)

// Describe returns a short label for logs.
func (d *Driver) Describe() string { return fmt.Sprintf("slack channel %s", d.channel) }
