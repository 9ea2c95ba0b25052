// Package telegram delivers rollout threads to a Telegram chat. The bot is
// send-only: it never polls for updates. Messages use HTML parse mode, and
// promotion posts a fresh message quoting the thread head.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"kubelookout/internal/rollout"
	"kubelookout/internal/sink"
	logx "kubelookout/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
	// TopicID targets a forum topic; 0 means the plain chat.
	TopicID int

	Limits sink.Limits
}

type Driver struct {
	bot    *tele.Bot
	chatID int64
	topic  int
	lim    *sink.Limiter
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Driver, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Driver{
		bot:    b,
		chatID: cfg.ChatID,
		topic:  cfg.TopicID,
		lim:    sink.NewLimiter(cfg.Limits),
		log:    log,
	}, nil
}

// Apply swaps the delivery limits. Token/chat changes require a restart.
func (d *Driver) Apply(l sink.Limits) { d.lim.Apply(l) }

func (d *Driver) CreateThread(ctx context.Context, m sink.Message) (rollout.ThreadRef, error) {
	_, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return rollout.ThreadRef{}, err
	}
	defer cancel()

	msg, err := d.bot.Send(&tele.Chat{ID: d.chatID}, renderHTML(m), d.sendOptions(0))
	if err != nil {
		return rollout.ThreadRef{}, err
	}
	return rollout.ThreadRef{
		Channel: strconv.FormatInt(d.chatID, 10),
		ID:      strconv.Itoa(msg.ID),
	}, nil
}

func (d *Driver) UpdateThread(ctx context.Context, ref rollout.ThreadRef, m sink.Message) error {
	msg, err := editable(ref)
	if err != nil {
		return err
	}
	_, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = d.bot.Edit(msg, renderHTML(m), d.sendOptions(0))
	return err
}

// PromoteThread posts a fresh message replying to the thread head, which
// pins the rollout visibly in the chat while keeping the thread link.
func (d *Driver) PromoteThread(ctx context.Context, ref rollout.ThreadRef, m sink.Message) error {
	msg, err := editable(ref)
	if err != nil {
		return err
	}
	_, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = d.bot.Send(&tele.Chat{ID: d.chatID}, renderHTML(m), d.sendOptions(msg.ID))
	return err
}

// PostText delivers one plain line, used by the chat log forwarder and the
// digest.
func (d *Driver) PostText(ctx context.Context, text string) error {
	_, cancel, err := d.lim.Begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = d.bot.Send(&tele.Chat{ID: d.chatID}, html.EscapeString(text), d.sendOptions(0))
	return err
}

func (d *Driver) sendOptions(replyTo int) *tele.SendOptions {
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              d.topic,
	}
	if replyTo != 0 {
		opt.ReplyTo = &tele.Message{ID: replyTo, Chat: &tele.Chat{ID: d.chatID}}
	}
	return opt
}

func editable(ref rollout.ThreadRef) (*tele.Message, error) {
	if ref.IsZero() {
		return nil, errors.New("empty thread handle")
	}
	chatID, err := strconv.ParseInt(ref.Channel, 10, 64)
	if err != nil {
		return nil, errors.New("malformed thread handle: " + ref.Channel)
	}
	msgID, err := strconv.Atoi(ref.ID)
	if err != nil {
		return nil, errors.New("malformed thread handle: " + ref.ID)
	}
	return &tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}, nil
}

func renderHTML(m sink.Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(m.Headline))
	b.WriteString("</b>\n")
	for _, img := range m.Images {
		b.WriteString(html.EscapeString(img))
		if m.ConsoleURL != "" {
			b.WriteString(` <a href="` + m.ConsoleURL + `">console</a>`)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(html.EscapeString(m.StatusLine))
	b.WriteString("\n")
	b.WriteString(m.ProgressBar)
	return b.String()
}

func (d *Driver) Describe() string { return fmt.Sprintf("telegram chat %d", d.chatID) }

var (
	_ sink.Sink       = (*Driver)(nil)
	_ sink.TextPoster = (*Driver)(nil)
)
