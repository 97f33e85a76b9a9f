package bot

import (
	"context"
	"errors"

	tele "gopkg.in/telebot.v4"

	logx "newsbot/pkg/logx"
)

var commands = []string{"/start", "/help", "/subscribe", "/confirm", "/unsubscribe", "/stop", "/status"}

// Register binds the commands to tb. ctx bounds every handler; cancel it on
// shutdown.
func (b *Bot) Register(ctx context.Context, tb *tele.Bot) {
	for _, cmd := range commands {
		cmd := cmd
		tb.Handle(cmd, func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil {
				return nil
			}
			req := &Request{
				ChatID:   chat.ID,
				ChatType: string(chat.Type),
				Command:  cmd,
				Args:     c.Args(),
			}
			if u := c.Sender(); u != nil {
				req.FromID = u.ID
			}
			rep, err := b.Handle(ctx, req)
			return b.reply(c, rep, err)
		})
	}

	tb.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		chat := c.Chat()
		if cb == nil || chat == nil {
			return nil
		}
		var from int64
		if cb.Sender != nil {
			from = cb.Sender.ID
		}
		rep, err := b.HandleCallback(ctx, chat.ID, from, cb.Data)
		_ = c.Respond()
		return b.reply(c, rep, err)
	})
}

func (b *Bot) reply(c tele.Context, rep Reply, err error) error {
	switch {
	case errors.Is(err, ErrCooldown):
		return nil
	case err != nil:
		rep = Reply{Text: "Something went wrong. Please try again later."}
	}
	if rep.Text == "" {
		return nil
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if rep.Markup != nil {
		opts.ReplyMarkup = rep.Markup.Markup()
	}
	if sendErr := c.Send(rep.Text, opts); sendErr != nil {
		b.log.Warn("reply failed", logx.Int64("chat_id", c.Chat().ID), logx.Err(sendErr))
	}
	return nil
}
