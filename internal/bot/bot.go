// Package bot is the Telegram command surface for subscribers: /subscribe,
// /confirm, /unsubscribe and /status. Handlers return the reply instead of
// sending it so they can be driven without a live bot.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/cache"
	"newsbot/internal/model"
	"newsbot/internal/subscription"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

const callbackNS = "sub"

// Subscriptions is the state machine the commands drive.
type Subscriptions interface {
	Subscribe(ctx context.Context, req subscription.Request) (subscription.Result, error)
	Confirm(ctx context.Context, recipientID int64, token string) (subscription.Result, error)
	Unsubscribe(ctx context.Context, recipientID int64) (subscription.Result, error)
	Status(ctx context.Context, recipientID int64) (model.Subscription, model.SubscriptionState, error)
}

type Config struct {
	CommandTimeout time.Duration
	// Cooldown is the minimum gap between two identical commands from one chat.
	Cooldown time.Duration
	// DisplayZone renders expiry times; nil means UTC.
	DisplayZone *time.Location
}

type Request struct {
	ChatID   int64
	ChatType string
	FromID   int64
	Command  string
	Args     []string
}

type Reply struct {
	Text   string
	Markup *tgui.Inline
}

type Bot struct {
	subs  Subscriptions
	clock clockwork.Clock
	log   logx.Logger

	mu       sync.RWMutex
	cfg      Config
	cooldown *cache.Cache[string, struct{}]
	handler  HandlerFunc
}

func New(cfg Config, subs Subscriptions, clock clockwork.Clock, log logx.Logger) *Bot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{subs: subs, clock: clock, log: log.With(logx.String("comp", "bot"))}
	b.Apply(cfg)
	return b
}

// Apply rebuilds the middleware chain. Cooldown state is reset.
func (b *Bot) Apply(cfg Config) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}
	var cd *cache.Cache[string, struct{}]
	if cfg.Cooldown > 0 {
		cd = cache.New[string, struct{}](cache.Options{TTL: cfg.Cooldown, MaxEntries: 10_000, Clock: b.clock})
	}
	h := Chain(b.route,
		MWPanicRecover(b.log),
		MWRequestLog(b.log, b.clock),
		MWCooldown(cd),
		MWTimeout(cfg.CommandTimeout),
	)
	b.mu.Lock()
	b.cfg = cfg
	b.cooldown = cd
	b.handler = h
	b.mu.Unlock()
}

// Handle runs one command through the middleware chain.
func (b *Bot) Handle(ctx context.Context, req *Request) (Reply, error) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	req.Command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Command), "/"))
	if i := strings.IndexByte(req.Command, '@'); i >= 0 {
		req.Command = req.Command[:i]
	}
	return h(ctx, req)
}

// HandleCallback maps inline button data to a command.
func (b *Bot) HandleCallback(ctx context.Context, chatID, fromID int64, data string) (Reply, error) {
	ns, action, payload, ok := tgui.ParseData(data)
	if !ok || ns != callbackNS {
		return Reply{}, nil
	}
	switch action {
	case "confirm":
		return b.Handle(ctx, &Request{ChatID: chatID, FromID: fromID, Command: "confirm", Args: []string{payload}})
	default:
		return Reply{}, nil
	}
}

func (b *Bot) route(ctx context.Context, req *Request) (Reply, error) {
	switch req.Command {
	case "start", "help":
		return Reply{Text: helpText()}, nil
	case "subscribe":
		return b.subscribe(ctx, req)
	case "confirm":
		return b.confirm(ctx, req)
	case "unsubscribe", "stop":
		return b.unsubscribe(ctx, req)
	case "status":
		return b.status(ctx, req)
	default:
		return Reply{Text: "Unknown command. Try /help."}, nil
	}
}

func helpText() string {
	return tgui.New().
		Title("📰", "News broadcast").
		Blank().
		Line("/subscribe [source ...] - start receiving news, optionally only from some sources").
		Line("/confirm <code> - confirm your subscription").
		Line("/status - show your subscription").
		Line("/unsubscribe - stop receiving news").
		String()
}

func (b *Bot) zone() *time.Location {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cfg.DisplayZone != nil {
		return b.cfg.DisplayZone
	}
	return time.UTC
}

func (b *Bot) subscribe(ctx context.Context, req *Request) (Reply, error) {
	sr := subscription.Request{RecipientID: req.ChatID, ChatType: req.ChatType}
	if len(req.Args) > 0 {
		f := model.NewFilter(req.Args...)
		sr.Filter = &f
	}
	res, err := b.subs.Subscribe(ctx, sr)
	if err != nil {
		return Reply{}, err
	}

	if res.Outcome == subscription.OutcomeAlreadyActive {
		return Reply{Text: tgui.New().
			Title("✅", "Already subscribed").
			KV("Sources", res.Subscription.Filter.String()).
			String()}, nil
	}

	msg := tgui.New().
		Title("✉️", "Confirm your subscription").
		Line("Send this within the confirmation window:").
		Code("/confirm " + res.Token).
		KV("Expires", res.ExpiresAt.In(b.zone()).Format("2006-01-02 15:04:05")).
		KV("Sources", res.Subscription.Filter.String())
	rep := Reply{Text: msg.String()}
	if data, err := tgui.Data(callbackNS, "confirm", res.Token); err == nil {
		rep.Markup = tgui.NewInline().Row(tgui.Btn("Confirm", data))
	}
	return rep, nil
}

func (b *Bot) confirm(ctx context.Context, req *Request) (Reply, error) {
	if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
		return Reply{Text: "Usage: /confirm <code>"}, nil
	}
	res, err := b.subs.Confirm(ctx, req.ChatID, req.Args[0])
	switch {
	case errors.Is(err, subscription.ErrNotFound), errors.Is(err, subscription.ErrNotPending):
		return Reply{Text: "Nothing to confirm. Send /subscribe first."}, nil
	case errors.Is(err, subscription.ErrTokenExpired):
		return Reply{Text: "That code has expired. Send /subscribe for a new one."}, nil
	case errors.Is(err, subscription.ErrTokenMismatch):
		return Reply{Text: "That code does not match. Use the latest one you received."}, nil
	case err != nil:
		return Reply{}, err
	}
	if res.Outcome == subscription.OutcomeAlreadyActive {
		return Reply{Text: "Your subscription is already active."}, nil
	}
	return Reply{Text: tgui.New().Title("✅", "Subscribed").Line("You will receive news here.").String()}, nil
}

func (b *Bot) unsubscribe(ctx context.Context, req *Request) (Reply, error) {
	res, err := b.subs.Unsubscribe(ctx, req.ChatID)
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		return Reply{Text: "You are not subscribed."}, nil
	case err != nil:
		return Reply{}, err
	}
	if res.Outcome == subscription.OutcomeAlreadyCancelled {
		return Reply{Text: "You are not subscribed."}, nil
	}
	return Reply{Text: "Unsubscribed. Send /subscribe to come back."}, nil
}

func (b *Bot) status(ctx context.Context, req *Request) (Reply, error) {
	sub, state, err := b.subs.Status(ctx, req.ChatID)
	if err != nil {
		return Reply{}, err
	}
	msg := tgui.New().Title("ℹ️", "Subscription").KV("State", string(state))
	switch state {
	case model.StateNone:
		msg.Line("Send /subscribe to start.")
	case model.StateActive:
		msg.KV("Sources", sub.Filter.String()).
			KV("Since", sub.ConfirmedAt.In(b.zone()).Format("2006-01-02 15:04"))
	case model.StatePending:
		msg.KV("Code expires", sub.TokenExpiresAt.In(b.zone()).Format("2006-01-02 15:04:05"))
	case model.StateExpired:
		msg.Line("Your code expired. Send /subscribe for a new one.")
	case model.StateCancelled:
		if sub.DisabledReason != "" {
			msg.KV("Reason", sub.DisabledReason)
		}
	}
	return Reply{Text: msg.String()}, nil
}
