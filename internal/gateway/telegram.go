package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "newsbot/internal/runtime/supervisor"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/tgui"
)

type TelegramConfig struct {
	Token          string
	APIURL         string // empty = api.telegram.org
	PollTimeout    time.Duration
	RequestTimeout time.Duration
	// Offline skips the getMe handshake in NewBot. Used by one-shot CLI
	// commands that never poll.
	Offline bool
}

// Telegram is the Gateway backed by the Bot API.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	log = log.With(logx.String("comp", "gateway.telegram"))

	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.RequestTimeout + cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying bot for command handler registration.
func (t *Telegram) Bot() *tele.Bot { return t.bot }

// SendMessage sends one HTML message. The request is not abandoned when ctx
// is cancelled mid-flight: a message Telegram accepted must be reported as
// sent, or it would be sent again on the next pass.
func (t *Telegram) SendMessage(ctx context.Context, recipientID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tgui.VisibleLen(text) > MaxMessageLen {
		return &Failure{Class: ClassUnknown, Description: "message too long", Err: ErrMessageTooLong}
	}
	_, err := t.bot.Send(tele.ChatID(recipientID), text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return Classify(err)
	}
	return nil
}

// SendAlert sends plain text to an operator chat (logx.Sender).
func (t *Telegram) SendAlert(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = tgui.TruncUTF16(text, MaxMessageLen)
	_, err := t.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

// Ping calls getMe.
func (t *Telegram) Ping(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		_, err := t.bot.Raw("getMe", nil)
		errc <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return Classify(err)
		}
		return nil
	}
}

// Start runs the long-poll loop for command handlers under a restart loop.
func (t *Telegram) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running {
		return nil
	}
	t.running = true
	t.sup = rtsup.New(ctx, rtsup.WithLogger(t.log))
	sup := t.sup

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		t.bot.Stop()
	})
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		t.log.Info("polling started")
		t.bot.Start() // blocks until Stop
		t.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling, waiting at most two seconds for the long poll to return.
func (t *Telegram) Stop(ctx context.Context) error {
	t.runMu.Lock()
	sup := t.sup
	t.sup = nil
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			t.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		t.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}
