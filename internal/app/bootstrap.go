package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"newsbot/internal/broadcast"
	"newsbot/internal/config"
	"newsbot/internal/gateway"
	"newsbot/internal/ingest"
	"newsbot/internal/storage"
	"newsbot/internal/subscription"
	logx "newsbot/pkg/logx"
)

// Engine is the broadcast engine and its collaborators, without any of the
// daemon's long-running surfaces. newsctl builds one for one-shot commands.
type Engine struct {
	Clock         clockwork.Clock
	Store         storage.Store
	Telegram      *gateway.Telegram // nil when built without a gateway
	Breaker       *gateway.Breaker
	Subscriptions *subscription.Service
	Orchestrator  *broadcast.Orchestrator
	Ingest        *ingest.Poller
}

type BuildOptions struct {
	// WithGateway connects the Telegram gateway; without it the engine can
	// only ingest and inspect storage.
	WithGateway bool
	// Offline skips the gateway handshake at construction.
	Offline bool
	Clock   clockwork.Clock
}

// OpenStore opens storage as configured.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log.With(logx.String("comp", "storage")))
}

// NewGateway builds the Telegram gateway and the breaker that guards it.
func NewGateway(cfg *config.Config, offline bool, log logx.Logger) (*gateway.Telegram, *gateway.Breaker, error) {
	tc, err := mapTelegram(cfg)
	if err != nil {
		return nil, nil, err
	}
	tc.Offline = offline
	bc, err := mapBreaker(cfg)
	if err != nil {
		return nil, nil, err
	}
	tg, err := gateway.NewTelegram(tc, log)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, gateway.NewBreaker(tg, bc, log), nil
}

// Build wires storage, the gateway and the engine from cfg. The caller owns
// the result and must Close it.
func Build(cfg *config.Config, opts BuildOptions, log logx.Logger) (*Engine, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{Clock: clock}

	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}
	e.Store = store

	fail := func(err error) (*Engine, error) {
		_ = e.Close(context.Background())
		return nil, err
	}

	subCfg, err := mapSubscription(cfg)
	if err != nil {
		return fail(err)
	}
	e.Subscriptions = subscription.New(store, subCfg, clock)

	ic, err := mapIngest(cfg)
	if err != nil {
		return fail(err)
	}
	e.Ingest = ingest.New(ic, store, clock, log.With(logx.String("comp", "ingest")))

	if !opts.WithGateway {
		return e, nil
	}
	tg, br, err := NewGateway(cfg, opts.Offline, log)
	if err != nil {
		return fail(err)
	}
	e.Telegram, e.Breaker = tg, br

	bc, err := mapBroadcast(cfg)
	if err != nil {
		return fail(err)
	}
	e.Orchestrator = broadcast.New(bc, store, br, clock)
	return e, nil
}

// ErrNoGateway is returned by engine operations that need to send.
var ErrNoGateway = errors.New("engine built without gateway")

// RunPass runs one broadcast pass.
func (e *Engine) RunPass(ctx context.Context) (broadcast.PassStats, error) {
	if e.Orchestrator == nil {
		return broadcast.PassStats{}, ErrNoGateway
	}
	return e.Orchestrator.RunPass(ctx)
}

// Apply pushes hot-reloadable settings into the engine.
func (e *Engine) Apply(cfg *config.Config) error {
	subCfg, err := mapSubscription(cfg)
	if err != nil {
		return err
	}
	ic, err := mapIngest(cfg)
	if err != nil {
		return err
	}
	var bc broadcast.Config
	if e.Orchestrator != nil {
		if bc, err = mapBroadcast(cfg); err != nil {
			return err
		}
	}
	e.Subscriptions.Apply(subCfg)
	e.Ingest.Apply(ic)
	if e.Orchestrator != nil {
		e.Orchestrator.Apply(bc)
	}
	return nil
}

func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.Telegram != nil {
		errs = append(errs, e.Telegram.Stop(ctx))
	}
	if e.Store != nil {
		errs = append(errs, e.Store.Close())
	}
	return errors.Join(errs...)
}
