package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"newsbot/internal/bot"
	"newsbot/internal/config"
	"newsbot/internal/metrics"
	"newsbot/internal/ops"
	"newsbot/internal/runtime/supervisor"
	"newsbot/internal/task/scheduler"
	logx "newsbot/pkg/logx"
	"newsbot/pkg/systemd"
)

type App struct {
	cfgm  *config.ConfigManager
	sup   *supervisor.Supervisor
	clock clockwork.Clock

	log  logx.Logger
	logs *logx.Service

	engine  *Engine
	bot     *bot.Bot
	sched   *scheduler.Service
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	ops     *ops.Server

	botEnabled bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// alerts need the gateway; it is attached once built
	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	clock := clockwork.NewRealClock()

	eng, err := Build(cfg, BuildOptions{WithGateway: true, Clock: clock}, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(eng.Telegram)

	botCfg, err := mapBot(cfg)
	if err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}
	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}
	opsCfg, err := mapOps(cfg)
	if err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfgm:       cfgm,
		clock:      clock,
		log:        log,
		logs:       logSvc,
		engine:     eng,
		bot:        bot.New(botCfg, eng.Subscriptions, clock, root),
		sched:      scheduler.New(schedCfg, clock, root),
		reg:        reg,
		metrics:    metrics.New(reg),
		botEnabled: cfg.Bot.Enabled,
	}
	a.ops = ops.New(opsCfg, reg, a.health, root)
	if err := a.applySchedules(cfg); err != nil {
		_ = eng.Close(context.Background())
		return nil, err
	}
	return a, nil
}

// health is healthy when storage answers and the gateway breaker is not open.
func (a *App) health(ctx context.Context) error {
	if err := a.engine.Store.Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if a.engine.Breaker != nil && a.engine.Breaker.Open() {
		return errors.New("gateway: circuit open")
	}
	return nil
}

// applySchedules (re)registers the periodic jobs. AddSchedule upserts by
// name, so a reload only swaps specs.
func (a *App) applySchedules(cfg *config.Config) error {
	bc, err := mapBroadcast(cfg)
	if err != nil {
		return err
	}
	if cfg.Broadcast.Enabled {
		spec := scheduleOrDefault(cfg.Broadcast.Schedule, defaultBroadcastSchedule)
		// the pass enforces its own timeout
		if err := a.sched.AddSchedule(jobBroadcast, spec, bc.PassTimeout+time.Minute, a.runBroadcast); err != nil {
			return fmt.Errorf("broadcast.schedule: %w", err)
		}
	} else {
		a.sched.Remove(jobBroadcast)
	}

	ic, err := mapIngest(cfg)
	if err != nil {
		return err
	}
	if cfg.Ingest.Enabled {
		spec := scheduleOrDefault(cfg.Ingest.Schedule, defaultIngestSchedule)
		timeout := ic.Timeout * time.Duration(max(1, len(ic.Feeds)))
		if err := a.sched.AddSchedule(jobIngest, spec, timeout, a.runIngest); err != nil {
			return fmt.Errorf("ingest.schedule: %w", err)
		}
	} else {
		a.sched.Remove(jobIngest)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if a.botEnabled {
		a.bot.Register(runCtx, a.engine.Telegram.Bot())
		if err := a.engine.Telegram.Start(runCtx); err != nil {
			return err
		}
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	if a.ops.Enabled() {
		if err := a.ops.Start(runCtx); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.reload(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c, a.health); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	if _, err := systemd.Ready("serving"); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.Bool("bot", a.botEnabled),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("ops", a.ops.Enabled()),
	)
	return nil
}

// reload applies a committed config. Storage and Telegram connection
// settings only take effect after a restart.
func (a *App) reload(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading("applying config")
	defer func() { _, _ = systemd.Ready("serving") }()

	a.logs.Apply(mapLogging(cfg))

	if err := a.engine.Apply(cfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	}
	if bc, err := mapBot(cfg); err != nil {
		a.log.Warn("invalid bot config; keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(bc)
	}
	if cfg.Bot.Enabled != a.botEnabled {
		a.log.Warn("bot.enabled changed; restart required")
	}

	if sc, err := mapScheduler(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(sc)
		if err := a.applySchedules(cfg); err != nil {
			a.log.Warn("schedule update failed", logx.Err(err))
		}
		switch {
		case wasEnabled && !sc.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && sc.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if oc, err := mapOps(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else if err := a.ops.Reconfigure(ctx, oc); err != nil {
		a.log.Warn("ops reconfigure failed", logx.Err(err))
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// RunNow triggers a scheduled job immediately.
func (a *App) RunNow(ctx context.Context, job string) error {
	return a.sched.RunNow(ctx, job)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping(string(reason))

	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// the scheduler waits for an in-flight pass; give it the pass budget's tail
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("engine", 3*time.Second, a.engine.Close)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}
