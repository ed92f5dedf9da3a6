package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outagebot/internal/config"
	"outagebot/internal/eventbus"
	"outagebot/internal/observability/ops"
	"outagebot/internal/outage"
	"outagebot/internal/pipeline"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/storage"
	"outagebot/internal/task/scheduler"
	kit "outagebot/internal/transport"
	telegram "outagebot/internal/transport/telegram/adapter"
	"outagebot/internal/transport/telegram/router"
	logx "outagebot/pkg/logx"
)

// ErrNoTelegram is returned by sends when no bot token is configured.
var ErrNoTelegram = fmt.Errorf("%w: telegram token not configured", outage.ErrSend)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store *storage.Store

	// adapter and cmdm are nil when no bot token is configured.
	adapter *telegram.Adapter
	cmdm    *router.CommandManager

	fanout *outage.Fanout
	pipe   *pipeline.Pipeline
	sched  *scheduler.Service
	ops    *ops.Service
	sd     *sdNotifier

	provider  string
	schedName string
	updates   chan kit.Update
}

// NewApp builds every component from the committed config of cfgm (loading
// it when nothing is committed yet). Nothing runs until Start.
func NewApp(cfgm *config.ConfigManager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	logSvc, root := logx.New(mapLogging(cfg), nil)
	log := root.With(logx.String("comp", "app"))
	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New(), updates: make(chan kit.Update, 256)}
	a.sd = newSdNotifier(root.With(logx.String("comp", "systemd")))

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(sc, root.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	}

	tc, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	var sender outage.Sender = unavailableSender{}
	if tc.Token != "" {
		if a.adapter, err = telegram.New(tc, root.With(logx.String("comp", "telegram"))); err != nil {
			return nil, err
		}
		sender = a.adapter
		logSvc.SetSender(a.adapter)
	} else {
		log.Warn("telegram token not set; bot and notifications disabled")
	}

	fetcher, provider, err := mapProvider(cfg, root.With(logx.String("comp", "provider")))
	if err != nil {
		return nil, err
	}
	a.provider = provider
	a.schedName = scheduleName(provider)

	composer := mapComposer(cfg)
	a.fanout = outage.NewFanout(mapFanout(cfg), a.store, sender, root.With(logx.String("comp", "fanout")))
	a.pipe, err = pipeline.New(pipeline.Deps{
		Fetcher:  fetcher,
		Store:    a.store,
		Fanout:   a.fanout,
		Composer: composer,
		Bus:      a.bus,
		Prune:    mapPrune(cfg),
		Log:      root.With(logx.String("comp", "pipeline")),
	})
	if err != nil {
		return nil, err
	}

	ss, err := mapSchedule(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(ss.service, root.With(logx.String("comp", "scheduler")))
	if err := a.sched.AddSchedule(a.schedName, ss.spec, ss.timeout, a.runScheduled); err != nil {
		return nil, err
	}

	if a.adapter != nil {
		rc, err := mapRouter(cfg, provider)
		if err != nil {
			return nil, err
		}
		a.cmdm = router.NewCommandManager(rc, root.With(logx.String("comp", "router")), a.adapter, a.store, a.pipe, composer)
	}

	oc, err := mapOps(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(oc, ops.Deps{
		Runner:       a.pipe,
		Schedule:     a.sched,
		Provider:     provider,
		ScheduleName: a.schedName,
		Supervisors:  a.supervisorStats,
	}, root.With(logx.String("comp", "ops")))

	ok = true
	return a, nil
}

// Pipeline exposes the detection pipeline for one-shot CLI commands.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Provider is the key snapshots of the configured publisher are stored under.
func (a *App) Provider() string { return a.provider }

func (a *App) Logger() logx.Logger { return a.log }

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

func (a *App) runScheduled(ctx context.Context) error {
	_, err := a.pipe.Run(ctx, a.provider)
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
		a.sup.Go("commands.menu", func(c context.Context) error {
			if err := a.cmdm.PublishMenu(c); err != nil {
				a.log.Warn("publish bot menu failed", logx.Err(err))
			}
			return nil
		})
	}

	a.sched.Start(a.sup.Context())
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Schedule.RunOnStart {
		a.sup.Go("fetch.initial", a.initialRun)
	}

	if err := a.ops.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("ops: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", a.sd.watchdog)

	a.sd.ready()
	a.log.Info("app started",
		logx.String("provider", a.provider),
		logx.Bool("telegram", a.adapter != nil),
		logx.String("schedule", a.schedName),
	)
	return nil
}

// initialRun fetches once right after start. The scheduler's overlap guard
// applies when it is running.
func (a *App) initialRun(ctx context.Context) error {
	var err error
	if a.sched.Enabled() {
		err = a.sched.Trigger(a.schedName)
	} else {
		err = a.runScheduled(ctx)
	}
	if err != nil && !errors.Is(err, scheduler.ErrSkipped) && ctx.Err() == nil {
		a.log.Warn("initial fetch failed", logx.Err(err))
	}
	return nil
}

func (a *App) supervisorStats() map[string][]rtsup.Stats {
	out := map[string][]rtsup.Stats{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if a.adapter != nil {
		if s := a.adapter.Supervisor(); s != nil {
			out["telegram.adapter"] = s.Snapshot()
		}
	}
	if a.cmdm != nil {
		if s := a.cmdm.Supervisor(); s != nil {
			out["router"] = s.Snapshot()
		}
	}
	return out
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	step := func(name string, maxDur time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedContext(ctx, maxDur)
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

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	// config watch/reload, command dispatch and triggered runs
	step("supervisor", 3*time.Second, a.sup.Stop)
	a.log.Info("stopped")
	a.Close()
	return nil
}

// boundedContext derives a context that ends after maxDur without extending
// the parent deadline.
func boundedContext(parent context.Context, maxDur time.Duration) (context.Context, context.CancelFunc) {
	if maxDur <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, maxDur)
}

// Close releases storage and log sinks. Safe to call more than once.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

type unavailableSender struct{}

func (unavailableSender) Send(context.Context, outage.Target, outage.Message, bool) (outage.Receipt, error) {
	return outage.Receipt{}, ErrNoTelegram
}
