package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spclaim/internal/alert"
	"spclaim/internal/claim"
	"spclaim/internal/claim/evm"
	"spclaim/internal/config"
	"spclaim/internal/eventbus"
	"spclaim/internal/runtime/supervisor"
	"spclaim/internal/task/engine"
	"spclaim/internal/task/scheduler"
	logx "spclaim/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	engine  *engine.Service
	sched   *scheduler.Service
	chain   *evm.Claimer
	invoker *claim.Invoker
	alerts  *alert.Service
	sd      *sdNotifier
}

type Option func(*options)

type options struct {
	claimer claim.Claimer
	lookup  func(string) (string, bool)
}

// WithClaimer replaces the on-chain claimer.
func WithClaimer(c claim.Claimer) Option {
	return func(o *options) { o.claimer = c }
}

// WithEnvLookup replaces os.LookupEnv for ${VAR} references in the config.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetEnvLookup(o.lookup)
	}
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{
		cfgm: cfgm,
		logs: logSvc,
		log:  log.With(logx.String("comp", "app")),
		bus:  eventbus.New(),
		sd:   newSdNotifier(cfg.Systemd.IsEnabled(), log.With(logx.String("comp", "systemd"))),
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus, engine.WithResultHandler(a.onResult))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")))

	chainCfg, err := mapChainConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.chain = evm.New(chainCfg, log.With(logx.String("comp", "evm")))
	claimer := claim.Claimer(a.chain)
	if o.claimer != nil {
		claimer = o.claimer
	}
	a.invoker = claim.NewInvoker(claimer, a.sched, log.With(logx.String("comp", "claim")))

	alertCfg, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := newAlertSender(cfg)
	if err != nil {
		return nil, err
	}
	a.alerts = alert.New(alertCfg, sender, a.bus, log.With(logx.String("comp", "alert")))

	reqs, err := mapClaims(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := a.invoker.Sync(reqs); err != nil {
		return nil, err
	}
	return a, nil
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

// Claims returns the names of the scheduled claims.
func (a *App) Claims() []string { return a.sched.Names() }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	// engine first so the first tick has workers
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("alerts", a.alerts.Run)

	// Debug-level so a per-second schedule does not flood the log.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if te, ok := e.Data.(engine.TaskEvent); ok {
					a.log.Trace("event", logx.String("type", e.Type), logx.String("task", te.Name), logx.Time("time", e.Time))
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.watchdog)

	claims := a.sched.Names()
	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d claims scheduled", len(claims)))
	a.log.Info("app started", logx.Int("claims", len(claims)), logx.String("tz", a.cfgm.Get().Scheduler.EffectiveTimezone()))
	return nil
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, claims := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.sd.SetEnabled(newCfg.Systemd.IsEnabled())

	// The validator already ran these mappings; errors here mean the
	// previous setting is kept.
	newEng, err := mapTaskEngineConfig(newCfg)
	schedCfg := mapSchedulerConfig(newCfg)
	switch {
	case err != nil:
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		a.sched.Apply(c, schedCfg)
	case !newEng.Enabled:
		// stop triggers before their executor
		a.sched.Apply(c, schedCfg)
		a.engine.Apply(c, newEng)
	default:
		wasEnabled := a.engine.Enabled()
		a.engine.Apply(c, newEng)
		if !wasEnabled {
			a.log.Info("task engine enabled via config")
			a.engine.Start(c)
		}
		a.sched.Apply(c, schedCfg)
	}

	if chainCfg, err := mapChainConfig(newCfg); err != nil {
		a.log.Warn("invalid chain config; keeping previous", logx.Err(err))
	} else {
		a.chain.Apply(chainCfg)
	}

	alertCfg, err := mapAlertConfig(newCfg)
	var sender alert.Sender
	if err == nil {
		sender, err = newAlertSender(newCfg)
	}
	if err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		a.alerts.Apply(alertCfg, sender)
	}

	// Network defaults feed every claim, so a change there re-syncs too.
	if !claims.Empty() || oldCfg == nil || oldCfg.Network != newCfg.Network || oldCfg.Scheduler.EffectiveTimezone() != newCfg.Scheduler.EffectiveTimezone() {
		reqs, err := mapClaims(newCfg)
		if err != nil {
			a.log.Warn("some claims are invalid", logx.Err(err))
		}
		names, err := a.invoker.Sync(reqs)
		if err != nil {
			a.log.Warn("claim sync incomplete", logx.Err(err))
		}
		a.log.Info("claims synced",
			logx.Int("scheduled", len(names)),
			logx.Any("added", claims.Added),
			logx.Any("removed", claims.Removed),
			logx.Any("changed", claims.Changed),
		)
		a.sd.Status(fmt.Sprintf("%d claims scheduled", len(names)))
	}

	a.sd.Reloaded()
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// onResult is called on the engine worker after every run.
func (a *App) onResult(r engine.Result) {
	switch {
	case r.OK():
		a.log.Info("claim ok",
			logx.String("claim", r.Name),
			logx.Int("attempts", r.Attempts),
			logx.Duration("took", r.Duration),
		)
	case errors.Is(r.Err, engine.ErrStale):
		a.log.Warn("claim dropped",
			logx.String("claim", r.Name),
			logx.Duration("queue_delay", r.QueueDelay),
		)
	default:
		a.log.Warn("claim failed",
			logx.String("claim", r.Name),
			logx.Int("attempts", r.Attempts),
			logx.Bool("permanent", engine.IsNoRetry(r.Err)),
			logx.Duration("took", r.Duration),
			logx.Err(r.Err),
		)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			}()
		}
	}

	// triggers, then the runs they started, then the connections those runs use
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("chain", time.Second, func(context.Context) error { a.chain.Close(); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	snap := a.engine.Snapshot()
	sent, dropped, _ := a.alerts.Stats()
	a.log.Info("stopped",
		logx.Uint64("claims_ok", snap.Completed),
		logx.Uint64("claims_failed", snap.Failed),
		logx.Uint64("ticks_skipped", snap.Skipped),
		logx.Uint64("ticks_dropped", snap.DroppedQueueFull+snap.DroppedStale),
		logx.Uint64("alerts_sent", sent),
		logx.Uint64("alerts_dropped", dropped),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
