package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"procnotify/internal/batch"
	"procnotify/internal/config"
	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	"procnotify/internal/mail"
	"procnotify/internal/notifier"
	"procnotify/internal/render"
	"procnotify/internal/runtime/supervisor"
	"procnotify/internal/source"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	store  storage.Store
	pruner *storage.Pruner

	render *render.Renderer
	notif  *notifier.Service
	queue  *batch.Queue
	src    source.Source

	filter   atomic.Pointer[event.Filter]
	enricher atomic.Pointer[event.Enricher]

	clock    batch.Clock
	stopOnce sync.Once
	reason   atomic.Value // StopReason
}

// Option customizes NewApp. Tests use it to replace I/O edges.
type Option func(*options)

type options struct {
	transport mail.Transport
	source    source.Source
	clock     batch.Clock
	logger    *logx.Logger
}

func WithTransport(tr mail.Transport) Option { return func(o *options) { o.transport = tr } }

func WithSource(src source.Source) Option { return func(o *options) { o.source = src } }

func WithClock(c batch.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger replaces the config-driven logger.
func WithLogger(l logx.Logger) Option { return func(o *options) { o.logger = &l } }

// NewApp loads envPath and cfgPath and wires every component. Config
// problems are returned as *config.ConfigError.
func NewApp(cfgPath, envPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if err := config.LoadEnvFile(envPath); err != nil {
		return nil, err
	}

	r := render.New()
	cfgm := config.NewManager(cfgPath)
	// Reloads are rejected unless the templates compile and derived
	// settings map cleanly.
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := buildEnricher(cfg, cfgm.Dir(), r); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg, cfgm.Dir()); err != nil {
			return err
		}
		return nil
	})
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg, cfgm.Dir()))
	if o.logger != nil {
		log = *o.logger
	}
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		render:  r,
		clock:   o.clock,
	}
	a.reason.Store(StopUnknown)
	if a.clock == nil {
		a.clock = batch.RealClock()
	}

	enr, err := buildEnricher(cfg, cfgm.Dir(), r)
	if err != nil {
		return nil, err
	}
	a.enricher.Store(enr)
	a.filter.Store(event.NewFilter(cfg.Events))

	// Storage (optional)
	plan, enabled, err := mapStorageConfig(cfg, cfgm.Dir())
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(plan.store, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		if plan.retention > 0 {
			p, err := storage.NewPruner(st, plan.schedule, plan.retention, log)
			if err != nil {
				_ = st.Close()
				return nil, &config.ConfigError{Path: "storage.prune_schedule", Err: err}
			}
			a.pruner = p
		}
		log.Info("storage enabled", logx.String("driver", plan.store.Driver), logx.Duration("retention", plan.retention))
	}

	tr := o.transport
	if tr == nil {
		tr, err = mail.Open(context.Background(), cfg)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("open mail transport: %w", err)
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notif = notifier.New(ncfg, tr, log, a.bus, a.store)
	if len(ncfg.Client) == 0 && len(ncfg.Tech) == 0 {
		log.Warn("no recipients configured; notifications are disabled")
	}
	logSvc.SetMailSender(a.notif)

	a.queue = batch.New(batch.Config{
		Policy:       mapBatchPolicy(cfg),
		GroupSubject: enr.GroupSubject,
	}, a.submit,
		batch.WithClock(a.clock),
		batch.WithLogger(log),
		batch.WithBus(a.bus),
	)

	a.src = o.source
	if a.src == nil {
		a.src, err = source.Open(cfg.Source, log)
		if err != nil {
			a.closeStore()
			return nil, &config.ConfigError{Path: "source", Err: err}
		}
	}

	log.Info("configured",
		logx.String("transport", tr.Name()),
		logx.String("source", a.src.Name()),
		logx.Strings("events", cfg.Events),
		logx.Duration("polling", cfg.Polling.Duration()),
		logx.Duration("max_polling_time", cfg.MaxPollingTime.Duration()),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error,
// source termination with exit_on_terminate, or Stop()).
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

// Reason reports why the app stopped or is about to stop.
func (a *App) Reason() StopReason {
	r, _ := a.reason.Load().(StopReason)
	return r
}

// Queue exposes the batch queue for inspection.
func (a *App) Queue() *batch.Queue { return a.queue }

// Bus exposes the in-process event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// The notifier outlives the app context so Stop can drain it.
	a.notif.Start(context.WithoutCancel(a.sup.Context()))
	if a.pruner != nil {
		a.pruner.Start()
	}

	// Keep this debug-level; batches and deliveries are already logged.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.GoRestart("source."+a.src.Name(), a.runSource,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
	)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// runSource streams events until ctx ends. Transient errors are returned so
// the supervisor restarts the source; termination is final.
func (a *App) runSource(ctx context.Context) error {
	err := a.src.Run(ctx, a)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	var te *source.TerminatedError
	if !errors.As(err, &te) {
		return err
	}
	eventbus.Publish(a.bus, eventbus.TypeSourceStopped, te.Reason)
	a.log.Error("event source terminated", logx.String("source", te.Source), logx.String("reason", te.Reason), logx.Err(te.Err))

	cfg := a.cfgm.Get()
	if cfg != nil && cfg.Source.ExitOnTerminate {
		a.log.Info("exit_on_terminate set; flushing pending events", logx.Int("pending", a.queue.Len()))
		a.queue.Flush()
		a.reason.Store(StopSourceTerminated)
		a.sup.Cancel()
	}
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed := config.Changed(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sections := make([]string, 0, len(changed))
	for s := range changed {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	for _, s := range []string{config.SectionTransport, config.SectionSource, config.SectionStorage} {
		if changed[s] {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if changed[config.SectionLogging] {
		a.logs.Apply(mapLoggingConfig(next, a.cfgm.Dir()))
	}
	if changed[config.SectionBatch] {
		a.filter.Store(event.NewFilter(next.Events))
	}
	if changed[config.SectionRender] {
		enr, err := buildEnricher(next, a.cfgm.Dir(), a.render)
		if err != nil {
			a.log.Warn("invalid templates; keeping previous", logx.Err(err))
		} else {
			a.enricher.Store(enr)
		}
	}
	if changed[config.SectionBatch] || changed[config.SectionRender] {
		a.queue.Apply(batch.Config{
			Policy:       mapBatchPolicy(next),
			GroupSubject: a.enricher.Load().GroupSubject,
		})
	}
	if changed[config.SectionMail] || changed[config.SectionNotifier] {
		ncfg, err := mapNotifierConfig(next)
		if err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts down in dependency order: source and watchers, then a final
// synchronous flush, then the notifier drain, then storage and logs.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if cur := a.Reason(); cur != StopUnknown && reason == StopSignal {
		reason = cur
	}
	a.reason.Store(reason)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("flush", time.Second, func(context.Context) error {
		if a.queue.Flush() {
			a.log.Info("pending events flushed on shutdown")
		}
		return nil
	})
	step("notifier", 10*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("pruner", time.Second, func(c context.Context) error {
		if a.pruner != nil {
			a.pruner.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store = nil
	if a.notif != nil {
		a.notif.SetStore(nil)
	}
	return st.Close()
}
