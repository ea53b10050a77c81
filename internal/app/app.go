// Package app wires the engine together for the daemon: config file,
// logging sinks, event bus, dispatcher, and the cron trigger service, with
// hot reload applied across all of them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lakesite/ls-dispatch/config"
	"github.com/lakesite/ls-dispatch/dispatch"
	"github.com/lakesite/ls-dispatch/eventbus"
	"github.com/lakesite/ls-dispatch/internal/supervisor"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
	"github.com/lakesite/ls-dispatch/schedule"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	disp  *dispatch.Dispatcher
	sched *schedule.Service

	// Names of schedule entries currently applied from config, so a reload
	// can remove entries that disappeared from the file.
	applied map[string]bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	disp := dispatch.New(cfg.Dispatch.ToDispatch(), log.With(logx.String("comp", "dispatch")), bus)
	sched := schedule.New(cfg.Schedule.ToSchedule(), disp, log.With(logx.String("comp", "schedule")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		disp:    disp,
		sched:   sched,
		applied: map[string]bool{},
	}, nil
}

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) Schedule() *schedule.Service      { return a.sched }
func (a *App) Bus() eventbus.Bus                { return a.bus }

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

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	cfg := a.cfgm.Get()
	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = 2
	}
	if err := a.disp.Start(a.sup.Context(), workers); err != nil {
		return err
	}

	a.applyEntries(cfg.Schedule.Entries)
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	a.sup.Go0("events.log", func(c context.Context) { a.eventLogLoop(c) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("workers", workers), logx.Int("schedules", len(cfg.Schedule.Entries)))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()
	a.sched.Stop(ctx)
	a.disp.Stop(ctx)
	err := a.sup.Wait(ctx)
	_ = a.logs.Close()
	return err
}

// eventLogLoop mirrors engine lifecycle events into the log at low volume.
func (a *App) eventLogLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.TypeJobEnded:
				je, ok := e.Data.(dispatch.JobEvent)
				if !ok {
					continue
				}
				if je.Error != "" {
					a.log.Warn("job failed", logx.Uint64("job", je.ID), logx.Int("worker", je.Worker), logx.Duration("took", je.Duration), logx.String("err", je.Error))
				} else {
					a.log.Debug("job done", logx.Uint64("job", je.ID), logx.Int("worker", je.Worker), logx.Duration("took", je.Duration))
				}
			case eventbus.TypeWorkerQuit:
				we, ok := e.Data.(dispatch.WorkerEvent)
				if !ok {
					continue
				}
				a.log.Info("worker quit", logx.Int("worker", we.ID))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			a.applyConfig(ctx, cfg)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(cfg.Logging.ToLogx())
	a.disp.Apply(ctx, cfg.Dispatch.ToDispatch())

	prevEnabled := a.sched.Enabled()
	a.sched.Apply(cfg.Schedule.ToSchedule())
	a.applyEntries(cfg.Schedule.Entries)
	if prevEnabled && !cfg.Schedule.Enabled {
		a.log.Info("schedule disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && cfg.Schedule.Enabled {
		a.log.Info("schedule enabled via config")
		a.sched.Start(ctx)
	}

	a.log.Info("config reloaded",
		logx.Int("workers", cfg.Dispatch.Workers),
		logx.Bool("schedule_enabled", cfg.Schedule.Enabled),
		logx.Int("schedules", len(cfg.Schedule.Entries)))
}

// applyEntries reconciles the registered schedule set with the config file:
// new and changed entries are upserted, vanished ones removed.
func (a *App) applyEntries(entries []config.ScheduleEntry) {
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Name] = true
		timeout, err := config.ParseDurationField("schedule.entries.timeout", e.Timeout)
		if err != nil {
			a.log.Warn("schedule entry skipped", logx.String("name", e.Name), logx.Err(err))
			continue
		}
		run := commandJob(e.Command, timeout)
		if err := a.sched.Register(e.Name, e.Spec, dispatch.JobOptions{Priority: e.Priority}, run); err != nil {
			a.log.Warn("schedule entry rejected", logx.String("name", e.Name), logx.Err(err))
			delete(seen, e.Name)
		}
	}
	for name := range a.applied {
		if !seen[name] {
			a.sched.Remove(name)
		}
	}
	a.applied = seen
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must be >= 0")
	}
	if cfg.Dispatch.QueueSize < 0 {
		return fmt.Errorf("dispatch.queue_size must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	for i, e := range cfg.Schedule.Entries {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("schedule.entries[%d]: name required", i)
		}
		if len(e.Command) == 0 || strings.TrimSpace(e.Command[0]) == "" {
			return fmt.Errorf("schedule.entries[%d] (%s): command required", i, e.Name)
		}
		if err := schedule.ValidateSpec(e.Spec); err != nil {
			return fmt.Errorf("schedule.entries[%d] (%s): %w", i, e.Name, err)
		}
		if _, err := config.ParseDurationField(fmt.Sprintf("schedule.entries[%d].timeout", i), e.Timeout); err != nil {
			return err
		}
	}
	return nil
}
