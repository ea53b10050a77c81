package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/lakesite/ls-dispatch/eventbus"
	"github.com/lakesite/ls-dispatch/internal/supervisor"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

// How often "intake full" warnings may be logged.
const warnEvery = 5 * time.Second

// Config controls the dispatch engine.
type Config struct {
	// Workers is the pool size used when the pool is restarted through
	// Apply(). Start() takes the initial count explicitly.
	Workers int

	// QueueSize bounds the intake queue. QueueJob rejects with ErrQueueFull
	// when the queue is full; Submit blocks instead. Takes effect at
	// construction.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// Dispatcher owns job intake, the worker pool, and the control loop that
// reconciles submissions against completions.
//
// Scheduling state (ready/pending heaps, in-flight set) is written only by
// the control loop. The outstanding counter is atomic because submissions
// increment it from caller goroutines while the loop decrements it: exactly
// one increment per accepted submission, one decrement per completion.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	clk clock.Clock

	// intake is allocated at construction so jobs can be queued before
	// Start(); the control loop picks them up once it runs.
	intake chan *Job

	// Pool state, guarded by mu.
	running     bool
	workerCount int
	stopCh      chan struct{}
	stopDone    chan struct{}
	workQ       chan *Job
	status      chan Status
	cmds        map[int]chan Command
	sup         *supervisor.Supervisor

	// Scheduling state, owned by the control loop. qmu only covers the
	// length reads Snapshot makes.
	qmu      sync.Mutex
	ready    readyQueue
	pending  pendingQueue
	inflight map[uint64]*Job

	// Worker states, written by the control loop from status events.
	wmu    sync.Mutex
	states map[int]WorkerState

	seq         atomic.Uint64
	outstanding atomic.Int64
	dropped     atomic.Uint64

	warnLimiter *rate.Limiter
}

// New creates a dispatcher with the real clock. No workers are started.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	return NewWithClock(cfg, log, bus, clock.New())
}

// NewWithClock is New with an injected clock, for tests that drive
// NotBefore scheduling deterministically.
func NewWithClock(cfg Config, log logx.Logger, bus eventbus.Bus, clk clock.Clock) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		clk:         clk,
		intake:      make(chan *Job, cfg.QueueSize),
		inflight:    map[uint64]*Job{},
		states:      map[int]WorkerState{},
		warnLimiter: rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

// QueueJob submits a work function with default options. It never blocks:
// when the intake queue is full the job is rejected with ErrQueueFull.
func (d *Dispatcher) QueueJob(run func(ctx context.Context) error) (uint64, error) {
	return d.queue(context.Background(), run, JobOptions{}, false)
}

// QueueJobWith is QueueJob with explicit priority and eligibility time.
func (d *Dispatcher) QueueJobWith(run func(ctx context.Context) error, opt JobOptions) (uint64, error) {
	return d.queue(context.Background(), run, opt, false)
}

// Submit enqueues a job and blocks until it is accepted, ctx is canceled, or
// the engine begins stopping. Use this when you want backpressure instead of
// rejection.
func (d *Dispatcher) Submit(ctx context.Context, run func(ctx context.Context) error, opt JobOptions) (uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.queue(ctx, run, opt, true)
}

func (d *Dispatcher) queue(ctx context.Context, run func(ctx context.Context) error, opt JobOptions, block bool) (uint64, error) {
	if d == nil {
		return 0, fmt.Errorf("dispatcher not created")
	}
	if run == nil {
		return 0, ErrNilRun
	}

	d.mu.Lock()
	stopCh := d.stopCh
	stopping := d.stopDone != nil
	d.mu.Unlock()
	if stopping {
		return 0, ErrStopping
	}

	j := &Job{
		ID:          d.seq.Add(1),
		Priority:    opt.Priority,
		NotBefore:   opt.NotBefore,
		Run:         run,
		submittedAt: d.clk.Now(),
	}

	// Count before the handoff so Finished() can never flicker true while a
	// job sits in intake; rolled back if the submission is not accepted.
	d.outstanding.Add(1)

	if !block {
		select {
		case d.intake <- j:
			return j.ID, nil
		default:
			d.outstanding.Add(-1)
			d.onIntakeFull(j)
			return 0, ErrQueueFull
		}
	}

	if stopCh == nil {
		// Not started yet; only ctx can unblock us.
		select {
		case d.intake <- j:
			return j.ID, nil
		case <-ctx.Done():
			d.outstanding.Add(-1)
			return 0, ctx.Err()
		}
	}
	select {
	case d.intake <- j:
		return j.ID, nil
	case <-ctx.Done():
		d.outstanding.Add(-1)
		return 0, ctx.Err()
	case <-stopCh:
		d.outstanding.Add(-1)
		return 0, ErrStopping
	}
}

func (d *Dispatcher) onIntakeFull(j *Job) {
	d.dropped.Add(1)

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeJobDropped, Time: d.clk.Now(), Data: JobEvent{ID: j.ID, Priority: j.Priority, Error: "queue_full"}})
	}
	if !d.log.IsZero() && d.warnLimiter.Allow() {
		d.log.Warn(
			"job rejected: intake queue full",
			logx.Uint64("job", j.ID),
			logx.Int("queue_len", len(d.intake)),
			logx.Int("queue_cap", cap(d.intake)),
			logx.Uint64("dropped", d.dropped.Load()),
		)
	}
}

// Start spins up exactly workers workers plus the control loop. It returns
// ErrNoWorkers for a non-positive count and ErrAlreadyRunning if the pool is
// already up; a stopped dispatcher may be started again.
func (d *Dispatcher) Start(ctx context.Context, workers int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if workers < 1 {
		return fmt.Errorf("%w: got %d", ErrNoWorkers, workers)
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	if d.stopDone != nil {
		d.mu.Unlock()
		return ErrStopping
	}

	d.workerCount = workers
	d.stopCh = make(chan struct{})
	d.workQ = make(chan *Job, workers)
	// Sized to absorb status bursts. The control loop drains it while
	// running and Stop drains it while the pool unwinds, so a send can
	// stall under load but never wedges shutdown.
	d.status = make(chan Status, 4*workers)
	d.cmds = make(map[int]chan Command, workers)
	for i := 1; i <= workers; i++ {
		d.cmds[i] = make(chan Command, 1)
	}

	d.wmu.Lock()
	d.states = make(map[int]WorkerState, workers)
	for i := 1; i <= workers; i++ {
		d.states[i] = WorkerIdle
	}
	d.wmu.Unlock()

	d.sup = supervisor.New(ctx,
		supervisor.WithLogger(d.log.With(logx.String("comp", "dispatch"))),
		// A failing worker should not hard-kill the host; restart instead.
		supervisor.WithCancelOnError(false),
	)
	sup := d.sup
	stopCh := d.stopCh
	workQ := d.workQ
	status := d.status
	cmds := d.cmds
	d.running = true
	d.mu.Unlock()

	for i := 1; i <= workers; i++ {
		id := i
		cmd := cmds[id]
		name := fmt.Sprintf("worker.%d", id)
		sup.GoRestart(name, func(c context.Context) error {
			// Clean exits happen on shutdown or a processed Quit.
			d.worker(c, stopCh, workQ, cmd, status, id)
			return nil
		}, supervisor.WithPublishFirstError(true))
	}
	sup.GoRestart("control", func(c context.Context) error {
		d.controlLoop(c, stopCh, workQ, status)
		return nil
	}, supervisor.WithPublishFirstError(true))

	d.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue", cap(d.intake)))
	return nil
}

// Stop shuts the pool down: workers stop pulling jobs, in-flight jobs finish,
// and undispatched work is kept for a later Start. Idempotent.
func (d *Dispatcher) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	d.stopDone = done
	close(d.stopCh)
	sup := d.sup
	workQ := d.workQ
	status := d.status
	d.mu.Unlock()

	sup.Cancel()

	go func() {
		// Wait unbounded in background; caller can still time out.
		waitDone := make(chan struct{})
		go func() {
			_ = sup.Wait(context.Background())
			close(waitDone)
		}()
		// The control loop is gone, so keep consuming statuses while the
		// goroutines unwind: a worker that raced the shutdown may be blocked
		// in a status send, and sup.Wait cannot return until it gets through.
		for draining := true; draining; {
			select {
			case st := <-status:
				d.onStatus(st)
			case <-waitDone:
				draining = false
			}
		}
		d.reclaim(workQ, status)
		d.mu.Lock()
		d.running = false
		d.stopCh = nil
		d.stopDone = nil
		d.sup = nil
		d.workQ = nil
		d.status = nil
		d.cmds = nil
		d.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
	case <-ctx.Done():
		d.log.Warn("dispatcher stop timed out", logx.Any("err", ctx.Err()))
	}
}

// reclaim runs after all goroutines have exited, so this goroutine is the
// sole owner of loop state while it runs. Jobs handed to the work channel but
// never picked up go back to the ready set; buffered status events are
// processed so completions that raced the shutdown still count.
func (d *Dispatcher) reclaim(workQ chan *Job, status chan Status) {
	for {
		select {
		case j := <-workQ:
			d.qmu.Lock()
			delete(d.inflight, j.ID)
			d.pushReady(j)
			d.qmu.Unlock()
			continue
		default:
		}
		select {
		case st := <-status:
			d.onStatus(st)
			continue
		default:
		}
		break
	}

	d.wmu.Lock()
	for id := range d.states {
		d.states[id] = WorkerTerminated
	}
	d.wmu.Unlock()
}

// SendCommand delivers a control instruction to one worker or all of them.
// Delivery is non-blocking (each worker has a one-slot command buffer) and a
// command addressed to a nonexistent worker id is deliberately a no-op.
func (d *Dispatcher) SendCommand(cmd Command) {
	d.mu.Lock()
	cmds := d.cmds
	d.mu.Unlock()
	if cmds == nil {
		return
	}

	if cmd.Target.All() {
		for _, ch := range cmds {
			select {
			case ch <- cmd:
			default:
			}
		}
		return
	}
	ch, ok := cmds[cmd.Target.WorkerID()]
	if !ok {
		return
	}
	select {
	case ch <- cmd:
	default:
	}
}

// Apply updates the engine configuration. If the pool is running and the
// worker count changed, the pool is restarted with the new count; queued and
// pending jobs survive the restart.
func (d *Dispatcher) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	prev := d.workerCount
	d.cfg = cfg
	running := d.running && d.stopDone == nil
	d.mu.Unlock()

	if !running || cfg.Workers == prev {
		return
	}
	d.Stop(ctx)
	if err := d.Start(ctx, cfg.Workers); err != nil {
		d.log.Error("dispatcher restart failed", logx.Err(err), logx.Int("workers", cfg.Workers))
	}
}

// Finished reports whether every submitted job has completed. A freshly
// created dispatcher reports true (nothing outstanding); check Running()
// before relying on it.
func (d *Dispatcher) Finished() bool { return d.outstanding.Load() <= 0 }

// Running reports whether Start has been invoked successfully and the pool
// has not been stopped.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Outstanding returns the number of submitted jobs not yet completed.
func (d *Dispatcher) Outstanding() int64 { return d.outstanding.Load() }

// Snapshot is a point-in-time diagnostic view of the engine.
type Snapshot struct {
	Running     bool
	Workers     int
	Outstanding int64

	IntakeLen  int
	IntakeCap  int
	ReadyLen   int
	PendingLen int
	InFlight   int

	Dropped uint64

	WorkerStates map[int]WorkerState
	Goroutines   supervisor.Counters
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	running := d.running
	workers := d.workerCount
	sup := d.sup
	d.mu.Unlock()

	snap := Snapshot{
		Running:     running,
		Workers:     workers,
		Outstanding: d.outstanding.Load(),
		IntakeLen:   len(d.intake),
		IntakeCap:   cap(d.intake),
		Dropped:     d.dropped.Load(),
		Goroutines:  sup.Counters(),
	}

	d.qmu.Lock()
	snap.ReadyLen = d.ready.Len()
	snap.PendingLen = d.pending.Len()
	snap.InFlight = len(d.inflight)
	d.qmu.Unlock()

	d.wmu.Lock()
	snap.WorkerStates = make(map[int]WorkerState, len(d.states))
	for id, st := range d.states {
		snap.WorkerStates[id] = st
	}
	d.wmu.Unlock()

	return snap
}
