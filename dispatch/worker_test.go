package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lakesite/ls-dispatch/eventbus"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

func TestBroadcastQuit(t *testing.T) {
	t.Parallel()
	d, events := newTestDispatcher(t, Config{})
	if err := d.Start(context.Background(), 3); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d.SendCommand(Command{Target: TargetAll(), Instruction: Quit})

	seen := map[int]int{}
	for i := 0; i < 3; i++ {
		e := nextEvent(t, events, eventbus.TypeWorkerQuit, 5*time.Second)
		we := e.Data.(WorkerEvent)
		seen[we.ID]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("worker %d emitted %d quit statuses, want exactly 1", id, n)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("quit statuses from %d workers, want 3", len(seen))
	}

	for id, st := range d.Snapshot().WorkerStates {
		if st != WorkerTerminated {
			t.Fatalf("worker %d state = %v, want terminated", id, st)
		}
	}
}

func TestTargetedQuit(t *testing.T) {
	t.Parallel()
	d, events := newTestDispatcher(t, Config{})
	if err := d.Start(context.Background(), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}

	d.SendCommand(Command{Target: TargetWorker(1), Instruction: Quit})

	e := nextEvent(t, events, eventbus.TypeWorkerQuit, 5*time.Second)
	if we := e.Data.(WorkerEvent); we.ID != 1 {
		t.Fatalf("quit from worker %d, want 1", we.ID)
	}

	// Worker 2 must still be serving the pool.
	if _, err := d.QueueJob(noop); err != nil {
		t.Fatalf("QueueJob: %v", err)
	}
	ended := nextEvent(t, events, eventbus.TypeJobEnded, 5*time.Second).Data.(JobEvent)
	if ended.Worker != 2 {
		t.Fatalf("job ran on worker %d, want 2", ended.Worker)
	}
}

func TestCommandToUnknownWorkerIsNoOp(t *testing.T) {
	t.Parallel()
	d, events := newTestDispatcher(t, Config{})
	if err := d.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Nonexistent id and the zero-value target (worker 0) are both ignored.
	d.SendCommand(Command{Target: TargetWorker(99), Instruction: Quit})
	d.SendCommand(Command{Instruction: Quit})

	// The pool still works.
	if _, err := d.QueueJob(noop); err != nil {
		t.Fatalf("QueueJob: %v", err)
	}
	nextEvent(t, events, eventbus.TypeJobEnded, 5*time.Second)

	select {
	case e := <-events:
		if e.Type == eventbus.TypeWorkerQuit {
			t.Fatal("no worker should have quit")
		}
	default:
	}
}

func TestQuitWaitsForInFlightJob(t *testing.T) {
	t.Parallel()
	d, events := newTestDispatcher(t, Config{})
	if err := d.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	release := make(chan struct{})
	if _, err := d.QueueJob(func(ctx context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("QueueJob: %v", err)
	}
	nextEvent(t, events, eventbus.TypeJobStarted, 5*time.Second)

	// Quit arrives while the job is running; the worker must finish it first.
	d.SendCommand(Command{Target: TargetWorker(1), Instruction: Quit})
	close(release)

	e := nextEvent(t, events, eventbus.TypeJobEnded, 5*time.Second)
	if je := e.Data.(JobEvent); je.Error != "" {
		t.Fatalf("in-flight job failed: %s", je.Error)
	}
	nextEvent(t, events, eventbus.TypeWorkerQuit, 5*time.Second)
}

func TestNotBeforeHonoredWithMockClock(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()
	d := NewWithClock(Config{}, logx.Nop(), bus, mock)
	t.Cleanup(func() { d.Stop(context.Background()) })

	if err := d.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := d.QueueJobWith(noop, JobOptions{NotBefore: mock.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("QueueJobWith: %v", err)
	}

	// Give the control loop (real goroutine) time to park the job, then
	// confirm it was deferred, not dispatched.
	waitForPending(t, d, 2*time.Second)
	select {
	case e := <-events:
		if e.Type == eventbus.TypeJobStarted {
			t.Fatal("job dispatched before its not_before time")
		}
	default:
	}

	// Cross the boundary; the wake timer fires and the job dispatches.
	mock.Add(2 * time.Hour)
	nextEvent(t, events, eventbus.TypeJobStarted, 5*time.Second)
	nextEvent(t, events, eventbus.TypeJobEnded, 5*time.Second)
	waitFinished(t, d, 5*time.Second)
}

func waitForPending(t *testing.T, d *Dispatcher, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for d.Snapshot().PendingLen == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("job never reached the pending set")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
