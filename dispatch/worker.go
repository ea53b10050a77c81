package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

// worker pulls jobs from the shared work channel and reports lifecycle
// transitions on the status channel. It returns only after processing a Quit
// addressed to it (or broadcast), or when the engine stops.
func (d *Dispatcher) worker(ctx context.Context, stopCh <-chan struct{}, workQ <-chan *Job, cmd <-chan Command, status chan<- Status, id int) {
	for {
		// Fast-exit checks: a closed stopCh or a waiting command wins over
		// queued work. Commands are only serviced while idle, so an in-flight
		// job always finishes first.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}
		select {
		case c := <-cmd:
			if d.obeyCommand(c, status, id) {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case c := <-cmd:
			if d.obeyCommand(c, status, id) {
				return
			}
		case j, ok := <-workQ:
			if !ok {
				// The work channel is not expected to close in normal
				// operation; bail out if it does.
				return
			}
			d.execOne(ctx, status, j, id)
		}
	}
}

// obeyCommand reports whether the worker should exit.
func (d *Dispatcher) obeyCommand(c Command, status chan<- Status, id int) bool {
	switch c.Instruction {
	case Quit:
		status <- Status{Kind: WorkerQuit, WorkerID: id, At: d.clk.Now()}
		return true
	default:
		// Unknown instructions are ignored, matching the engine's permissive
		// command handling.
		return false
	}
}

// execOne runs a single job: record the start timestamp, report Started, run
// the work function (panics become errors so a bad job can never kill the
// worker), record the end timestamp, report Ended.
//
// Status sends are plain sends. The channel is buffered for bursts and always
// has a consumer: the control loop while the pool runs, Stop's drain while it
// unwinds. A send may stall briefly when the loop is busy, but it cannot
// deadlock shutdown.
func (d *Dispatcher) execOne(ctx context.Context, status chan<- Status, j *Job, id int) {
	start := d.clk.Now()
	j.StartTime = start
	status <- Status{Kind: JobStarted, JobID: j.ID, WorkerID: id, At: start}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				d.log.Error("job panicked", logx.Uint64("job", j.ID), logx.Int("worker", id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = j.Run(ctx)
	}()

	end := d.clk.Now()
	j.EndTime = end
	status <- Status{Kind: JobEnded, JobID: j.ID, WorkerID: id, Err: err, At: end}
}
