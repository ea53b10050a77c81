package dispatch

import (
	"container/heap"
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lakesite/ls-dispatch/eventbus"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
)

// Rearm interval while no job is waiting on a not_before boundary. A stale
// wake-up is harmless: the loop re-promotes on every iteration.
const idleWake = time.Hour

// controlLoop is the engine's single logical thread of control. It services
// whichever event source is ready: job intake, worker status, or the
// not_before wake timer. Hand-off to the work channel is non-blocking so a
// transiently full channel never stalls status processing; every consumed
// status event retriggers the drain, so a freed worker always pulls the next
// ready job.
func (d *Dispatcher) controlLoop(ctx context.Context, stopCh <-chan struct{}, workQ chan *Job, status <-chan Status) {
	wake := d.clk.Timer(idleWake)
	defer wake.Stop()

	for {
		d.promote()
		d.drain(workQ)
		d.rearm(wake)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-d.intake:
			d.admit(j)
			d.absorb()
		case st := <-status:
			d.onStatus(st)
		case <-wake.C:
			// A not_before boundary passed; next iteration promotes.
		}
	}
}

// admit routes a newly accepted job to the ready set, or parks it in the
// pending set until its not_before time.
func (d *Dispatcher) admit(j *Job) {
	now := d.clk.Now()
	d.qmu.Lock()
	if j.NotBefore.After(now) {
		heap.Push(&d.pending, j)
	} else {
		heap.Push(&d.ready, j)
	}
	d.qmu.Unlock()

	d.log.Debug("job admitted",
		logx.Uint64("job", j.ID),
		logx.Int("priority", j.Priority),
		logx.Bool("deferred", j.NotBefore.After(now)),
	)
}

// absorb empties any intake backlog before the next drain, so priorities take
// effect across a burst of submissions instead of per-arrival.
func (d *Dispatcher) absorb() {
	for {
		select {
		case j := <-d.intake:
			d.admit(j)
		default:
			return
		}
	}
}

// promote moves every pending job whose not_before has passed into the ready set.
func (d *Dispatcher) promote() {
	now := d.clk.Now()
	d.qmu.Lock()
	for d.pending.Len() > 0 && !d.pending[0].NotBefore.After(now) {
		heap.Push(&d.ready, heap.Pop(&d.pending).(*Job))
	}
	d.qmu.Unlock()
}

// drain hands ready jobs to the work channel, best-priority first, until the
// channel is full or the ready set is empty.
func (d *Dispatcher) drain(workQ chan<- *Job) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	for d.ready.Len() > 0 {
		j := d.ready[0]
		select {
		case workQ <- j:
			heap.Pop(&d.ready)
			d.inflight[j.ID] = j
		default:
			return
		}
	}
}

func (d *Dispatcher) pushReady(j *Job) {
	heap.Push(&d.ready, j)
}

// rearm points the wake timer at the earliest pending not_before.
func (d *Dispatcher) rearm(wake *clock.Timer) {
	d.qmu.Lock()
	var next time.Time
	if d.pending.Len() > 0 {
		next = d.pending[0].NotBefore
	}
	d.qmu.Unlock()

	if next.IsZero() {
		wake.Reset(idleWake)
		return
	}
	wait := next.Sub(d.clk.Now())
	if wait < time.Millisecond {
		// Due or nearly due; promote() picks it up on the next pass.
		wait = time.Millisecond
	}
	wake.Reset(wait)
}

// onStatus applies one worker-reported lifecycle event. This is the only
// place the outstanding counter is decremented.
func (d *Dispatcher) onStatus(st Status) {
	switch st.Kind {
	case JobStarted:
		d.setWorkerState(st.WorkerID, WorkerBusy)

		j := d.lookupInflight(st.JobID)
		delay := time.Duration(0)
		if j != nil && !j.submittedAt.IsZero() {
			if delay = st.At.Sub(j.submittedAt); delay < 0 {
				delay = 0
			}
		}
		d.log.Debug("job started", logx.Uint64("job", st.JobID), logx.Int("worker", st.WorkerID), logx.Duration("queue_delay", delay))
		if d.bus != nil {
			ev := JobEvent{ID: st.JobID, Worker: st.WorkerID, Started: st.At, QueueDelay: delay}
			if j != nil {
				ev.Priority = j.Priority
			}
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeJobStarted, Time: st.At, Data: ev})
		}

	case JobEnded:
		// Decrement before publishing so Finished() already reports true when
		// a subscriber observes the final job.ended event.
		d.outstanding.Add(-1)
		d.setWorkerState(st.WorkerID, WorkerIdle)

		j := d.removeInflight(st.JobID)
		ev := JobEvent{ID: st.JobID, Worker: st.WorkerID}
		if j != nil {
			ev.Priority = j.Priority
			ev.Started = j.StartTime
			ev.Duration = j.EndTime.Sub(j.StartTime)
		}
		if st.Err != nil {
			ev.Error = st.Err.Error()
			d.log.Warn("job failed", logx.Uint64("job", st.JobID), logx.Int("worker", st.WorkerID), logx.Any("err", st.Err), logx.Duration("dur", ev.Duration))
		} else {
			d.log.Debug("job completed", logx.Uint64("job", st.JobID), logx.Int("worker", st.WorkerID), logx.Duration("dur", ev.Duration))
		}
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeJobEnded, Time: st.At, Data: ev})
		}

	case WorkerQuit:
		d.setWorkerState(st.WorkerID, WorkerTerminated)
		d.log.Info("worker quit", logx.Int("worker", st.WorkerID))
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeWorkerQuit, Time: st.At, Data: WorkerEvent{ID: st.WorkerID}})
		}
	}
}

func (d *Dispatcher) setWorkerState(id int, state WorkerState) {
	d.wmu.Lock()
	if _, ok := d.states[id]; ok {
		d.states[id] = state
	}
	d.wmu.Unlock()
}

func (d *Dispatcher) lookupInflight(id uint64) *Job {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return d.inflight[id]
}

// removeInflight discards the engine's last reference to a completed job.
func (d *Dispatcher) removeInflight(id uint64) *Job {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	j := d.inflight[id]
	delete(d.inflight, id)
	return j
}
