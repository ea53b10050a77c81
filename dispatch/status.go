package dispatch

import "time"

// StatusKind tags a lifecycle event on the worker -> control loop status channel.
type StatusKind int

const (
	JobStarted StatusKind = iota
	JobEnded
	WorkerQuit
)

func (k StatusKind) String() string {
	switch k {
	case JobStarted:
		return "job_started"
	case JobEnded:
		return "job_ended"
	case WorkerQuit:
		return "worker_quit"
	default:
		return "unknown"
	}
}

// Status is one event on the status channel. It carries coordination data
// only; jobs themselves never travel on it.
//
// Err is set on JobEnded when the work function failed (or panicked), so
// failure is observable without the worker retaining any job state.
type Status struct {
	Kind     StatusKind
	JobID    uint64
	WorkerID int
	Err      error
	At       time.Time
}

// Instruction is a control verb sent to workers over their command slots.
type Instruction int

const (
	// Quit tells a worker to stop accepting jobs and exit. A worker that is
	// mid-job finishes that job first; commands are only read while idle.
	Quit Instruction = iota
)

// Target addresses a command to one worker or to every worker. The zero value
// targets worker 0, which never exists (worker ids start at 1), so an
// unaddressed command is a harmless no-op rather than an accidental broadcast.
type Target struct {
	all      bool
	workerID int
}

// TargetWorker addresses a single worker by id.
func TargetWorker(id int) Target { return Target{workerID: id} }

// TargetAll addresses every worker in the pool.
func TargetAll() Target { return Target{all: true} }

func (t Target) All() bool     { return t.all }
func (t Target) WorkerID() int { return t.workerID }

// Command is a control instruction from the dispatcher to workers.
type Command struct {
	Target      Target
	Instruction Instruction
}

// WorkerState is the coarse lifecycle state tracked per worker for
// diagnostics. It is updated only by the control loop, from status events.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerBusy
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
