package dispatch

import "errors"

var (
	ErrNilRun         = errors.New("job run function is nil")
	ErrNoWorkers      = errors.New("dispatcher needs at least one worker")
	ErrAlreadyRunning = errors.New("dispatcher already running")
	ErrStopping       = errors.New("dispatcher stopping")
	ErrQueueFull      = errors.New("dispatch intake queue full")
)
