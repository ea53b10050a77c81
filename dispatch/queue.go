package dispatch

// readyQueue orders dispatchable jobs by (priority descending, not_before
// ascending, id ascending). The id tie-break gives equal-priority jobs FIFO
// dispatch order, since ids are assigned monotonically at submission.
//
// Both heaps here are owned by the control loop; other goroutines only read
// their lengths, under the dispatcher's queue mutex.
type readyQueue []*Job

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.NotBefore.Equal(b.NotBefore) {
		return a.NotBefore.Before(b.NotBefore)
	}
	return a.ID < b.ID
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*Job)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}

// pendingQueue is a min-heap on not_before for jobs that are not yet eligible.
// The head is the next wake-up deadline for the control loop.
type pendingQueue []*Job

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if !a.NotBefore.Equal(b.NotBefore) {
		return a.NotBefore.Before(b.NotBefore)
	}
	return a.ID < b.ID
}

func (q pendingQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *pendingQueue) Push(x any) { *q = append(*q, x.(*Job)) }

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}
