package dispatch

import (
	"container/heap"
	"testing"
	"time"
)

func TestReadyQueueOrdering(t *testing.T) {
	t.Parallel()
	var q readyQueue
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	jobs := []*Job{
		{ID: 1, Priority: 1},
		{ID: 2, Priority: 10},
		{ID: 3, Priority: 10},
		{ID: 4, Priority: 5, NotBefore: base.Add(time.Minute)},
		{ID: 5, Priority: 5, NotBefore: base},
	}
	for _, j := range jobs {
		heap.Push(&q, j)
	}

	// Priority descending; earlier not_before wins within a priority; FIFO
	// (id ascending) as the final tie-break.
	want := []uint64{2, 3, 5, 4, 1}
	for i, id := range want {
		got := heap.Pop(&q).(*Job)
		if got.ID != id {
			t.Fatalf("pop %d = job %d, want %d", i, got.ID, id)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not drained: %d left", q.Len())
	}
}

func TestPendingQueueOrdersByNotBefore(t *testing.T) {
	t.Parallel()
	var q pendingQueue
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	heap.Push(&q, &Job{ID: 1, NotBefore: base.Add(time.Hour)})
	heap.Push(&q, &Job{ID: 2, NotBefore: base.Add(time.Minute)})
	heap.Push(&q, &Job{ID: 3, NotBefore: base.Add(time.Minute)})

	if got := heap.Pop(&q).(*Job).ID; got != 2 {
		t.Fatalf("first pop = job %d, want 2", got)
	}
	if got := heap.Pop(&q).(*Job).ID; got != 3 {
		t.Fatalf("second pop = job %d, want 3 (id tie-break)", got)
	}
	if got := heap.Pop(&q).(*Job).ID; got != 1 {
		t.Fatalf("third pop = job %d, want 1", got)
	}
}
