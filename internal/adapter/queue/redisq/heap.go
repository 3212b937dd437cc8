package redisq

import "github.com/vidforge/vidforge/internal/domain"

// entryHeap orders ready jobs by descending priority; ties go to the earlier
// enqueue so equal-priority jobs stay FIFO.
type entryHeap []domain.QueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(domain.QueueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// rank returns the 1-based dequeue position of jobID under the heap's
// ordering, or 0 when absent.
func (h entryHeap) rank(jobID string) int {
	var target *domain.QueueEntry
	for i := range h {
		if h[i].JobID == jobID {
			target = &h[i]
			break
		}
	}
	if target == nil {
		return 0
	}
	pos := 1
	for i := range h {
		if h[i].JobID == target.JobID {
			continue
		}
		if h[i].Priority > target.Priority ||
			(h[i].Priority == target.Priority && h[i].EnqueuedAt.Before(target.EnqueuedAt)) {
			pos++
		}
	}
	return pos
}

func (h entryHeap) contains(jobID string) bool {
	for i := range h {
		if h[i].JobID == jobID {
			return true
		}
	}
	return false
}
