// Package queue holds the display queue, the per-user suppressor that guards
// admission to it, and the pump that feeds the overlay.
package queue

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/you/gnasty-alerts/internal/core"
)

type slot struct {
	item core.QueueItem
	seq  uint64
}

type itemHeap []slot

func (h itemHeap) Len() int { return len(h) }

// Less orders by priority desc, then enqueuedAt asc, then admission order.
func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	if a.item.EnqueuedAt != b.item.EnqueuedAt {
		return a.item.EnqueuedAt < b.item.EnqueuedAt
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(slot)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = slot{}
	*h = old[:n-1]
	return s
}

// DisplayQueue is a max-heap of pending notifications. All mutations are
// serialised under one lock.
type DisplayQueue struct {
	mu       sync.Mutex
	h        itemHeap
	seq      uint64
	capacity int
	ready    chan struct{}
	onDepth  func(int)
}

// NewDisplayQueue returns an empty queue. capacity <= 0 means unbounded.
func NewDisplayQueue(capacity int) *DisplayQueue {
	return &DisplayQueue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// OnDepth registers a callback invoked with the queue length after every
// change. It must not call back into the queue.
func (q *DisplayQueue) OnDepth(fn func(int)) {
	q.mu.Lock()
	q.onDepth = fn
	q.mu.Unlock()
}

// AddItem validates and admits item.
func (q *DisplayQueue) AddItem(item core.QueueItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.capacity > 0 && len(q.h) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d items", core.ErrQueueFull, q.capacity)
	}
	q.seq++
	heap.Push(&q.h, slot{item: item, seq: q.seq})
	depth, fn := len(q.h), q.onDepth
	q.mu.Unlock()

	if fn != nil {
		fn(depth)
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// PopNext removes and returns the head.
func (q *DisplayQueue) PopNext() (core.QueueItem, bool) {
	q.mu.Lock()
	if len(q.h) == 0 {
		q.mu.Unlock()
		return core.QueueItem{}, false
	}
	s := heap.Pop(&q.h).(slot)
	depth, fn := len(q.h), q.onDepth
	q.mu.Unlock()

	if fn != nil {
		fn(depth)
	}
	return s.item, true
}

// Peek returns the head without removing it.
func (q *DisplayQueue) Peek() (core.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return core.QueueItem{}, false
	}
	return q.h[0].item, true
}

func (q *DisplayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Snapshot returns resident items in dispatch order.
func (q *DisplayQueue) Snapshot() []core.QueueItem {
	q.mu.Lock()
	slots := append(itemHeap(nil), q.h...)
	q.mu.Unlock()

	sort.Slice(slots, slots.Less)
	out := make([]core.QueueItem, len(slots))
	for i, s := range slots {
		out[i] = s.item
	}
	return out
}

// Ready is signalled after an item is added.
func (q *DisplayQueue) Ready() <-chan struct{} {
	return q.ready
}
