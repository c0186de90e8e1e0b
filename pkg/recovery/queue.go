package recovery

import (
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/types"
)

// queuedItem is one pending RecoveryExecution awaiting dispatch.
type queuedItem struct {
	exec       *types.RecoveryExecution
	strategy   types.RecoveryStrategy
	enqueuedAt time.Time
}

// queue is a FIFO-within-priority queue: critical-severity contexts
// are inserted ahead of any queued non-critical item (but behind
// other already-queued critical items, preserving FIFO among equals —
// spec §4.J "FIFO among equal priority; critical severity jumps the
// queue").
type queue struct {
	mu    sync.Mutex
	items []*queuedItem
}

func newQueue() *queue {
	return &queue{}
}

func (q *queue) push(item *queuedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.exec.Context.Severity != "critical" {
		q.items = append(q.items, item)
		return
	}
	insertAt := 0
	for insertAt < len(q.items) && q.items[insertAt].exec.Context.Severity == "critical" {
		insertAt++
	}
	q.items = append(q.items, nil)
	copy(q.items[insertAt+1:], q.items[insertAt:])
	q.items[insertAt] = item
}

// pushFront re-queues item at the very front, used when a paused
// execution is put back so it is dispatched again before anything else.
func (q *queue) pushFront(item *queuedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*queuedItem{item}, q.items...)
}

// peek returns (without removing) the front item.
func (q *queue) peek() (*queuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// popFront removes and returns the front item.
func (q *queue) popFront() (*queuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// resourcesAvailable reports whether required can be satisfied given
// the currently-available headroom (both vectors on the [0,1]-fraction
// scale already produced by Analyzer.Analyze).
func resourcesAvailable(required, available types.ResourceVector) bool {
	full := types.ResourceVector{Compute: 1, Memory: 1, Bandwidth: 1, Storage: 1}
	used := types.ResourceVector{
		Compute:   1 - available.Compute,
		Memory:    1 - available.Memory,
		Bandwidth: 1 - available.Bandwidth,
		Storage:   1 - available.Storage,
	}
	return required.Fits(full, used)
}
