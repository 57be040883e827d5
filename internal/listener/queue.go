package listener

import (
	"sync"

	"github.com/roach88/wardsync/internal/remote"
)

// item is one unit of subscription work: a snapshot batch or a transport
// error.
type item struct {
	batch *remote.Batch
	err   error
}

// batchQueue is the single-consumer FIFO behind one subscription.
//
// The transport side only enqueues and never blocks; the subscription
// goroutine dequeues, so batches are processed strictly in arrival order and
// a slow resolver never stalls the transport.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the processing loop.
type batchQueue struct {
	mu     sync.Mutex
	items  []item
	closed bool
	signal chan struct{} // buffered, size 1
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		items:  make([]item, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds it to the back of the queue. It returns false once the queue
// is closed.
func (q *batchQueue) Enqueue(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, it)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *batchQueue) TryDequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]

	// Nil out the slot so the batch documents can be collected.
	q.items[0] = item{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return it, true
}

// Wait returns a channel that signals when items may be available. It is
// closed by Close.
func (q *batchQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *batchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further items and wakes the consumer.
func (q *batchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
