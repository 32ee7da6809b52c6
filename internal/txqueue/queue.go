// Package txqueue implements the pending-transaction FIFO (C5): a
// multi-producer, single-consumer queue fed by inbound transport
// callbacks and drained by the ordering core.
package txqueue

import (
	"sync"

	"github.com/empower1/orderingd/internal/txmodel"
)

// Queue is a concurrent FIFO of pending transactions. Multiple producers
// may enqueue without external synchronization; a single consumer drains
// via non-blocking TryPop. FIFO order is preserved per producer;
// interleaving across producers is unspecified but stable once observed.
type Queue struct {
	mu      sync.Mutex
	pending []txmodel.Transaction
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push enqueues a transaction. Safe for concurrent use by many producers.
func (q *Queue) Push(tx txmodel.Transaction) {
	q.mu.Lock()
	q.pending = append(q.pending, tx)
	q.mu.Unlock()
}

// PushBatch enqueues an ordered batch, preserving relative order.
func (q *Queue) PushBatch(txs []txmodel.Transaction) {
	if len(txs) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, txs...)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest pending transaction. The second
// return value is false if the queue was empty.
func (q *Queue) TryPop() (txmodel.Transaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return txmodel.Transaction{}, false
	}
	tx := q.pending[0]
	q.pending[0] = txmodel.Transaction{}
	q.pending = q.pending[1:]
	return tx, true
}

// Drain pops up to maxSize transactions, stopping at the first miss.
// The drained slice preserves arrival order.
func (q *Queue) Drain(maxSize int) []txmodel.Transaction {
	if maxSize <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := maxSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}
	drained := make([]txmodel.Transaction, n)
	copy(drained, q.pending[:n])
	for i := 0; i < n; i++ {
		q.pending[i] = txmodel.Transaction{}
	}
	q.pending = q.pending[n:]
	return drained
}

// Size returns the approximate number of pending transactions. It is
// used only in policy decisions, never for correctness.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
