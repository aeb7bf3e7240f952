package rollup

import (
	"fmt"
	"iter"

	"github.com/ethereum/go-ethereum/rlp"

	"raffleanchor/core/state"
)

// DefaultCapacity bounds each queue when no explicit capacity is configured.
const DefaultCapacity = 1024

// Ledger persists both channel queues and the inbound cursor. Every write goes
// through the shared state manager so it commits with the rest of a batch.
type Ledger struct {
	state    *state.Manager
	capacity uint64
}

// storedQueue tracks the allocation window of a queue. Head is the next index
// to allocate and Tail the oldest index still stored.
type storedQueue struct {
	Head uint64
	Tail uint64
}

// storedCursor counts applied inbound messages.
type storedCursor struct {
	Next uint64
}

// QueueStats describes the stored window of a queue.
type QueueStats struct {
	Queue QueueID
	Head  uint64
	Tail  uint64
	Depth uint64
}

// NewLedger builds a ledger over st. A zero capacity selects DefaultCapacity.
func NewLedger(st *state.Manager, capacity uint64) *Ledger {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{state: st, capacity: capacity}
}

// Capacity returns the per-queue bound.
func (l *Ledger) Capacity() uint64 { return l.capacity }

func (l *Ledger) loadQueue(queue QueueID) (storedQueue, error) {
	var meta storedQueue
	if !queue.Valid() {
		return meta, fmt.Errorf("%w: %d", ErrUnknownQueue, queue)
	}
	if _, err := l.state.KVGet(state.QueueMetaKey(queue.String()), &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func (l *Ledger) storeQueue(queue QueueID, meta storedQueue) error {
	return l.state.KVPut(state.QueueMetaKey(queue.String()), meta)
}

// Push appends payload to queue and returns its index.
func (l *Ledger) Push(queue QueueID, payload []byte) (uint64, error) {
	meta, err := l.loadQueue(queue)
	if err != nil {
		return 0, err
	}
	if meta.Head-meta.Tail >= l.capacity {
		return 0, fmt.Errorf("%w: %s holds %d messages", ErrQueueFull, queue, meta.Head-meta.Tail)
	}
	index := meta.Head
	if err := l.state.KVPut(state.QueueMessageKey(queue.String(), index), append([]byte(nil), payload...)); err != nil {
		return 0, err
	}
	meta.Head++
	if err := l.storeQueue(queue, meta); err != nil {
		return 0, err
	}
	return index, nil
}

// Pending yields the stored messages of queue in index order. The sequence is
// finite and may be ranged over again to restart from the oldest entry.
func (l *Ledger) Pending(queue QueueID) iter.Seq2[OutboundMessage, error] {
	return func(yield func(OutboundMessage, error) bool) {
		if !queue.Valid() {
			yield(OutboundMessage{}, fmt.Errorf("%w: %d", ErrUnknownQueue, queue))
			return
		}
		name := queue.String()
		var stopped bool
		err := l.state.KVIterate(state.QueueMessagePrefix(name), func(key, value []byte) (bool, error) {
			index, ok := state.QueueMessageIndex(name, key)
			if !ok {
				return true, nil
			}
			var payload []byte
			if err := rlp.DecodeBytes(value, &payload); err != nil {
				return false, fmt.Errorf("rollup: decode %s[%d]: %w", name, index, err)
			}
			if !yield(OutboundMessage{Queue: queue, Index: index, Payload: payload}, nil) {
				stopped = true
				return false, nil
			}
			return true, nil
		})
		if err != nil && !stopped {
			yield(OutboundMessage{}, err)
		}
	}
}

// MarkConsumed purges every stored message of queue with index <= upTo.
// Acknowledging an already purged range is a no-op.
func (l *Ledger) MarkConsumed(queue QueueID, upTo uint64) error {
	meta, err := l.loadQueue(queue)
	if err != nil {
		return err
	}
	if meta.Head == 0 || upTo >= meta.Head {
		return fmt.Errorf("%w: %s index %d, head %d", ErrInvalidAck, queue, upTo, meta.Head)
	}
	if upTo < meta.Tail {
		return nil
	}
	for index := meta.Tail; index <= upTo; index++ {
		if err := l.state.KVDelete(state.QueueMessageKey(queue.String(), index)); err != nil {
			return err
		}
	}
	meta.Tail = upTo + 1
	return l.storeQueue(queue, meta)
}

// Stats reports the stored window of queue.
func (l *Ledger) Stats(queue QueueID) (QueueStats, error) {
	meta, err := l.loadQueue(queue)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Queue: queue, Head: meta.Head, Tail: meta.Tail, Depth: meta.Head - meta.Tail}, nil
}

// Cursor returns the inbound progress for queue.
func (l *Ledger) Cursor(queue QueueID) (Cursor, error) {
	if !queue.Valid() {
		return Cursor{}, fmt.Errorf("%w: %d", ErrUnknownQueue, queue)
	}
	var stored storedCursor
	if _, err := l.state.KVGet(state.CursorKey(queue.String()), &stored); err != nil {
		return Cursor{}, err
	}
	return Cursor{Queue: queue, Next: stored.Next}, nil
}

// AdvanceCursor records index as applied. It must be exactly the cursor's
// expected index.
func (l *Ledger) AdvanceCursor(queue QueueID, index uint64) (Cursor, error) {
	cur, err := l.Cursor(queue)
	if err != nil {
		return Cursor{}, err
	}
	if index != cur.Next {
		return cur, &OrderingError{Queue: queue, Expected: cur.Next, Got: index}
	}
	cur.Next++
	if err := l.state.KVPut(state.CursorKey(queue.String()), storedCursor{Next: cur.Next}); err != nil {
		return Cursor{}, err
	}
	return cur, nil
}

// CheckSequence verifies that indices continue the cursor of queue without
// gaps or repeats.
func (l *Ledger) CheckSequence(queue QueueID, indices []uint64) error {
	if len(indices) == 0 {
		return ErrEmptyBatch
	}
	cur, err := l.Cursor(queue)
	if err != nil {
		return err
	}
	expected := cur.Next
	for _, index := range indices {
		if index != expected {
			return &OrderingError{Queue: queue, Expected: expected, Got: index}
		}
		expected++
	}
	return nil
}
