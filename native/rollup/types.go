package rollup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQueueFull is returned by Push when the configured capacity is reached.
	ErrQueueFull = errors.New("rollup: queue full")
	// ErrInvalidAck is returned by MarkConsumed when the acknowledged index was
	// never allocated.
	ErrInvalidAck = errors.New("rollup: acknowledgement beyond highest allocated index")
	// ErrOutOfOrder reports an inbound index that is not the cursor's successor.
	ErrOutOfOrder = errors.New("rollup: inbound message out of order")
	// ErrEmptyBatch is returned for a batch without responses.
	ErrEmptyBatch = errors.New("rollup: empty batch")
	// ErrUnknownQueue rejects identifiers outside the two channel directions.
	ErrUnknownQueue = errors.New("rollup: unknown queue")
)

// QueueID names one direction of the channel.
type QueueID uint8

const (
	// QueueRequests carries messages from the ledger to the worker.
	QueueRequests QueueID = iota + 1
	// QueueResponses carries messages from the worker to the ledger.
	QueueResponses
)

func (q QueueID) String() string {
	switch q {
	case QueueRequests:
		return "requests"
	case QueueResponses:
		return "responses"
	default:
		return fmt.Sprintf("queue(%d)", uint8(q))
	}
}

// Valid reports whether q names a known direction.
func (q QueueID) Valid() bool { return q == QueueRequests || q == QueueResponses }

// ParseQueueID accepts the names produced by String.
func ParseQueueID(value string) (QueueID, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "requests", "outbound":
		return QueueRequests, nil
	case "responses", "inbound":
		return QueueResponses, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, value)
	}
}

// OutboundMessage is a payload the ledger enqueued for the worker. It is never
// mutated once written and is purged by MarkConsumed.
type OutboundMessage struct {
	Queue   QueueID
	Index   uint64
	Payload []byte
}

// OrderingError carries the index the cursor expected alongside the index that
// arrived.
type OrderingError struct {
	Queue    QueueID
	Expected uint64
	Got      uint64
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%s: %s expected index %d, got %d", ErrOutOfOrder, e.Queue, e.Expected, e.Got)
}

func (e *OrderingError) Unwrap() error { return ErrOutOfOrder }
