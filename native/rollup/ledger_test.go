package rollup

import (
	"errors"
	"testing"

	"raffleanchor/core/state"
	"raffleanchor/storage"
)

func newTestLedger(t *testing.T, capacity uint64) (*Ledger, *state.Manager) {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	return NewLedger(st, capacity), st
}

func collect(t *testing.T, l *Ledger, q QueueID) []OutboundMessage {
	t.Helper()
	var out []OutboundMessage
	for msg, err := range l.Pending(q) {
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestPushAllocatesSequentialIndices(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	for want := uint64(0); want < 3; want++ {
		got, err := l.Push(QueueRequests, []byte{byte(want)})
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if got != want {
			t.Fatalf("expected index %d, got %d", want, got)
		}
	}
	pending := collect(t, l, QueueRequests)
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, msg := range pending {
		if msg.Index != uint64(i) || msg.Payload[0] != byte(i) || msg.Queue != QueueRequests {
			t.Fatalf("unexpected message %+v at %d", msg, i)
		}
	}
	if len(collect(t, l, QueueResponses)) != 0 {
		t.Fatalf("queues must be independent")
	}
}

func TestPendingIsRestartable(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	for i := 0; i < 4; i++ {
		if _, err := l.Push(QueueRequests, []byte("m")); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	seq := l.Pending(QueueRequests)
	first := 0
	for range seq {
		first++
		if first == 2 {
			break
		}
	}
	second := 0
	for _, err := range seq {
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		second++
	}
	if first != 2 || second != 4 {
		t.Fatalf("expected restart from the oldest entry, got %d then %d", first, second)
	}
}

func TestPushRejectsWhenFull(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	for i := 0; i < 2; i++ {
		if _, err := l.Push(QueueRequests, nil); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if _, err := l.Push(QueueRequests, nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if err := l.MarkConsumed(QueueRequests, 0); err != nil {
		t.Fatalf("mark consumed: %v", err)
	}
	idx, err := l.Push(QueueRequests, nil)
	if err != nil {
		t.Fatalf("push after consume: %v", err)
	}
	if idx != 2 {
		t.Fatalf("indices must not be reused, got %d", idx)
	}
}

func TestMarkConsumed(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	if err := l.MarkConsumed(QueueRequests, 0); !errors.Is(err, ErrInvalidAck) {
		t.Fatalf("ack on empty queue should fail, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := l.Push(QueueRequests, []byte{byte(i)}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := l.MarkConsumed(QueueRequests, 3); !errors.Is(err, ErrInvalidAck) {
		t.Fatalf("expected ErrInvalidAck, got %v", err)
	}
	if err := l.MarkConsumed(QueueRequests, 1); err != nil {
		t.Fatalf("mark consumed: %v", err)
	}
	pending := collect(t, l, QueueRequests)
	if len(pending) != 1 || pending[0].Index != 2 {
		t.Fatalf("unexpected pending after ack: %+v", pending)
	}
	if err := l.MarkConsumed(QueueRequests, 0); err != nil {
		t.Fatalf("re-acknowledging a purged range should be a no-op: %v", err)
	}
	stats, err := l.Stats(QueueRequests)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Head != 3 || stats.Tail != 2 || stats.Depth != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCursorAdvancesOneAtATime(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	cur, err := l.Cursor(QueueResponses)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if _, ok := cur.Last(); ok || cur.Expected() != 0 {
		t.Fatalf("fresh cursor should expect index 0, got %+v", cur)
	}
	if _, err := l.AdvanceCursor(QueueResponses, 1); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	cur, err = l.AdvanceCursor(QueueResponses, 0)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if last, ok := cur.Last(); !ok || last != 0 {
		t.Fatalf("expected last applied 0, got %d ok=%v", last, ok)
	}
	var ordering *OrderingError
	err = l.CheckSequence(QueueResponses, []uint64{1, 3})
	if !errors.As(err, &ordering) || ordering.Expected != 2 || ordering.Got != 3 {
		t.Fatalf("expected gap at 2, got %v", err)
	}
	if err := l.CheckSequence(QueueResponses, []uint64{1, 2}); err != nil {
		t.Fatalf("contiguous sequence rejected: %v", err)
	}
	if err := l.CheckSequence(QueueResponses, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestDiscardRestoresQueue(t *testing.T) {
	l, st := newTestLedger(t, 8)
	if _, err := l.Push(QueueRequests, []byte("kept")); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := l.Push(QueueRequests, []byte("dropped")); err != nil {
		t.Fatalf("push: %v", err)
	}
	st.Discard()
	pending := collect(t, l, QueueRequests)
	if len(pending) != 1 || string(pending[0].Payload) != "kept" {
		t.Fatalf("discard should drop staged push, got %+v", pending)
	}
}

func TestParseQueueID(t *testing.T) {
	q, err := ParseQueueID("Requests")
	if err != nil || q != QueueRequests {
		t.Fatalf("parse requests: %v %v", q, err)
	}
	if _, err := ParseQueueID("sideways"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
}
