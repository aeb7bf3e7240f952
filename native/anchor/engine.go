package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"raffleanchor/core/events"
	"raffleanchor/core/state"
	"raffleanchor/native/attest"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
	"raffleanchor/observability"
)

// MachineState is the externally visible state of the anchor.
type MachineState uint8

const (
	StateIdle MachineState = iota
	StateApplyingBatch
	StateFaulted
)

func (s MachineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplyingBatch:
		return "applying_batch"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Dispatcher applies decoded actions. The raffle engine implements it.
type Dispatcher interface {
	Apply(action raffle.Action) (raffle.Effect, error)
	RequestDraw(era uint32) (raffle.Effect, error)
}

// Receipt describes a committed batch.
type Receipt struct {
	Applied      int
	First        uint64
	Last         uint64
	Cursor       rollup.Cursor
	Acknowledged int
	Outbound     []uint64
	Payouts      []raffle.PayoutInstruction
}

type storedFault struct {
	Reason string
	At     uint64
}

// Engine is the anchor protocol state machine. It is not safe for concurrent
// use; the host serializes calls.
type Engine struct {
	state      *state.Manager
	ledger     *rollup.Ledger
	gate       *attest.Gate
	dispatcher Dispatcher
	emitter    events.Emitter
	metrics    *observability.AnchorMetrics
	tracer     trace.Tracer
	logger     *slog.Logger
	nowFn      func() time.Time

	machine MachineState
	fault   string
}

// Option customises the engine.
type Option func(*Engine)

func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.AnchorMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.nowFn = clock
		}
	}
}

// NewEngine wires the state machine and restores a persisted fault marker.
func NewEngine(st *state.Manager, ledger *rollup.Ledger, gate *attest.Gate, dispatcher Dispatcher, opts ...Option) (*Engine, error) {
	if st == nil || ledger == nil || gate == nil || dispatcher == nil {
		return nil, errors.New("anchor: state, ledger, gate and dispatcher are required")
	}
	e := &Engine{
		state:      st,
		ledger:     ledger,
		gate:       gate,
		dispatcher: dispatcher,
		emitter:    events.NoopEmitter{},
		tracer:     otel.Tracer("raffleanchor/anchor"),
		logger:     slog.Default(),
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	var fault storedFault
	found, err := st.KVGet(state.AnchorFaultKey(), &fault)
	if err != nil {
		return nil, fmt.Errorf("anchor: load fault marker: %w", err)
	}
	if found {
		e.machine = StateFaulted
		e.fault = fault.Reason
	}
	e.metrics.SetFaulted(found)
	e.publishGauges()
	return e, nil
}

// State returns the current machine state.
func (e *Engine) State() MachineState { return e.machine }

// Fault returns the reason recorded when the anchor faulted.
func (e *Engine) Fault() string { return e.fault }

// Cursor returns the inbound progress.
func (e *Engine) Cursor() (rollup.Cursor, error) {
	return e.ledger.Cursor(rollup.QueueResponses)
}

// Pending exposes the stored messages of queue.
func (e *Engine) Pending(queue rollup.QueueID) ([]rollup.OutboundMessage, error) {
	out := make([]rollup.OutboundMessage, 0)
	for msg, err := range e.ledger.Pending(queue) {
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// Stats reports the window of queue.
func (e *Engine) Stats(queue rollup.QueueID) (rollup.QueueStats, error) {
	return e.ledger.Stats(queue)
}

// Submit authenticates batch, applies every message in order and commits the
// result atomically. On any error nothing is persisted.
func (e *Engine) Submit(ctx context.Context, submitter [20]byte, batch rollup.InboundBatch) (receipt *Receipt, err error) {
	_, span := e.tracer.Start(ctx, "anchor.submit",
		trace.WithAttributes(attribute.Int("batch.size", batch.Len())))
	defer span.End()
	start := e.nowFn()
	defer func() {
		class := ""
		if err != nil {
			class = ClassOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "batch applied")
		}
		e.metrics.ObserveBatch(class, e.nowFn().Sub(start))
	}()

	if err := e.available(); err != nil {
		return nil, err
	}
	decision, err := e.gate.Authorize(submitter, batch)
	if err != nil {
		return nil, e.enterFault(err)
	}
	if !decision.Authorized {
		e.logger.Warn("anchor batch rejected", "reason", string(decision.Reason), "submitter", fmt.Sprintf("%x", submitter))
		return nil, &Error{Class: ClassAuthorization, Err: decision.Err()}
	}
	if err := e.ledger.CheckSequence(rollup.QueueResponses, batch.Indices()); err != nil {
		anchorErr := wrap(err, 0, false)
		if anchorErr.Class == ClassInternal {
			return nil, e.enterFault(err)
		}
		var ordering *rollup.OrderingError
		if errors.As(err, &ordering) {
			anchorErr.Index, anchorErr.HasIndex = ordering.Got, true
		}
		return nil, anchorErr
	}

	receipt, staged, err := e.applyGuarded(batch)
	if err != nil {
		e.state.Discard()
		if ClassOf(err) == ClassInternal {
			return nil, e.enterFault(err)
		}
		e.machine = StateIdle
		e.logger.Info("anchor batch aborted", "class", ClassOf(err).String(), "error", err)
		return nil, err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return nil, e.enterFault(err)
	}
	e.machine = StateIdle
	span.SetAttributes(attribute.Int64("cursor.next", int64(receipt.Cursor.Next)))

	for _, evt := range staged {
		e.emitter.Emit(evt)
	}
	e.emitter.Emit(events.BatchApplied{Submitter: submitter, First: receipt.First, Last: receipt.Last, Messages: receipt.Applied})
	e.metrics.RecordPayouts(len(receipt.Payouts))
	e.publishGauges()
	e.logger.Info("anchor batch applied",
		"first", receipt.First,
		"last", receipt.Last,
		"payouts", len(receipt.Payouts),
		"outbound", len(receipt.Outbound))
	return receipt, nil
}

// applyGuarded runs apply in the ApplyingBatch state and turns a panic into an
// internal error.
func (e *Engine) applyGuarded(batch rollup.InboundBatch) (receipt *Receipt, staged []events.Event, err error) {
	e.machine = StateApplyingBatch
	defer func() {
		if r := recover(); r != nil {
			receipt, staged = nil, nil
			err = &Error{Class: ClassInternal, Err: fmt.Errorf("panic while applying batch: %v", r)}
		}
	}()
	return e.apply(batch)
}

func (e *Engine) apply(batch rollup.InboundBatch) (*Receipt, []events.Event, error) {
	receipt := &Receipt{}
	var staged []events.Event
	for i, resp := range batch.Responses {
		action, err := raffle.DecodeAction(resp.Payload)
		if err != nil {
			return nil, nil, &Error{Class: ClassDecoding, Index: resp.Index, HasIndex: true, Err: err}
		}
		effect, err := e.dispatcher.Apply(action)
		if err != nil {
			return nil, nil, wrap(err, resp.Index, true)
		}
		cursor, err := e.ledger.AdvanceCursor(rollup.QueueResponses, resp.Index)
		if err != nil {
			return nil, nil, wrap(err, resp.Index, true)
		}
		if i == 0 {
			receipt.First = resp.Index
		}
		receipt.Last = resp.Index
		receipt.Cursor = cursor
		receipt.Applied++
		if effect.Acknowledged {
			receipt.Acknowledged++
		}
		receipt.Outbound = append(receipt.Outbound, effect.Outbound...)
		receipt.Payouts = append(receipt.Payouts, effect.Payouts...)
		staged = append(staged, effect.Events...)
		e.metrics.RecordMessage(action.Kind().String())
	}
	return receipt, staged, nil
}

// TriggerDraw opens a draw for era from the ledger side, as an operator or
// scheduler would, and commits it.
func (e *Engine) TriggerDraw(ctx context.Context, era uint32) (raffle.Effect, error) {
	_, span := e.tracer.Start(ctx, "anchor.trigger_draw", trace.WithAttributes(attribute.Int64("era", int64(era))))
	defer span.End()
	if err := e.available(); err != nil {
		return raffle.Effect{}, err
	}
	effect, err := e.dispatcher.RequestDraw(era)
	if err != nil {
		e.state.Discard()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if classify(err) == ClassInternal {
			return raffle.Effect{}, e.enterFault(err)
		}
		return raffle.Effect{}, wrap(err, 0, false)
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return raffle.Effect{}, e.enterFault(err)
	}
	for _, evt := range effect.Events {
		e.emitter.Emit(evt)
	}
	e.publishGauges()
	return effect, nil
}

// Update runs an administrative mutation (registry or oracle changes) and
// commits it, or discards everything fn staged when it fails. It is refused
// while a batch is being applied but allowed while faulted.
func (e *Engine) Update(fn func() error) error {
	if e.machine == StateApplyingBatch {
		return &Error{Class: ClassUnavailable, Err: ErrBusy}
	}
	if err := fn(); err != nil {
		e.state.Discard()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return fmt.Errorf("anchor: commit update: %w", err)
	}
	return nil
}

// ClearFault removes the fault marker and resumes accepting batches.
func (e *Engine) ClearFault() error {
	if e.machine != StateFaulted {
		return nil
	}
	e.state.Discard()
	if err := e.state.KVDelete(state.AnchorFaultKey()); err != nil {
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return fmt.Errorf("anchor: clear fault: %w", err)
	}
	e.logger.Warn("anchor fault cleared", "reason", e.fault)
	e.machine = StateIdle
	e.fault = ""
	e.metrics.SetFaulted(false)
	e.emitter.Emit(events.AnchorFaultCleared{})
	return nil
}

func (e *Engine) available() error {
	switch e.machine {
	case StateFaulted:
		return &Error{Class: ClassUnavailable, Err: fmt.Errorf("%w: %s", ErrFaulted, e.fault)}
	case StateApplyingBatch:
		return &Error{Class: ClassUnavailable, Err: ErrBusy}
	default:
		return nil
	}
}

// enterFault persists the fault marker and returns the internal error to
// report. Staged writes are always dropped first.
func (e *Engine) enterFault(cause error) error {
	e.state.Discard()
	reason := cause.Error()
	e.machine = StateFaulted
	e.fault = reason
	marker := storedFault{Reason: reason, At: uint64(e.nowFn().Unix())}
	if err := e.state.KVPut(state.AnchorFaultKey(), marker); err == nil {
		if err := e.state.Commit(); err != nil {
			e.state.Discard()
			e.logger.Error("anchor fault marker not persisted", "error", err)
		}
	}
	e.metrics.SetFaulted(true)
	e.logger.Error("anchor faulted", "reason", reason)
	e.emitter.Emit(events.AnchorFaulted{Reason: reason})
	var anchorErr *Error
	if errors.As(cause, &anchorErr) {
		return anchorErr
	}
	return &Error{Class: ClassInternal, Err: cause}
}

func (e *Engine) publishGauges() {
	if e.metrics == nil {
		return
	}
	for _, queue := range []rollup.QueueID{rollup.QueueRequests, rollup.QueueResponses} {
		if stats, err := e.ledger.Stats(queue); err == nil {
			e.metrics.SetQueueDepth(queue.String(), stats.Depth)
		}
	}
	if cursor, err := e.Cursor(); err == nil {
		e.metrics.SetCursor(cursor.Next)
	}
}
