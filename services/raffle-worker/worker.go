package raffleworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"raffleanchor/crypto"
	"raffleanchor/native/anchor"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
	"raffleanchor/observability"
	rpcanchor "raffleanchor/rpc/anchor"
)

// Node is the subset of the anchor API the worker drives.
type Node interface {
	Cursor(ctx context.Context) (*rpcanchor.CursorJSON, error)
	RaffleStatus(ctx context.Context) (*rpcanchor.RaffleStatusJSON, error)
	Pending(ctx context.Context, queue rollup.QueueID) (*rpcanchor.PendingJSON, error)
	SubmitBatch(ctx context.Context, submitter [20]byte, batch rollup.InboundBatch) (*rpcanchor.ReceiptJSON, error)
}

// Outcome names what a cycle did.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeWaiting   Outcome = "waiting"
	OutcomeAnswered  Outcome = "answered"
	OutcomeTriggered Outcome = "triggered"
)

// CycleResult describes one polling cycle.
type CycleResult struct {
	ID      string
	Outcome Outcome
	Era     uint32
	Index   uint64
	DryRun  bool
	Receipt *rpcanchor.ReceiptJSON
}

// Worker answers the node's draw requests and, on schedule, opens the next
// era's draw. It holds the attestor key that signs every inbound batch.
type Worker struct {
	node      Node
	key       *crypto.PrivateKey
	submitter [20]byte
	prover    Prover
	store     *Store
	schedule  Schedule
	dryRun    bool
	logger    *slog.Logger
	metrics   *observability.WorkerMetrics
	nowFn     func() time.Time
}

// Option customises a worker.
type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.WorkerMetrics) Option {
	return func(w *Worker) { w.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.nowFn = now
		}
	}
}

// WithDryRun builds and signs batches without submitting them.
func WithDryRun(enabled bool) Option {
	return func(w *Worker) { w.dryRun = enabled }
}

// NewWorker wires a worker.
func NewWorker(node Node, key *crypto.PrivateKey, prover Prover, store *Store, schedule Schedule, opts ...Option) (*Worker, error) {
	if node == nil {
		return nil, errors.New("raffle worker: node client required")
	}
	if key == nil {
		return nil, errors.New("raffle worker: signer key required")
	}
	if prover == nil {
		return nil, errors.New("raffle worker: prover required")
	}
	if store == nil {
		return nil, errors.New("raffle worker: store required")
	}
	w := &Worker{
		node:      node,
		key:       key,
		submitter: key.PubKey().Address(crypto.AttestorPrefix).Raw(),
		prover:    prover,
		store:     store,
		schedule:  schedule,
		logger:    slog.Default(),
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Submitter returns the attestor address batches are signed with.
func (w *Worker) Submitter() [20]byte { return w.submitter }

// Run polls until ctx is cancelled. Cycle errors are logged and retried on
// the next tick.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("raffle worker cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single polling cycle.
func (w *Worker) RunOnce(ctx context.Context) (result CycleResult, err error) {
	result = CycleResult{ID: uuid.NewString(), Outcome: OutcomeIdle, DryRun: w.dryRun}
	logger := w.logger.With("cycle", result.ID)
	defer func() { w.metrics.ObserveCycle(err) }()

	cursor, err := w.node.Cursor(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch cursor: %w", err)
	}
	if cursor.State == anchor.StateFaulted.String() {
		return result, fmt.Errorf("anchor is faulted: %s", cursor.Fault)
	}
	status, err := w.node.RaffleStatus(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch raffle status: %w", err)
	}
	if status.ProofScheme != "" && status.ProofScheme != w.prover.Scheme() {
		return result, fmt.Errorf("node verifies %s proofs, worker produces %s", status.ProofScheme, w.prover.Scheme())
	}

	if status.Pending != nil {
		return w.answer(ctx, logger, result, cursor.Next, status.Pending)
	}

	trigger, hasTrigger, err := w.store.LastTrigger()
	if err != nil {
		return result, err
	}
	due, err := w.schedule.Due(trigger.At, hasTrigger, w.nowFn())
	if err != nil {
		return result, err
	}
	if !due {
		logger.Debug("raffle worker idle", "next_era", status.NextEra)
		return result, nil
	}
	return w.trigger(ctx, logger, result, cursor.Next, status.NextEra)
}

func (w *Worker) answer(ctx context.Context, logger *slog.Logger, result CycleResult, next uint64, pending *rpcanchor.PendingDrawJSON) (CycleResult, error) {
	draw, err := pending.PendingDraw()
	if err != nil {
		return result, fmt.Errorf("decode pending draw: %w", err)
	}
	result.Era = draw.Ref.Era
	if prev, ok, err := w.store.Answer(draw.RequestIndex); err != nil {
		return result, err
	} else if ok {
		result.Outcome = OutcomeWaiting
		logger.Info("draw already answered, waiting for node", "era", prev.Era, "request_index", draw.RequestIndex, "answered_at", prev.SubmittedAt)
		return result, nil
	}
	if err := w.checkRequest(ctx, *draw); err != nil {
		return result, err
	}

	budget, err := rpcanchor.ParseAmount(pending.Budget)
	if err != nil {
		return result, fmt.Errorf("parse budget: %w", err)
	}
	skip := budget.IsZero()
	answer, err := w.prover.Answer(*draw, skip)
	if err != nil {
		return result, fmt.Errorf("prove draw: %w", err)
	}
	payload, err := raffle.EncodeAction(answer)
	if err != nil {
		return result, err
	}
	receipt, err := w.submit(ctx, logger, next, payload, raffle.KindDrawResult)
	if err != nil {
		return result, err
	}
	result.Outcome = OutcomeAnswered
	result.Index = next
	result.Receipt = receipt
	logger.Info("draw answered", "era", draw.Ref.Era, "request_index", draw.RequestIndex, "winners", len(answer.Winners), "skipped", skip, "dry_run", w.dryRun)
	if w.dryRun {
		return result, nil
	}
	return result, w.store.MarkAnswered(draw.RequestIndex, Answer{
		Era:         draw.Ref.Era,
		Index:       next,
		Skipped:     skip,
		Cycle:       result.ID,
		SubmittedAt: w.nowFn().UTC(),
	})
}

// checkRequest compares the status view of a draw with the request message
// still sitting in the outbound queue.
func (w *Worker) checkRequest(ctx context.Context, draw raffle.PendingDraw) error {
	queue, err := w.node.Pending(ctx, rollup.QueueRequests)
	if err != nil {
		return fmt.Errorf("fetch outbound queue: %w", err)
	}
	for _, msg := range queue.Messages {
		if msg.Index != draw.RequestIndex {
			continue
		}
		action, err := raffle.DecodeAction(msg.Payload)
		if err != nil {
			return fmt.Errorf("decode request %d: %w", msg.Index, err)
		}
		req, ok := action.(raffle.DrawRequest)
		if !ok {
			return fmt.Errorf("outbound message %d is a %s, expected draw_request", msg.Index, action.Kind())
		}
		if req.Ref != draw.Ref || req.NbWinners != draw.NbWinners || len(req.Pool) != len(draw.Pool) {
			return fmt.Errorf("outbound request %d disagrees with node status", msg.Index)
		}
		return nil
	}
	w.logger.Debug("draw request already consumed from outbound queue", "request_index", draw.RequestIndex)
	return nil
}

func (w *Worker) trigger(ctx context.Context, logger *slog.Logger, result CycleResult, next uint64, era uint32) (CycleResult, error) {
	result.Era = era
	payload, err := raffle.EncodeAction(raffle.DrawRequest{Ref: raffle.SnapshotRef{Era: era}})
	if err != nil {
		return result, err
	}
	receipt, err := w.submit(ctx, logger, next, payload, raffle.KindDrawRequest)
	if err != nil {
		// A domain rejection (nothing staked, era already drawn) will not
		// change before the next tick.
		if rpcanchor.IsClass(err, anchor.ClassDomain.String()) && !w.dryRun {
			if recErr := w.store.RecordTrigger(Trigger{Era: era, At: w.nowFn().UTC()}); recErr != nil {
				return result, errors.Join(err, recErr)
			}
		}
		return result, err
	}
	result.Outcome = OutcomeTriggered
	result.Index = next
	result.Receipt = receipt
	logger.Info("draw triggered", "era", era, "index", next, "dry_run", w.dryRun)
	if w.dryRun {
		return result, nil
	}
	return result, w.store.RecordTrigger(Trigger{Era: era, At: w.nowFn().UTC()})
}

func (w *Worker) submit(ctx context.Context, logger *slog.Logger, index uint64, payload []byte, kind raffle.ActionKind) (*rpcanchor.ReceiptJSON, error) {
	batch, err := rollup.SignBatch(w.key, []rollup.Response{{Index: index, Payload: payload}})
	if err != nil {
		return nil, err
	}
	if w.dryRun {
		logger.Info("dry run, batch not submitted", "kind", kind.String(), "index", index, "payload_bytes", len(payload))
		return nil, nil
	}
	receipt, err := w.node.SubmitBatch(ctx, w.submitter, batch)
	if err != nil {
		return nil, fmt.Errorf("submit %s at %d: %w", kind, index, err)
	}
	w.metrics.RecordSubmission(kind.String(), w.nowFn())
	return receipt, nil
}
