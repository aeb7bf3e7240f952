package raffle

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"raffleanchor/core/events"
	"raffleanchor/core/state"
	"raffleanchor/native/rollup"
)

var errNilState = errors.New("raffle: state not configured")

// Params tune draw construction.
type Params struct {
	NbWinners          uint16
	Policy             WeightPolicy
	ExcludeLastWinners bool
	// FirstEra is reported as the next era until a draw completes.
	FirstEra uint32
}

// Validate checks the parameters before the engine starts.
func (p Params) Validate() error {
	if p.NbWinners == 0 {
		return fmt.Errorf("raffle: NbWinners must be positive")
	}
	if p.Policy.Mode != WeightLinear && p.Policy.Mode != WeightSqrt {
		return fmt.Errorf("raffle: unsupported weight mode %s", p.Policy.Mode)
	}
	return nil
}

// Effect describes what applying one action did. Events are returned rather
// than emitted so the caller can publish them after its commit.
type Effect struct {
	Kind         ActionKind
	Acknowledged bool
	Outbound     []uint64
	Payouts      []PayoutInstruction
	Events       []events.Event
}

// PendingDraw is the single outstanding draw.
type PendingDraw struct {
	RequestIndex uint64
	Ref          SnapshotRef
	NbWinners    uint16
	Pool         []WeightedParticipant
}

// Status summarises draw progress.
type Status struct {
	Pending     *PendingDraw
	HasDrawn    bool
	LastEra     uint32
	LastWinners []ParticipantID
	NextEra     uint32
}

type storedDraw struct {
	RequestIndex uint64
	Era          uint32
	Digest       [32]byte
	NbWinners    uint16
	Pool         []wirePoolEntry
}

type storedProgress struct {
	HasDrawn    bool
	LastEra     uint32
	LastWinners []ParticipantID
}

// Engine dispatches decoded actions against draw state and the collaborators.
// It performs no locking; callers serialize access.
type Engine struct {
	state    *state.Manager
	queue    OutboundQueue
	staking  StakingView
	budget   BudgetView
	rewards  RewardLedger
	verifier ProofVerifier
	params   Params
	logger   *slog.Logger
}

// NewEngine wires the dispatcher. st must be the same manager the queue writes
// through so that every effect commits together.
func NewEngine(st *state.Manager, queue OutboundQueue, deps Collaborators, params Params) (*Engine, error) {
	if st == nil {
		return nil, errNilState
	}
	if queue == nil {
		return nil, errors.New("raffle: outbound queue not configured")
	}
	if deps.Staking == nil || deps.Rewards == nil || deps.Verifier == nil {
		return nil, errors.New("raffle: staking, rewards and verifier collaborators are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		state:    st,
		queue:    queue,
		staking:  deps.Staking,
		budget:   deps.Budget,
		rewards:  deps.Rewards,
		verifier: deps.Verifier,
		params:   params,
		logger:   slog.Default(),
	}, nil
}

// SetLogger overrides the default logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// Params returns the configured parameters.
func (e *Engine) Params() Params { return e.params }

// Apply dispatches action. On error the caller must discard staged state.
func (e *Engine) Apply(action Action) (Effect, error) {
	switch act := action.(type) {
	case DrawRequest:
		return e.applyDrawRequest(act)
	case DrawResult:
		return e.applyDrawResult(act)
	case PayoutInstruction:
		return e.applyPayout(act)
	default:
		return Effect{}, fmt.Errorf("%w: unsupported action %T", ErrMalformedPayload, action)
	}
}

// RequestDraw opens a draw for era without an inbound message.
func (e *Engine) RequestDraw(era uint32) (Effect, error) {
	return e.applyDrawRequest(DrawRequest{Ref: SnapshotRef{Era: era}})
}

func (e *Engine) applyDrawRequest(req DrawRequest) (Effect, error) {
	effect := Effect{Kind: KindDrawRequest}
	pending, ok, err := e.loadDraw()
	if err != nil {
		return effect, err
	}
	if ok {
		if pending.Era != req.Ref.Era {
			return effect, fmt.Errorf("%w: era %d outstanding, requested %d", ErrDrawInProgress, pending.Era, req.Ref.Era)
		}
		if !isZeroDigest(req.Ref.Digest) && req.Ref.Digest != pending.Digest {
			return effect, fmt.Errorf("%w: era %d outstanding with %x, requested %x", ErrSnapshotMismatch, pending.Era, pending.Digest[:4], req.Ref.Digest[:4])
		}
		effect.Acknowledged = true
		effect.Events = append(effect.Events, events.DrawAcknowledged{Era: pending.Era, RequestIndex: pending.RequestIndex})
		return effect, nil
	}

	progress, err := e.loadProgress()
	if err != nil {
		return effect, err
	}
	if progress.HasDrawn && req.Ref.Era <= progress.LastEra {
		return effect, fmt.Errorf("%w: era %d, last drawn %d", ErrEraAlreadyDrawn, req.Ref.Era, progress.LastEra)
	}

	entries, err := e.staking.EligibleSnapshot(req.Ref.Era)
	if err != nil {
		return effect, &AdapterError{Adapter: "staking", Err: err}
	}
	var excluded map[ParticipantID]struct{}
	if e.params.ExcludeLastWinners && len(progress.LastWinners) > 0 {
		excluded = make(map[ParticipantID]struct{}, len(progress.LastWinners))
		for _, w := range progress.LastWinners {
			excluded[w] = struct{}{}
		}
	}
	pool, err := BuildPool(entries, e.params.Policy, excluded)
	if err != nil {
		return effect, err
	}
	if len(pool) == 0 {
		return effect, fmt.Errorf("%w: era %d", ErrNoEligibleParticipants, req.Ref.Era)
	}
	ref := SnapshotRef{Era: req.Ref.Era, Digest: SnapshotDigest(req.Ref.Era, pool)}
	if !isZeroDigest(req.Ref.Digest) && req.Ref.Digest != ref.Digest {
		return effect, fmt.Errorf("%w: era %d computed %x, requested %x", ErrSnapshotMismatch, ref.Era, ref.Digest[:4], req.Ref.Digest[:4])
	}

	nb := e.params.NbWinners
	payload, err := EncodeAction(DrawRequest{Ref: ref, NbWinners: nb, Pool: pool})
	if err != nil {
		return effect, err
	}
	index, err := e.queue.Push(rollup.QueueRequests, payload)
	if err != nil {
		return effect, err
	}
	stored := storedDraw{RequestIndex: index, Era: ref.Era, Digest: ref.Digest, NbWinners: nb, Pool: toWirePool(pool)}
	if err := e.state.KVPut(state.RaffleDrawKey(), stored); err != nil {
		return effect, err
	}
	e.logger.Debug("raffle draw requested", "era", ref.Era, "pool", len(pool), "request_index", index)
	effect.Outbound = append(effect.Outbound, index)
	effect.Events = append(effect.Events, events.DrawRequested{
		Era:          ref.Era,
		Digest:       ref.Digest,
		RequestIndex: index,
		NbWinners:    nb,
		PoolSize:     len(pool),
	})
	return effect, nil
}

func (e *Engine) applyDrawResult(res DrawResult) (Effect, error) {
	effect := Effect{Kind: KindDrawResult}
	pending, ok, err := e.loadDraw()
	if err != nil {
		return effect, err
	}
	if !ok || pending.Era != res.Ref.Era || pending.Digest != res.Ref.Digest {
		return effect, fmt.Errorf("%w: no outstanding draw for %s", ErrProofMismatch, res.Ref)
	}
	pool := fromWirePool(pending.Pool)

	seen := make(map[ParticipantID]struct{}, len(res.Winners))
	for _, w := range res.Winners {
		if _, dup := seen[w]; dup {
			return effect, fmt.Errorf("%w: %s", ErrDuplicateWinner, w)
		}
		seen[w] = struct{}{}
		if !PoolContains(pool, w) {
			return effect, fmt.Errorf("%w: %s", ErrIneligibleWinner, w)
		}
	}
	if len(res.Winners) > int(pending.NbWinners) {
		return effect, fmt.Errorf("%w: %d > %d", ErrTooManyWinners, len(res.Winners), pending.NbWinners)
	}
	if res.Skipped && len(res.Winners) > 0 {
		return effect, fmt.Errorf("%w: skipped result names winners", ErrProofMismatch)
	}

	seed, err := e.verifier.Seed(res)
	if err != nil {
		return effect, err
	}
	budget, err := e.rewardBudget(res.Ref.Era)
	if err != nil {
		return effect, err
	}

	if res.Skipped {
		if !budget.IsZero() {
			return effect, fmt.Errorf("%w: era %d budget %s", ErrSkipNotAllowed, res.Ref.Era, budget.Dec())
		}
		if err := e.resolve(pending, nil); err != nil {
			return effect, err
		}
		effect.Events = append(effect.Events, events.DrawSkipped{Era: res.Ref.Era})
		return effect, nil
	}

	expected, err := Select(pool, seed, int(pending.NbWinners))
	if err != nil {
		return effect, err
	}
	if !sameWinners(expected, res.Winners) {
		return effect, fmt.Errorf("%w: winners do not follow from the proven seed", ErrProofMismatch)
	}

	share := new(uint256.Int).Div(budget, uint256.NewInt(uint64(len(res.Winners))))
	for _, w := range res.Winners {
		if err := e.rewards.Payout(w, share); err != nil {
			return effect, &AdapterError{Adapter: "rewards", Err: err}
		}
		effect.Payouts = append(effect.Payouts, PayoutInstruction{Participant: w, Amount: new(uint256.Int).Set(share)})
		effect.Events = append(effect.Events, events.Payout{Era: res.Ref.Era, Participant: w, Amount: new(uint256.Int).Set(share)})
	}
	if err := e.resolve(pending, res.Winners); err != nil {
		return effect, err
	}
	winners := make([][20]byte, len(res.Winners))
	for i, w := range res.Winners {
		winners[i] = w
	}
	effect.Events = append(effect.Events, events.DrawCompleted{Era: res.Ref.Era, Winners: winners, Share: share})
	e.logger.Debug("raffle draw completed", "era", res.Ref.Era, "winners", len(res.Winners), "share", share.Dec())
	return effect, nil
}

func (e *Engine) applyPayout(p PayoutInstruction) (Effect, error) {
	effect := Effect{Kind: KindPayoutInstruction}
	if p.Participant == (ParticipantID{}) || p.Amount == nil {
		return effect, ErrInvalidPayout
	}
	if err := e.rewards.Payout(p.Participant, p.Amount); err != nil {
		return effect, &AdapterError{Adapter: "rewards", Err: err}
	}
	effect.Payouts = append(effect.Payouts, PayoutInstruction{Participant: p.Participant, Amount: new(uint256.Int).Set(p.Amount)})
	effect.Events = append(effect.Events, events.Payout{Participant: p.Participant, Amount: new(uint256.Int).Set(p.Amount)})
	return effect, nil
}

// resolve closes the outstanding draw and purges its outbound request.
func (e *Engine) resolve(pending storedDraw, winners []ParticipantID) error {
	progress := storedProgress{HasDrawn: true, LastEra: pending.Era, LastWinners: append([]ParticipantID{}, winners...)}
	if err := e.state.KVPut(state.RaffleProgressKey(), progress); err != nil {
		return err
	}
	if err := e.state.KVDelete(state.RaffleDrawKey()); err != nil {
		return err
	}
	return e.queue.MarkConsumed(rollup.QueueRequests, pending.RequestIndex)
}

func (e *Engine) rewardBudget(era uint32) (*uint256.Int, error) {
	if e.budget == nil {
		return new(uint256.Int), nil
	}
	budget, err := e.budget.RewardBudget(era)
	if err != nil {
		return nil, &AdapterError{Adapter: "budget", Err: err}
	}
	return copyAmount(budget), nil
}

// Status reports the outstanding draw and the last completed era.
func (e *Engine) Status() (Status, error) {
	var status Status
	pending, ok, err := e.loadDraw()
	if err != nil {
		return status, err
	}
	if ok {
		status.Pending = &PendingDraw{
			RequestIndex: pending.RequestIndex,
			Ref:          SnapshotRef{Era: pending.Era, Digest: pending.Digest},
			NbWinners:    pending.NbWinners,
			Pool:         fromWirePool(pending.Pool),
		}
	}
	progress, err := e.loadProgress()
	if err != nil {
		return status, err
	}
	status.HasDrawn = progress.HasDrawn
	status.LastEra = progress.LastEra
	status.LastWinners = progress.LastWinners
	status.NextEra = e.params.FirstEra
	if progress.HasDrawn && progress.LastEra+1 > status.NextEra {
		status.NextEra = progress.LastEra + 1
	}
	return status, nil
}

func (e *Engine) loadDraw() (storedDraw, bool, error) {
	var draw storedDraw
	ok, err := e.state.KVGet(state.RaffleDrawKey(), &draw)
	return draw, ok, err
}

func (e *Engine) loadProgress() (storedProgress, error) {
	var progress storedProgress
	_, err := e.state.KVGet(state.RaffleProgressKey(), &progress)
	return progress, err
}

func toWirePool(pool []WeightedParticipant) []wirePoolEntry {
	out := make([]wirePoolEntry, len(pool))
	for i, p := range pool {
		out[i] = wirePoolEntry{Participant: p.Participant, Stake: copyAmount(p.Stake), Weight: copyAmount(p.Weight)}
	}
	return out
}

func fromWirePool(pool []wirePoolEntry) []WeightedParticipant {
	out := make([]WeightedParticipant, len(pool))
	for i, p := range pool {
		out[i] = WeightedParticipant{Participant: p.Participant, Stake: copyAmount(p.Stake), Weight: copyAmount(p.Weight)}
	}
	return out
}

func sameWinners(a, b []ParticipantID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isZeroDigest(d [32]byte) bool { return d == [32]byte{} }
