package events

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"raffleanchor/core/types"
	"raffleanchor/crypto"
)

const (
	// TypeAnchorBatchApplied is emitted once per committed inbound batch.
	TypeAnchorBatchApplied = "anchor.batch.applied"
	// TypeAnchorFaulted is emitted when the state machine stops accepting batches.
	TypeAnchorFaulted = "anchor.faulted"
	// TypeAnchorFaultCleared marks an operator clearing the fault marker.
	TypeAnchorFaultCleared = "anchor.fault.cleared"

	TypeRaffleDrawRequested    = "raffle.draw.requested"
	TypeRaffleDrawAcknowledged = "raffle.draw.acknowledged"
	TypeRaffleDrawCompleted    = "raffle.draw.completed"
	TypeRaffleDrawSkipped      = "raffle.draw.skipped"
	// TypeRafflePayout records one reward credit handed to the ledger adapter.
	TypeRafflePayout = "raffle.payout"
)

// BatchApplied summarises a committed batch.
type BatchApplied struct {
	Submitter [20]byte
	First     uint64
	Last      uint64
	Messages  int
}

func (BatchApplied) EventType() string { return TypeAnchorBatchApplied }

func (e BatchApplied) Event() *types.Event {
	return types.NewEvent(TypeAnchorBatchApplied).
		Set("submitter", crypto.NewAddress(crypto.AttestorPrefix, e.Submitter[:]).String()).
		Set("first", strconv.FormatUint(e.First, 10)).
		Set("last", strconv.FormatUint(e.Last, 10)).
		Set("messages", strconv.Itoa(e.Messages))
}

// AnchorFaulted carries the reason that tripped the fault marker.
type AnchorFaulted struct {
	Reason string
}

func (AnchorFaulted) EventType() string { return TypeAnchorFaulted }

func (e AnchorFaulted) Event() *types.Event {
	return types.NewEvent(TypeAnchorFaulted).Set("reason", strings.TrimSpace(e.Reason))
}

type AnchorFaultCleared struct{}

func (AnchorFaultCleared) EventType() string { return TypeAnchorFaultCleared }

func (AnchorFaultCleared) Event() *types.Event { return types.NewEvent(TypeAnchorFaultCleared) }

// DrawRequested is emitted when a draw request is enqueued for the worker.
type DrawRequested struct {
	Era          uint32
	Digest       [32]byte
	RequestIndex uint64
	NbWinners    uint16
	PoolSize     int
}

func (DrawRequested) EventType() string { return TypeRaffleDrawRequested }

func (e DrawRequested) Event() *types.Event {
	return types.NewEvent(TypeRaffleDrawRequested).
		Set("era", strconv.FormatUint(uint64(e.Era), 10)).
		Set("digest", "0x"+hex.EncodeToString(e.Digest[:])).
		Set("requestIndex", strconv.FormatUint(e.RequestIndex, 10)).
		Set("nbWinners", strconv.FormatUint(uint64(e.NbWinners), 10)).
		Set("poolSize", strconv.Itoa(e.PoolSize))
}

// DrawAcknowledged marks a repeated request for a draw already outstanding.
type DrawAcknowledged struct {
	Era          uint32
	RequestIndex uint64
}

func (DrawAcknowledged) EventType() string { return TypeRaffleDrawAcknowledged }

func (e DrawAcknowledged) Event() *types.Event {
	return types.NewEvent(TypeRaffleDrawAcknowledged).
		Set("era", strconv.FormatUint(uint64(e.Era), 10)).
		Set("requestIndex", strconv.FormatUint(e.RequestIndex, 10))
}

// DrawCompleted lists the winners of a resolved draw.
type DrawCompleted struct {
	Era     uint32
	Winners [][20]byte
	Share   *uint256.Int
}

func (DrawCompleted) EventType() string { return TypeRaffleDrawCompleted }

func (e DrawCompleted) Event() *types.Event {
	winners := make([]string, len(e.Winners))
	for i, w := range e.Winners {
		winners[i] = crypto.NewAddress(crypto.ParticipantPrefix, w[:]).String()
	}
	return types.NewEvent(TypeRaffleDrawCompleted).
		Set("era", strconv.FormatUint(uint64(e.Era), 10)).
		Set("winners", strings.Join(winners, ",")).
		Set("share", formatAmount(e.Share))
}

type DrawSkipped struct {
	Era uint32
}

func (DrawSkipped) EventType() string { return TypeRaffleDrawSkipped }

func (e DrawSkipped) Event() *types.Event {
	return types.NewEvent(TypeRaffleDrawSkipped).Set("era", strconv.FormatUint(uint64(e.Era), 10))
}

// Payout mirrors a single reward ledger credit.
type Payout struct {
	Era         uint32
	Participant [20]byte
	Amount      *uint256.Int
}

func (Payout) EventType() string { return TypeRafflePayout }

func (e Payout) Event() *types.Event {
	evt := types.NewEvent(TypeRafflePayout).
		Set("participant", crypto.NewAddress(crypto.ParticipantPrefix, e.Participant[:]).String()).
		Set("amount", formatAmount(e.Amount))
	if e.Era != 0 {
		evt.Set("era", strconv.FormatUint(uint64(e.Era), 10))
	}
	return evt
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
