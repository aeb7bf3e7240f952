package raffle

import (
	"github.com/holiman/uint256"

	"raffleanchor/native/rollup"
)

// StakingView returns the point-in-time stakes of an era. Implementations must
// be read-only.
type StakingView interface {
	EligibleSnapshot(era uint32) ([]StakeEntry, error)
}

// BudgetView reports the reward budget shared by an era's winners.
type BudgetView interface {
	RewardBudget(era uint32) (*uint256.Int, error)
}

// RewardLedger credits winners.
type RewardLedger interface {
	Payout(participant ParticipantID, amount *uint256.Int) error
}

// OutboundQueue is the slice of the message queue ledger the engine writes to.
type OutboundQueue interface {
	Push(queue rollup.QueueID, payload []byte) (uint64, error)
	MarkConsumed(queue rollup.QueueID, upTo uint64) error
}

// Collaborators bundles the adapters the engine calls out to.
type Collaborators struct {
	Staking  StakingView
	Budget   BudgetView
	Rewards  RewardLedger
	Verifier ProofVerifier
}
