package raffle

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"raffleanchor/crypto"
)

var (
	// ErrMalformedPayload reports an inbound payload that does not decode.
	ErrMalformedPayload = errors.New("raffle: malformed payload")
	// ErrDuplicateWinner rejects a result naming the same participant twice.
	ErrDuplicateWinner = errors.New("raffle: duplicate winner")
	// ErrIneligibleWinner rejects a winner absent from the draw's pool.
	ErrIneligibleWinner = errors.New("raffle: winner not in eligible pool")
	// ErrProofMismatch covers unknown draws, bad proofs and winners that do not
	// follow from the proven randomness.
	ErrProofMismatch = errors.New("raffle: randomness proof does not match winners")
	// ErrTooManyWinners rejects results naming more winners than requested.
	ErrTooManyWinners = errors.New("raffle: more winners than requested")
	// ErrSnapshotMismatch rejects a request whose digest differs from the
	// snapshot the ledger computes.
	ErrSnapshotMismatch = errors.New("raffle: snapshot digest mismatch")
	// ErrDrawInProgress rejects a request while another draw is outstanding.
	ErrDrawInProgress = errors.New("raffle: another draw is outstanding")
	// ErrEraAlreadyDrawn rejects requests for an era at or before the last
	// completed draw.
	ErrEraAlreadyDrawn = errors.New("raffle: era already drawn")
	// ErrNoEligibleParticipants rejects a request over an empty pool.
	ErrNoEligibleParticipants = errors.New("raffle: no eligible participants")
	// ErrSkipNotAllowed rejects a skipped result while the era has rewards to
	// distribute.
	ErrSkipNotAllowed = errors.New("raffle: draw cannot be skipped while rewards are pending")
	// ErrInvalidPayout rejects payout instructions without a recipient or amount.
	ErrInvalidPayout = errors.New("raffle: invalid payout instruction")
	// ErrWeightOverflow is returned when the pool's total weight exceeds 256 bits.
	ErrWeightOverflow = errors.New("raffle: pool weight overflow")
)

// ParticipantID identifies a staker.
type ParticipantID [20]byte

func (p ParticipantID) String() string {
	return crypto.NewAddress(crypto.ParticipantPrefix, p[:]).String()
}

// SnapshotRef names the pool a draw runs over.
type SnapshotRef struct {
	Era    uint32
	Digest [32]byte
}

func (r SnapshotRef) String() string {
	return fmt.Sprintf("era %d (%x)", r.Era, r.Digest[:4])
}

// StakeEntry is one row of the staking snapshot.
type StakeEntry struct {
	Participant ParticipantID
	Stake       *uint256.Int
}

// WeightedParticipant is an eligible pool member.
type WeightedParticipant struct {
	Participant ParticipantID
	Stake       *uint256.Int
	Weight      *uint256.Int
}

// AdapterError wraps failures returned by a collaborator.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("raffle: %s adapter: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func copyAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
