package rewards

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"raffleanchor/core/state"
	"raffleanchor/native/raffle"
)

var ErrZeroRecipient = errors.New("rewards: recipient required")

type storedAmount struct {
	Amount *uint256.Int
}

// Ledger accrues raffle winnings per participant. It implements
// raffle.RewardLedger and writes through the shared state journal, so credits
// only persist when the surrounding batch commits.
type Ledger struct {
	state *state.Manager
}

func NewLedger(st *state.Manager) *Ledger {
	return &Ledger{state: st}
}

// Payout credits amount to participant. Zero credits are accepted and leave
// balances unchanged.
func (l *Ledger) Payout(participant raffle.ParticipantID, amount *uint256.Int) error {
	if participant == (raffle.ParticipantID{}) {
		return ErrZeroRecipient
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := l.Balance(participant)
	if err != nil {
		return err
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return fmt.Errorf("rewards: balance overflow for %s", participant)
	}
	total, err := l.TotalDistributed()
	if err != nil {
		return err
	}
	if _, overflow := total.AddOverflow(total, amount); overflow {
		return fmt.Errorf("rewards: total distributed overflow")
	}
	if err := l.state.KVPut(state.RewardsBalanceKey(participant[:]), storedAmount{Amount: balance}); err != nil {
		return err
	}
	return l.state.KVPut(state.RewardsTotalKey(), storedAmount{Amount: total})
}

// Balance returns the accrued winnings of participant.
func (l *Ledger) Balance(participant raffle.ParticipantID) (*uint256.Int, error) {
	return l.load(state.RewardsBalanceKey(participant[:]))
}

// TotalDistributed returns the sum of every credit.
func (l *Ledger) TotalDistributed() (*uint256.Int, error) {
	return l.load(state.RewardsTotalKey())
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	var stored storedAmount
	found, err := l.state.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !found || stored.Amount == nil {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(stored.Amount), nil
}
