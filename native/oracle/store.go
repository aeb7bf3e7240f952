package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"raffleanchor/core/state"
	"raffleanchor/native/raffle"
)

// RoleDataManager may publish stakes and reward budgets.
const RoleDataManager = "ORACLE_DATA_MANAGER"

var (
	ErrUnauthorized    = errors.New("oracle: caller lacks the data manager role")
	ErrZeroStake       = errors.New("oracle: stake must be positive")
	ErrZeroParticipant = errors.New("oracle: participant address required")
)

// Participant is a staker row submitted by a data manager.
type Participant struct {
	Account raffle.ParticipantID
	Stake   *uint256.Int
}

// EraData is everything recorded for one era.
type EraData struct {
	Era          uint32
	Participants []raffle.StakeEntry
	Rewards      *uint256.Int
}

type storedStake struct {
	Stake *uint256.Int
}

type storedRewards struct {
	Amount *uint256.Int
}

// Store holds per-era stakes and reward budgets. It backs the raffle's staking
// and budget views.
type Store struct {
	state *state.Manager
}

func NewStore(st *state.Manager) *Store {
	return &Store{state: st}
}

// GrantDataManager gives addr the data manager role.
func (s *Store) GrantDataManager(addr [20]byte) error {
	return s.state.SetRole(RoleDataManager, addr[:])
}

// RevokeDataManager removes the data manager role from addr.
func (s *Store) RevokeDataManager(addr [20]byte) error {
	return s.state.RemoveRole(RoleDataManager, addr[:])
}

// DataManagers lists the current role holders.
func (s *Store) DataManagers() ([][20]byte, error) {
	members, err := s.state.RoleMembers(RoleDataManager)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(members))
	for _, m := range members {
		if len(m) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], m)
		out = append(out, addr)
	}
	return out, nil
}

func (s *Store) authorize(caller [20]byte) error {
	ok, err := s.state.HasRole(RoleDataManager, caller[:])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrUnauthorized, caller)
	}
	return nil
}

// AddParticipant records stake for account in era. Repeated rows for the same
// account accumulate.
func (s *Store) AddParticipant(caller [20]byte, era uint32, account raffle.ParticipantID, stake *uint256.Int) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	return s.addParticipant(era, account, stake)
}

// AddParticipants records a batch of rows; the batch is rejected as a whole on
// the first invalid row.
func (s *Store) AddParticipants(caller [20]byte, era uint32, rows []Participant) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	for _, row := range rows {
		if err := validateRow(row.Account, row.Stake); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := s.addParticipant(era, row.Account, row.Stake); err != nil {
			return err
		}
	}
	return nil
}

func validateRow(account raffle.ParticipantID, stake *uint256.Int) error {
	if account == (raffle.ParticipantID{}) {
		return ErrZeroParticipant
	}
	if stake == nil || stake.IsZero() {
		return ErrZeroStake
	}
	return nil
}

func (s *Store) addParticipant(era uint32, account raffle.ParticipantID, stake *uint256.Int) error {
	if err := validateRow(account, stake); err != nil {
		return err
	}
	key := state.OracleParticipantKey(era, account[:])
	var existing storedStake
	found, err := s.state.KVGet(key, &existing)
	if err != nil {
		return err
	}
	total := new(uint256.Int).Set(stake)
	if found && existing.Stake != nil {
		if _, overflow := total.AddOverflow(total, existing.Stake); overflow {
			return fmt.Errorf("oracle: stake overflow for %s", account)
		}
	}
	return s.state.KVPut(key, storedStake{Stake: total})
}

// SetRewards sets the reward budget for era.
func (s *Store) SetRewards(caller [20]byte, era uint32, amount *uint256.Int) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	return s.state.KVPut(state.OracleRewardsKey(era), storedRewards{Amount: new(uint256.Int).Set(amount)})
}

// ClearEra removes every participant and the reward budget of era.
func (s *Store) ClearEra(caller [20]byte, era uint32) error {
	if err := s.authorize(caller); err != nil {
		return err
	}
	var keys [][]byte
	err := s.state.KVIterate(state.OracleParticipantPrefix(era), func(key, _ []byte) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.state.KVDelete(key); err != nil {
			return err
		}
	}
	return s.state.KVDelete(state.OracleRewardsKey(era))
}

// Data returns everything recorded for era.
func (s *Store) Data(era uint32) (EraData, error) {
	entries, err := s.EligibleSnapshot(era)
	if err != nil {
		return EraData{}, err
	}
	rewards, err := s.RewardBudget(era)
	if err != nil {
		return EraData{}, err
	}
	return EraData{Era: era, Participants: entries, Rewards: rewards}, nil
}

// EligibleSnapshot implements raffle.StakingView. Rows are ordered by account.
func (s *Store) EligibleSnapshot(era uint32) ([]raffle.StakeEntry, error) {
	prefix := state.OracleParticipantPrefix(era)
	entries := make([]raffle.StakeEntry, 0)
	err := s.state.KVIterate(prefix, func(key, value []byte) (bool, error) {
		raw := key[len(prefix):]
		if len(raw) != 20 {
			return false, fmt.Errorf("oracle: malformed participant key %x", key)
		}
		var stored storedStake
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return false, fmt.Errorf("oracle: decode participant %x: %w", raw, err)
		}
		var id raffle.ParticipantID
		copy(id[:], raw)
		entries = append(entries, raffle.StakeEntry{Participant: id, Stake: stored.Stake})
		return true, nil
	})
	return entries, err
}

// RewardBudget implements raffle.BudgetView. Eras without a budget report zero.
func (s *Store) RewardBudget(era uint32) (*uint256.Int, error) {
	var stored storedRewards
	found, err := s.state.KVGet(state.OracleRewardsKey(era), &stored)
	if err != nil {
		return nil, err
	}
	if !found || stored.Amount == nil {
		return new(uint256.Int), nil
	}
	return stored.Amount, nil
}
