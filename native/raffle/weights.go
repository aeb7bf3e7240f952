package raffle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"
)

const snapshotDomain = "RAFFLE_SNAPSHOT_V1"

// WeightMode selects how stake converts into draw weight.
type WeightMode uint8

const (
	// WeightLinear draws proportionally to stake.
	WeightLinear WeightMode = iota
	// WeightSqrt draws proportionally to the square root of stake, flattening
	// the advantage of large stakers.
	WeightSqrt
)

func (m WeightMode) String() string {
	switch m {
	case WeightLinear:
		return "linear"
	case WeightSqrt:
		return "sqrt"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseWeightMode accepts the names produced by String.
func ParseWeightMode(value string) (WeightMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "linear":
		return WeightLinear, nil
	case "sqrt":
		return WeightSqrt, nil
	default:
		return 0, fmt.Errorf("raffle: unknown weight mode %q", value)
	}
}

// WeightPolicy turns a staking snapshot into the eligible pool.
type WeightPolicy struct {
	Mode WeightMode
	// MinStake excludes participants staking less.
	MinStake *uint256.Int
	// MaxWeight caps a single participant's weight. Nil disables the cap.
	MaxWeight *uint256.Int
}

// Weigh returns the weight for stake, zero meaning ineligible.
func (p WeightPolicy) Weigh(stake *uint256.Int) *uint256.Int {
	if stake == nil || stake.IsZero() {
		return new(uint256.Int)
	}
	if p.MinStake != nil && stake.Lt(p.MinStake) {
		return new(uint256.Int)
	}
	weight := new(uint256.Int).Set(stake)
	if p.Mode == WeightSqrt {
		weight.Sqrt(stake)
	}
	if p.MaxWeight != nil && !p.MaxWeight.IsZero() && weight.Gt(p.MaxWeight) {
		weight.Set(p.MaxWeight)
	}
	return weight
}

// BuildPool aggregates duplicate snapshot rows, drops excluded and zero-weight
// participants and orders the result by participant bytes.
func BuildPool(entries []StakeEntry, policy WeightPolicy, excluded map[ParticipantID]struct{}) ([]WeightedParticipant, error) {
	stakes := make(map[ParticipantID]*uint256.Int, len(entries))
	for _, entry := range entries {
		if entry.Stake == nil {
			continue
		}
		total, ok := stakes[entry.Participant]
		if !ok {
			stakes[entry.Participant] = new(uint256.Int).Set(entry.Stake)
			continue
		}
		if _, overflow := total.AddOverflow(total, entry.Stake); overflow {
			return nil, fmt.Errorf("%w: stake of %s", ErrWeightOverflow, entry.Participant)
		}
	}

	pool := make([]WeightedParticipant, 0, len(stakes))
	for id, stake := range stakes {
		if _, skip := excluded[id]; skip {
			continue
		}
		weight := policy.Weigh(stake)
		if weight.IsZero() {
			continue
		}
		pool = append(pool, WeightedParticipant{Participant: id, Stake: stake, Weight: weight})
	}
	sort.Slice(pool, func(i, j int) bool {
		return bytes.Compare(pool[i].Participant[:], pool[j].Participant[:]) < 0
	})
	if _, err := TotalWeight(pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// TotalWeight sums the pool weights.
func TotalWeight(pool []WeightedParticipant) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, p := range pool {
		if p.Weight == nil {
			continue
		}
		if _, overflow := total.AddOverflow(total, p.Weight); overflow {
			return nil, ErrWeightOverflow
		}
	}
	return total, nil
}

// SnapshotDigest commits to the era and the ordered pool.
func SnapshotDigest(era uint32, pool []WeightedParticipant) [32]byte {
	var buf bytes.Buffer
	buf.WriteString(snapshotDomain)
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], era)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:], uint32(len(pool)))
	buf.Write(scratch[:])
	for _, p := range pool {
		buf.Write(p.Participant[:])
		stake := copyAmount(p.Stake).Bytes32()
		buf.Write(stake[:])
		weight := copyAmount(p.Weight).Bytes32()
		buf.Write(weight[:])
	}
	return blake3.Sum256(buf.Bytes())
}

// PoolContains reports whether id is a pool member.
func PoolContains(pool []WeightedParticipant, id ParticipantID) bool {
	idx := sort.Search(len(pool), func(i int) bool {
		return bytes.Compare(pool[i].Participant[:], id[:]) >= 0
	})
	return idx < len(pool) && pool[idx].Participant == id
}
