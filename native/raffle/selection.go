package raffle

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"lukechampine.com/blake3"
)

const selectionDomain = "RAFFLE_SELECT_V1"

// Select draws up to n distinct winners from pool, weighting each draw by the
// remaining members' weights. The result depends only on pool order, weights
// and seed, so anyone holding the seed can recompute it.
func Select(pool []WeightedParticipant, seed [32]byte, n int) ([]ParticipantID, error) {
	remaining := make([]WeightedParticipant, 0, len(pool))
	for _, p := range pool {
		if p.Weight != nil && !p.Weight.IsZero() {
			remaining = append(remaining, p)
		}
	}
	total, err := TotalWeight(remaining)
	if err != nil {
		return nil, err
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	winners := make([]ParticipantID, 0, n)
	for round := uint32(0); len(winners) < n; round++ {
		target := drawPoint(seed, round, total)
		acc := new(uint256.Int)
		pick := len(remaining) - 1
		for i, p := range remaining {
			acc.Add(acc, p.Weight)
			if acc.Gt(target) {
				pick = i
				break
			}
		}
		chosen := remaining[pick]
		winners = append(winners, chosen.Participant)
		total.Sub(total, chosen.Weight)
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return winners, nil
}

// drawPoint maps the seed and round to [0, total).
func drawPoint(seed [32]byte, round uint32, total *uint256.Int) *uint256.Int {
	buf := make([]byte, 0, len(selectionDomain)+len(seed)+4)
	buf = append(buf, selectionDomain...)
	buf = append(buf, seed[:]...)
	buf = binary.BigEndian.AppendUint32(buf, round)
	sum := blake3.Sum256(buf)
	point := new(uint256.Int).SetBytes32(sum[:])
	return point.Mod(point, total)
}
