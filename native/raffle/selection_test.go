package raffle

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func equalPool(ids ...byte) []WeightedParticipant {
	pool := make([]WeightedParticipant, len(ids))
	for i, id := range ids {
		pool[i] = WeightedParticipant{Participant: participant(id), Stake: uint256.NewInt(10), Weight: uint256.NewInt(10)}
	}
	return pool
}

func TestSelectIsDeterministicAndDistinct(t *testing.T) {
	pool := equalPool(1, 2, 3, 4, 5)
	seed := [32]byte{0x42}
	first, err := Select(pool, seed, 3)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	second, _ := Select(pool, seed, 3)
	if !sameWinners(first, second) {
		t.Fatalf("selection must be deterministic: %v vs %v", first, second)
	}
	seen := map[ParticipantID]bool{}
	for _, w := range first {
		if seen[w] {
			t.Fatalf("winner %s drawn twice", w)
		}
		seen[w] = true
	}
	if len(pool) != 5 || pool[0].Participant != participant(1) {
		t.Fatalf("select must not reorder the caller's pool")
	}
}

func TestSelectCapsAtPoolSize(t *testing.T) {
	winners, err := Select(equalPool(1, 2), [32]byte{1}, 5)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(winners) != 2 {
		t.Fatalf("expected every member to win, got %d", len(winners))
	}
	none, err := Select(nil, [32]byte{1}, 3)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty pool should yield no winners, got %v %v", none, err)
	}
}

func TestSelectFollowsWeights(t *testing.T) {
	pool := []WeightedParticipant{
		{Participant: participant(1), Stake: uint256.NewInt(1), Weight: uint256.NewInt(1)},
		{Participant: participant(2), Stake: uint256.NewInt(999), Weight: uint256.NewInt(999)},
	}
	heavy := 0
	for i := 0; i < 200; i++ {
		seed := [32]byte{byte(i), byte(i >> 8)}
		winners, err := Select(pool, seed, 1)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if winners[0] == participant(2) {
			heavy++
		}
	}
	if heavy < 190 {
		t.Fatalf("heavily weighted participant won only %d/200 draws", heavy)
	}
}

func TestBuildPoolAppliesPolicy(t *testing.T) {
	entries := []StakeEntry{
		{Participant: participant(3), Stake: uint256.NewInt(400)},
		{Participant: participant(1), Stake: uint256.NewInt(50)},
		{Participant: participant(2), Stake: uint256.NewInt(5)},
		{Participant: participant(1), Stake: uint256.NewInt(50)},
		{Participant: participant(4), Stake: uint256.NewInt(900)},
	}
	policy := WeightPolicy{Mode: WeightSqrt, MinStake: uint256.NewInt(10), MaxWeight: uint256.NewInt(20)}
	excluded := map[ParticipantID]struct{}{participant(4): {}}
	pool, err := BuildPool(entries, policy, excluded)
	if err != nil {
		t.Fatalf("build pool: %v", err)
	}
	if len(pool) != 2 {
		t.Fatalf("expected 2 eligible participants, got %d", len(pool))
	}
	if pool[0].Participant != participant(1) || pool[0].Stake.Uint64() != 100 || pool[0].Weight.Uint64() != 10 {
		t.Fatalf("duplicate rows should aggregate before weighting: %+v", pool[0])
	}
	if pool[1].Participant != participant(3) || pool[1].Weight.Uint64() != 20 {
		t.Fatalf("weight cap not applied: %+v", pool[1])
	}
	if !PoolContains(pool, participant(3)) || PoolContains(pool, participant(2)) {
		t.Fatalf("pool membership incorrect")
	}

	digest := SnapshotDigest(1, pool)
	if digest == SnapshotDigest(2, pool) {
		t.Fatalf("digest must commit to the era")
	}
	if digest != SnapshotDigest(1, append([]WeightedParticipant{}, pool...)) {
		t.Fatalf("digest must be stable")
	}
}

func TestBuildPoolOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	entries := []StakeEntry{
		{Participant: participant(1), Stake: max},
		{Participant: participant(2), Stake: uint256.NewInt(1)},
	}
	if _, err := BuildPool(entries, WeightPolicy{}, nil); !errors.Is(err, ErrWeightOverflow) {
		t.Fatalf("expected ErrWeightOverflow, got %v", err)
	}
}
