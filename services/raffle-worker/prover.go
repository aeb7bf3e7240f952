package raffleworker

import (
	"crypto/rand"
	"fmt"
	"io"

	"raffleanchor/config"
	"raffleanchor/crypto"
	"raffleanchor/native/raffle"
)

// Prover turns an outstanding draw into a result the node can verify.
type Prover interface {
	Scheme() string
	Answer(draw raffle.PendingDraw, skip bool) (raffle.DrawResult, error)
}

// AttestedProver draws a local seed and signs it with the attestor key.
type AttestedProver struct {
	Key    *crypto.PrivateKey
	Random io.Reader
}

func (p *AttestedProver) Scheme() string { return config.ProofSchemeAttested }

func (p *AttestedProver) Answer(draw raffle.PendingDraw, skip bool) (raffle.DrawResult, error) {
	if p.Key == nil {
		return raffle.DrawResult{}, fmt.Errorf("attested prover has no key")
	}
	random := p.Random
	if random == nil {
		random = rand.Reader
	}
	var seed [32]byte
	if _, err := io.ReadFull(random, seed[:]); err != nil {
		return raffle.DrawResult{}, fmt.Errorf("draw seed: %w", err)
	}
	result := raffle.DrawResult{Ref: draw.Ref, Skipped: skip}
	if !skip {
		winners, err := raffle.Select(draw.Pool, seed, int(draw.NbWinners))
		if err != nil {
			return raffle.DrawResult{}, err
		}
		result.Winners = winners
	}
	proof, err := raffle.ProveAttestedSeed(p.Key, draw.Ref, seed, result.Skipped, result.Winners)
	if err != nil {
		return raffle.DrawResult{}, err
	}
	result.RandomnessProof = proof
	return result, nil
}

// BeaconProver signs the draw reference with the beacon key; the signature is
// both the proof and the seed source.
type BeaconProver struct {
	Key raffle.BeaconKey
}

func (p *BeaconProver) Scheme() string { return config.ProofSchemeBeacon }

func (p *BeaconProver) Answer(draw raffle.PendingDraw, skip bool) (raffle.DrawResult, error) {
	sig, seed, err := p.Key.Prove(draw.Ref)
	if err != nil {
		return raffle.DrawResult{}, fmt.Errorf("beacon sign: %w", err)
	}
	result := raffle.DrawResult{Ref: draw.Ref, Skipped: skip, RandomnessProof: sig}
	if !skip {
		winners, err := raffle.Select(draw.Pool, seed, int(draw.NbWinners))
		if err != nil {
			return raffle.DrawResult{}, err
		}
		result.Winners = winners
	}
	return result, nil
}

// NewProver builds the prover for cfg.
func NewProver(cfg ProofConfig, key *crypto.PrivateKey) (Prover, error) {
	switch cfg.Scheme {
	case "", config.ProofSchemeAttested:
		return &AttestedProver{Key: key}, nil
	case config.ProofSchemeBeacon:
		beacon, err := raffle.ParseBeaconSecret(cfg.BeaconSecret)
		if err != nil {
			return nil, err
		}
		return &BeaconProver{Key: beacon}, nil
	default:
		return nil, fmt.Errorf("unknown proof scheme %q", cfg.Scheme)
	}
}
