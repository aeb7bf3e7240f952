package raffle

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"raffleanchor/crypto"
)

const drawProofDomain = "RAFFLE_DRAW_V1"

// ProofVerifier checks a result's randomness proof and returns the seed the
// winners must have been selected from. Deployments pick one scheme.
type ProofVerifier interface {
	Scheme() string
	Seed(result DrawResult) ([32]byte, error)
}

// AttestorView is satisfied by the attestor registry.
type AttestorView interface {
	IsAttestor(addr [20]byte) (bool, error)
}

// AttestedSeedVerifier accepts a seed signed by a registered attestor. The
// proof is seed(32) || signature(65) over DrawProofDigest.
type AttestedSeedVerifier struct {
	Attestors AttestorView
}

func (AttestedSeedVerifier) Scheme() string { return "attested" }

func (v AttestedSeedVerifier) Seed(result DrawResult) ([32]byte, error) {
	var seed [32]byte
	proof := result.RandomnessProof
	if len(proof) != 32+ethcrypto.SignatureLength {
		return seed, fmt.Errorf("%w: attested proof must be %d bytes", ErrProofMismatch, 32+ethcrypto.SignatureLength)
	}
	copy(seed[:], proof[:32])
	digest := DrawProofDigest(result.Ref, seed, result.Skipped, result.Winners)
	signer, err := crypto.RecoverAddress(digest, proof[32:])
	if err != nil {
		return seed, fmt.Errorf("%w: %v", ErrProofMismatch, err)
	}
	if v.Attestors == nil {
		return seed, fmt.Errorf("%w: no attestor registry", ErrProofMismatch)
	}
	ok, err := v.Attestors.IsAttestor(signer)
	if err != nil {
		return seed, err
	}
	if !ok {
		return seed, fmt.Errorf("%w: seed signed by unknown attestor %x", ErrProofMismatch, signer)
	}
	return seed, nil
}

// DrawProofDigest binds the seed to the draw and its claimed outcome.
func DrawProofDigest(ref SnapshotRef, seed [32]byte, skipped bool, winners []ParticipantID) []byte {
	buf := make([]byte, 0, 4+32+32+1+20*len(winners))
	buf = binary.BigEndian.AppendUint32(buf, ref.Era)
	buf = append(buf, ref.Digest[:]...)
	buf = append(buf, seed[:]...)
	if skipped {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, w := range winners {
		buf = append(buf, w[:]...)
	}
	return ethcrypto.Keccak256([]byte(drawProofDomain), buf)
}

// ProveAttestedSeed produces the proof AttestedSeedVerifier accepts.
func ProveAttestedSeed(key *crypto.PrivateKey, ref SnapshotRef, seed [32]byte, skipped bool, winners []ParticipantID) ([]byte, error) {
	sig, err := key.Sign(DrawProofDigest(ref, seed, skipped, winners))
	if err != nil {
		return nil, err
	}
	proof := make([]byte, 0, 32+len(sig))
	proof = append(proof, seed[:]...)
	return append(proof, sig...), nil
}
