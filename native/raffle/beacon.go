package raffle

import (
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"lukechampine.com/blake3"
)

const beaconDomain = "RAFFLE_BEACON_V1"

var beaconSuite = bn256.NewSuite()

// BeaconVerifier accepts a BLS signature by the beacon key over the draw
// reference. BLS signatures are unique, so the seed derived from one cannot be
// ground by the submitter.
type BeaconVerifier struct {
	Public kyber.Point
}

// NewBeaconVerifier parses a hex encoded G2 public key.
func NewBeaconVerifier(publicHex string) (*BeaconVerifier, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(publicHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("raffle: decode beacon key: %w", err)
	}
	point := beaconSuite.G2().Point()
	if err := point.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("raffle: parse beacon key: %w", err)
	}
	return &BeaconVerifier{Public: point}, nil
}

func (*BeaconVerifier) Scheme() string { return "beacon" }

func (v *BeaconVerifier) Seed(result DrawResult) ([32]byte, error) {
	var seed [32]byte
	if v == nil || v.Public == nil {
		return seed, fmt.Errorf("%w: beacon key not configured", ErrProofMismatch)
	}
	if err := bls.Verify(beaconSuite, v.Public, BeaconMessage(result.Ref), result.RandomnessProof); err != nil {
		return seed, fmt.Errorf("%w: %v", ErrProofMismatch, err)
	}
	return BeaconSeed(result.RandomnessProof), nil
}

// BeaconMessage is the byte string the beacon signs for ref.
func BeaconMessage(ref SnapshotRef) []byte {
	msg := make([]byte, 0, len(beaconDomain)+4+32)
	msg = append(msg, beaconDomain...)
	msg = binary.BigEndian.AppendUint32(msg, ref.Era)
	return append(msg, ref.Digest[:]...)
}

// BeaconSeed derives the selection seed from a beacon signature.
func BeaconSeed(sig []byte) [32]byte {
	return blake3.Sum256(sig)
}

// BeaconKey is the signing side of the beacon scheme.
type BeaconKey struct {
	Secret kyber.Scalar
	Public kyber.Point
}

// NewBeaconKey draws a fresh key pair from random, or from the suite's
// randomness when random is nil.
func NewBeaconKey(random cipher.Stream) BeaconKey {
	if random == nil {
		random = beaconSuite.RandomStream()
	}
	secret, public := bls.NewKeyPair(beaconSuite, random)
	return BeaconKey{Secret: secret, Public: public}
}

// ParseBeaconSecret decodes a hex encoded scalar.
func ParseBeaconSecret(secretHex string) (BeaconKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(secretHex), "0x"))
	if err != nil {
		return BeaconKey{}, fmt.Errorf("raffle: decode beacon secret: %w", err)
	}
	secret := beaconSuite.G2().Scalar()
	if err := secret.UnmarshalBinary(raw); err != nil {
		return BeaconKey{}, fmt.Errorf("raffle: parse beacon secret: %w", err)
	}
	public := beaconSuite.G2().Point().Mul(secret, nil)
	return BeaconKey{Secret: secret, Public: public}, nil
}

// PublicHex renders the public key for node configuration.
func (k BeaconKey) PublicHex() (string, error) {
	raw, err := k.Public.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// SecretHex renders the secret scalar.
func (k BeaconKey) SecretHex() (string, error) {
	raw, err := k.Secret.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Prove signs the beacon message for ref and returns the proof and the seed
// it yields.
func (k BeaconKey) Prove(ref SnapshotRef) ([]byte, [32]byte, error) {
	sig, err := bls.Sign(beaconSuite, k.Secret, BeaconMessage(ref))
	if err != nil {
		return nil, [32]byte{}, err
	}
	return sig, BeaconSeed(sig), nil
}
