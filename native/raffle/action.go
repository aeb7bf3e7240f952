package raffle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// CodecVersion prefixes every encoded action.
const CodecVersion byte = 0x01

// ActionKind tags the variant carried by a payload.
type ActionKind uint8

const (
	KindDrawRequest ActionKind = iota + 1
	KindDrawResult
	KindPayoutInstruction
)

func (k ActionKind) String() string {
	switch k {
	case KindDrawRequest:
		return "draw_request"
	case KindDrawResult:
		return "draw_result"
	case KindPayoutInstruction:
		return "payout_instruction"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Action is the closed set of messages exchanged with the worker. Only the
// types in this package implement it.
type Action interface {
	Kind() ActionKind
	isAction()
}

// DrawRequest asks the worker for randomness over a pool. Outbound requests
// carry the pool; inbound ones acknowledge or trigger a draw and may leave the
// digest zero to accept whatever the ledger computes.
type DrawRequest struct {
	Ref       SnapshotRef
	NbWinners uint16
	Pool      []WeightedParticipant
}

// DrawResult reports the winners of a draw with the proof of the randomness
// they were selected from.
type DrawResult struct {
	Ref             SnapshotRef
	Skipped         bool
	Winners         []ParticipantID
	RandomnessProof []byte
}

// PayoutInstruction credits a participant directly.
type PayoutInstruction struct {
	Participant ParticipantID
	Amount      *uint256.Int
}

func (DrawRequest) Kind() ActionKind       { return KindDrawRequest }
func (DrawResult) Kind() ActionKind        { return KindDrawResult }
func (PayoutInstruction) Kind() ActionKind { return KindPayoutInstruction }

func (DrawRequest) isAction()       {}
func (DrawResult) isAction()        {}
func (PayoutInstruction) isAction() {}

type wirePoolEntry struct {
	Participant ParticipantID
	Stake       *uint256.Int
	Weight      *uint256.Int
}

type wireDrawRequest struct {
	Era       uint32
	Digest    [32]byte
	NbWinners uint16
	Pool      []wirePoolEntry
}

type wireDrawResult struct {
	Era     uint32
	Digest  [32]byte
	Skipped bool
	Winners []ParticipantID
	Proof   []byte
}

type wirePayout struct {
	Participant ParticipantID
	Amount      *uint256.Int
}

// EncodeAction renders a as version || kind || rlp(body).
func EncodeAction(a Action) ([]byte, error) {
	var body interface{}
	switch act := a.(type) {
	case DrawRequest:
		pool := make([]wirePoolEntry, len(act.Pool))
		for i, p := range act.Pool {
			pool[i] = wirePoolEntry{Participant: p.Participant, Stake: copyAmount(p.Stake), Weight: copyAmount(p.Weight)}
		}
		body = wireDrawRequest{Era: act.Ref.Era, Digest: act.Ref.Digest, NbWinners: act.NbWinners, Pool: pool}
	case DrawResult:
		winners := append([]ParticipantID{}, act.Winners...)
		body = wireDrawResult{Era: act.Ref.Era, Digest: act.Ref.Digest, Skipped: act.Skipped, Winners: winners, Proof: act.RandomnessProof}
	case PayoutInstruction:
		body = wirePayout{Participant: act.Participant, Amount: copyAmount(act.Amount)}
	case nil:
		return nil, fmt.Errorf("raffle: encode nil action")
	default:
		return nil, fmt.Errorf("raffle: encode unsupported action %T", a)
	}
	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, fmt.Errorf("raffle: encode %s: %w", a.Kind(), err)
	}
	out := make([]byte, 0, len(encoded)+2)
	out = append(out, CodecVersion, byte(a.Kind()))
	return append(out, encoded...), nil
}

// DecodeAction parses a payload produced by EncodeAction. Every failure wraps
// ErrMalformedPayload.
func DecodeAction(payload []byte) (Action, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: payload too short (%d bytes)", ErrMalformedPayload, len(payload))
	}
	if payload[0] != CodecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, payload[0])
	}
	kind, body := ActionKind(payload[1]), payload[2:]
	switch kind {
	case KindDrawRequest:
		var w wireDrawRequest
		if err := rlp.DecodeBytes(body, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
		}
		pool := make([]WeightedParticipant, len(w.Pool))
		for i, p := range w.Pool {
			pool[i] = WeightedParticipant{Participant: p.Participant, Stake: copyAmount(p.Stake), Weight: copyAmount(p.Weight)}
		}
		return DrawRequest{Ref: SnapshotRef{Era: w.Era, Digest: w.Digest}, NbWinners: w.NbWinners, Pool: pool}, nil
	case KindDrawResult:
		var w wireDrawResult
		if err := rlp.DecodeBytes(body, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
		}
		return DrawResult{Ref: SnapshotRef{Era: w.Era, Digest: w.Digest}, Skipped: w.Skipped, Winners: w.Winners, RandomnessProof: w.Proof}, nil
	case KindPayoutInstruction:
		var w wirePayout
		if err := rlp.DecodeBytes(body, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, kind, err)
		}
		return PayoutInstruction{Participant: w.Participant, Amount: copyAmount(w.Amount)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedPayload, uint8(kind))
	}
}

// MustEncode is EncodeAction for tests and fixtures.
func MustEncode(a Action) []byte {
	out, err := EncodeAction(a)
	if err != nil {
		panic(err)
	}
	return out
}
