package anchor

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"raffleanchor/crypto"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
)

// EncodeBatch renders a signed batch for submission.
func EncodeBatch(submitter [20]byte, batch rollup.InboundBatch) SubmitBatchRequest {
	req := SubmitBatchRequest{
		Submitter: crypto.NewAddress(crypto.AttestorPrefix, submitter[:]).String(),
		Responses: make([]ResponseJSON, len(batch.Responses)),
		Signature: append([]byte(nil), batch.Signature...),
	}
	for i, resp := range batch.Responses {
		req.Responses[i] = ResponseJSON{Index: resp.Index, Payload: append([]byte(nil), resp.Payload...)}
	}
	return req
}

// DecodeBatch parses a submission body.
func DecodeBatch(req SubmitBatchRequest) ([20]byte, rollup.InboundBatch, error) {
	var batch rollup.InboundBatch
	addr, err := crypto.ParseAddress(req.Submitter, crypto.AttestorPrefix)
	if err != nil {
		return [20]byte{}, batch, fmt.Errorf("submitter: %w", err)
	}
	batch.Responses = make([]rollup.Response, len(req.Responses))
	for i, resp := range req.Responses {
		batch.Responses[i] = rollup.Response{Index: resp.Index, Payload: resp.Payload}
	}
	batch.Signature = req.Signature
	return addr.Raw(), batch, nil
}

func participantString(p raffle.ParticipantID) string {
	return crypto.NewAddress(crypto.ParticipantPrefix, p[:]).String()
}

// ParseParticipant accepts bech32 or 0x hex.
func ParseParticipant(value string) (raffle.ParticipantID, error) {
	addr, err := crypto.ParseAddress(value, crypto.ParticipantPrefix)
	if err != nil {
		return raffle.ParticipantID{}, err
	}
	return raffle.ParticipantID(addr.Raw()), nil
}

// ParseAmount parses a non-negative decimal amount.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// NewReceiptJSON renders a committed batch.
func NewReceiptJSON(applied, acknowledged int, first, last, next uint64, outbound []uint64, payouts []raffle.PayoutInstruction) ReceiptJSON {
	out := ReceiptJSON{
		Applied:      applied,
		First:        first,
		Last:         last,
		NextIndex:    next,
		Acknowledged: acknowledged,
		Outbound:     append([]uint64{}, outbound...),
		Payouts:      make([]PayoutJSON, len(payouts)),
	}
	for i, p := range payouts {
		out.Payouts[i] = PayoutJSON{Participant: participantString(p.Participant), Amount: amountString(p.Amount)}
	}
	return out
}

// NewRaffleStatusJSON renders the engine status.
func NewRaffleStatusJSON(status raffle.Status, scheme string) RaffleStatusJSON {
	out := RaffleStatusJSON{
		HasDrawn:    status.HasDrawn,
		LastEra:     status.LastEra,
		LastWinners: make([]string, len(status.LastWinners)),
		NextEra:     status.NextEra,
		ProofScheme: scheme,
	}
	for i, w := range status.LastWinners {
		out.LastWinners[i] = participantString(w)
	}
	if p := status.Pending; p != nil {
		pending := &PendingDrawJSON{
			RequestIndex: p.RequestIndex,
			Era:          p.Ref.Era,
			Digest:       append([]byte(nil), p.Ref.Digest[:]...),
			NbWinners:    p.NbWinners,
			Pool:         make([]PoolEntryJSON, len(p.Pool)),
		}
		for i, entry := range p.Pool {
			pending.Pool[i] = PoolEntryJSON{
				Participant: participantString(entry.Participant),
				Stake:       amountString(entry.Stake),
				Weight:      amountString(entry.Weight),
			}
		}
		out.Pending = pending
	}
	return out
}

// PendingDraw converts the wire form back into the engine's view of the draw.
func (p *PendingDrawJSON) PendingDraw() (*raffle.PendingDraw, error) {
	if p == nil {
		return nil, nil
	}
	if len(p.Digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(p.Digest))
	}
	draw := &raffle.PendingDraw{
		RequestIndex: p.RequestIndex,
		Ref:          raffle.SnapshotRef{Era: p.Era},
		NbWinners:    p.NbWinners,
		Pool:         make([]raffle.WeightedParticipant, len(p.Pool)),
	}
	copy(draw.Ref.Digest[:], p.Digest)
	for i, entry := range p.Pool {
		participant, err := ParseParticipant(entry.Participant)
		if err != nil {
			return nil, fmt.Errorf("pool entry %d: %w", i, err)
		}
		stake, err := ParseAmount(entry.Stake)
		if err != nil {
			return nil, fmt.Errorf("pool entry %d stake: %w", i, err)
		}
		weight, err := ParseAmount(entry.Weight)
		if err != nil {
			return nil, fmt.Errorf("pool entry %d weight: %w", i, err)
		}
		draw.Pool[i] = raffle.WeightedParticipant{Participant: participant, Stake: stake, Weight: weight}
	}
	return draw, nil
}

// NewEraDataJSON renders oracle data for an era.
func NewEraDataJSON(era uint32, participants []ParticipantJSON, rewards *uint256.Int) EraDataJSON {
	if participants == nil {
		participants = []ParticipantJSON{}
	}
	return EraDataJSON{Era: era, Participants: participants, Rewards: amountString(rewards)}
}

// NewParticipantJSON renders one staker.
func NewParticipantJSON(account raffle.ParticipantID, stake *uint256.Int) ParticipantJSON {
	return ParticipantJSON{Account: participantString(account), Stake: amountString(stake)}
}
