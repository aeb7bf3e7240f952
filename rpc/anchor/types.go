// Package anchor holds the JSON wire types of the anchor node HTTP API and a
// client for it.
package anchor

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ResponseJSON is one inbound message.
type ResponseJSON struct {
	Index   uint64        `json:"index"`
	Payload hexutil.Bytes `json:"payload"`
}

// SubmitBatchRequest carries an attested inbound batch. Submitter accepts
// bech32 or 0x hex.
type SubmitBatchRequest struct {
	Submitter string         `json:"submitter"`
	Responses []ResponseJSON `json:"responses"`
	Signature hexutil.Bytes  `json:"signature"`
}

type PayoutJSON struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

// ReceiptJSON reports a committed batch.
type ReceiptJSON struct {
	Applied      int          `json:"applied"`
	First        uint64       `json:"first"`
	Last         uint64       `json:"last"`
	NextIndex    uint64       `json:"nextIndex"`
	Acknowledged int          `json:"acknowledged"`
	Outbound     []uint64     `json:"outbound"`
	Payouts      []PayoutJSON `json:"payouts"`
}

// ErrorJSON is the body of every non-2xx response.
type ErrorJSON struct {
	Class   string  `json:"class,omitempty"`
	Index   *uint64 `json:"index,omitempty"`
	Message string  `json:"message"`
}

type MessageJSON struct {
	Index   uint64        `json:"index"`
	Payload hexutil.Bytes `json:"payload"`
}

// PendingJSON lists the stored messages of a queue.
type PendingJSON struct {
	Queue    string        `json:"queue"`
	Head     uint64        `json:"head"`
	Tail     uint64        `json:"tail"`
	Messages []MessageJSON `json:"messages"`
}

// CursorJSON reports inbound progress. Last is absent before the first batch.
type CursorJSON struct {
	Next  uint64  `json:"next"`
	Last  *uint64 `json:"last,omitempty"`
	State string  `json:"state"`
	Fault string  `json:"fault,omitempty"`
}

type PoolEntryJSON struct {
	Participant string `json:"participant"`
	Stake       string `json:"stake"`
	Weight      string `json:"weight"`
}

type PendingDrawJSON struct {
	RequestIndex uint64          `json:"requestIndex"`
	Era          uint32          `json:"era"`
	Digest       hexutil.Bytes   `json:"digest"`
	NbWinners    uint16          `json:"nbWinners"`
	Pool         []PoolEntryJSON `json:"pool"`
	// Budget is the era's reward budget. A worker may only skip a draw whose
	// budget is zero.
	Budget string `json:"budget"`
}

// RaffleStatusJSON summarises draw progress.
type RaffleStatusJSON struct {
	Pending     *PendingDrawJSON `json:"pending,omitempty"`
	HasDrawn    bool             `json:"hasDrawn"`
	LastEra     uint32           `json:"lastEra"`
	LastWinners []string         `json:"lastWinners"`
	NextEra     uint32           `json:"nextEra"`
	ProofScheme string           `json:"proofScheme"`
}

type AttestorRequest struct {
	Address string `json:"address"`
}

type AttestorsJSON struct {
	Attestors []string `json:"attestors"`
}

type ParticipantJSON struct {
	Account string `json:"account"`
	Stake   string `json:"stake"`
}

// ParticipantsRequest records stakes for an era. The caller is the
// authenticated operator.
type ParticipantsRequest struct {
	Era          uint32            `json:"era"`
	Participants []ParticipantJSON `json:"participants"`
}

type RewardsRequest struct {
	Era    uint32 `json:"era"`
	Amount string `json:"amount"`
}

type EraRequest struct {
	Era uint32 `json:"era"`
}

type EraDataJSON struct {
	Era          uint32            `json:"era"`
	Participants []ParticipantJSON `json:"participants"`
	Rewards      string            `json:"rewards"`
}

// TriggerDrawJSON reports the outbound request opened by a draw trigger.
type TriggerDrawJSON struct {
	Era          uint32   `json:"era"`
	Outbound     []uint64 `json:"outbound"`
	Acknowledged bool     `json:"acknowledged"`
}
