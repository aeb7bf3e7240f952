package rollup

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"raffleanchor/crypto"
)

// BatchDomainV1 separates batch signatures from any other message the
// attestor key may sign.
const BatchDomainV1 = "RAFFLE_ANCHOR_BATCH_V1"

// Response is one worker message addressed to the inbound queue.
type Response struct {
	Index   uint64
	Payload []byte
}

// InboundBatch is the unit of submission. Either every response applies or
// none does.
type InboundBatch struct {
	Responses []Response
	Signature []byte
}

// Len returns the number of responses.
func (b InboundBatch) Len() int { return len(b.Responses) }

// Indices lists the response indices in submission order.
func (b InboundBatch) Indices() []uint64 {
	out := make([]uint64, len(b.Responses))
	for i, resp := range b.Responses {
		out[i] = resp.Index
	}
	return out
}

// SigningDigest is keccak256(domain || rlp(responses)).
func (b InboundBatch) SigningDigest() ([]byte, error) {
	return ResponsesDigest(b.Responses)
}

// ResponsesDigest computes the digest an attestor signs for responses.
func ResponsesDigest(responses []Response) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(responses)
	if err != nil {
		return nil, fmt.Errorf("rollup: encode responses: %w", err)
	}
	return ethcrypto.Keccak256([]byte(BatchDomainV1), encoded), nil
}

// SignBatch builds an attested batch over responses.
func SignBatch(key *crypto.PrivateKey, responses []Response) (InboundBatch, error) {
	digest, err := ResponsesDigest(responses)
	if err != nil {
		return InboundBatch{}, err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return InboundBatch{}, fmt.Errorf("rollup: sign batch: %w", err)
	}
	return InboundBatch{Responses: responses, Signature: sig}, nil
}
