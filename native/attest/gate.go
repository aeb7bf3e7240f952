package attest

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"raffleanchor/native/rollup"
)

// ErrUnauthorized wraps every rejected batch.
var ErrUnauthorized = errors.New("attest: batch not authorized")

// RejectReason captures why a batch failed attestation.
type RejectReason string

const (
	RejectReasonUnknownSubmitter RejectReason = "unknown_submitter"
	RejectReasonInvalidSignature RejectReason = "invalid_signature"
	RejectReasonEmptyBatch       RejectReason = "empty_batch"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Authorized bool
	Reason     RejectReason
	Message    string
}

// Err converts a rejection into an error, or nil when authorized.
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	return &RejectionError{Reason: d.Reason, Message: d.Message}
}

// RejectionError surfaces a deterministic attestation failure.
type RejectionError struct {
	Reason  RejectReason
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", ErrUnauthorized, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrUnauthorized, e.Reason, e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrUnauthorized }

// AttestorView is the read side of the registry.
type AttestorView interface {
	IsAttestor(addr [20]byte) (bool, error)
}

// Gate decides whether a batch may be applied. It never writes state.
type Gate struct {
	attestors AttestorView
}

func NewGate(attestors AttestorView) *Gate {
	return &Gate{attestors: attestors}
}

// Authorize checks membership, the batch signature and non-emptiness. The
// returned error is reserved for registry read failures.
func (g *Gate) Authorize(submitter [20]byte, batch rollup.InboundBatch) (Decision, error) {
	if g == nil || g.attestors == nil {
		return Decision{}, errors.New("attest: gate not configured")
	}
	ok, err := g.attestors.IsAttestor(submitter)
	if err != nil {
		return Decision{}, fmt.Errorf("attest: registry lookup: %w", err)
	}
	if !ok {
		return reject(RejectReasonUnknownSubmitter, "submitter %x is not a registered attestor", submitter), nil
	}
	if batch.Len() == 0 {
		return reject(RejectReasonEmptyBatch, "batch carries no responses"), nil
	}
	if len(batch.Signature) != ethcrypto.SignatureLength {
		return reject(RejectReasonInvalidSignature, "signature must be %d bytes", ethcrypto.SignatureLength), nil
	}
	digest, err := batch.SigningDigest()
	if err != nil {
		return reject(RejectReasonInvalidSignature, "batch cannot be encoded: %v", err), nil
	}
	pubKey, err := ethcrypto.SigToPub(digest, batch.Signature)
	if err != nil {
		return reject(RejectReasonInvalidSignature, "invalid batch signature"), nil
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if !bytes.Equal(recovered.Bytes(), submitter[:]) {
		return reject(RejectReasonInvalidSignature, "signature does not match submitter"), nil
	}
	return Decision{Authorized: true}, nil
}

func reject(reason RejectReason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
