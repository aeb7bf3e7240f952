package anchor

import (
	"errors"
	"fmt"

	"raffleanchor/native/attest"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
)

var (
	// ErrFaulted is returned while the fault marker is set.
	ErrFaulted = errors.New("anchor: faulted, operator must clear the fault")
	// ErrBusy is returned when a call arrives while a batch is being applied.
	ErrBusy = errors.New("anchor: batch in progress")
)

// Class groups failures by how the submitter should react.
type Class uint8

const (
	// ClassInternal marks failures outside the taxonomy. They fault the anchor.
	ClassInternal Class = iota
	ClassAuthorization
	ClassOrdering
	ClassDecoding
	ClassDomain
	ClassAdapter
	// ClassUnavailable covers calls refused because of the machine state.
	ClassUnavailable
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassOrdering:
		return "ordering"
	case ClassDecoding:
		return "decoding"
	case ClassDomain:
		return "domain"
	case ClassAdapter:
		return "adapter"
	case ClassUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is returned by every rejected call. Index is set when a specific
// message caused the rejection.
type Error struct {
	Class    Class
	Index    uint64
	HasIndex bool
	Err      error
}

func (e *Error) Error() string {
	if e.HasIndex {
		return fmt.Sprintf("anchor: %s error at index %d: %v", e.Class, e.Index, e.Err)
	}
	return fmt.Sprintf("anchor: %s error: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var domainErrors = []error{
	raffle.ErrDuplicateWinner,
	raffle.ErrIneligibleWinner,
	raffle.ErrProofMismatch,
	raffle.ErrTooManyWinners,
	raffle.ErrSnapshotMismatch,
	raffle.ErrDrawInProgress,
	raffle.ErrEraAlreadyDrawn,
	raffle.ErrNoEligibleParticipants,
	raffle.ErrSkipNotAllowed,
	raffle.ErrInvalidPayout,
	raffle.ErrWeightOverflow,
	rollup.ErrQueueFull,
	rollup.ErrInvalidAck,
}

// ClassOf reports the class of err. Errors not produced by this package are
// classified by the sentinel they wrap.
func ClassOf(err error) Class {
	if err == nil {
		return ClassInternal
	}
	var anchorErr *Error
	if errors.As(err, &anchorErr) {
		return anchorErr.Class
	}
	return classify(err)
}

func classify(err error) Class {
	var adapterErr *raffle.AdapterError
	switch {
	case errors.Is(err, ErrFaulted), errors.Is(err, ErrBusy):
		return ClassUnavailable
	case errors.Is(err, attest.ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, rollup.ErrOutOfOrder), errors.Is(err, rollup.ErrEmptyBatch):
		return ClassOrdering
	case errors.Is(err, raffle.ErrMalformedPayload):
		return ClassDecoding
	case errors.As(err, &adapterErr):
		return ClassAdapter
	}
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return ClassDomain
		}
	}
	return ClassInternal
}

func wrap(err error, index uint64, hasIndex bool) *Error {
	return &Error{Class: classify(err), Index: index, HasIndex: hasIndex, Err: err}
}
