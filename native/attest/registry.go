package attest

import (
	"errors"
	"fmt"

	"raffleanchor/core/state"
)

// ErrZeroAttestor rejects the all-zero address.
var ErrZeroAttestor = errors.New("attest: attestor address required")

// Registry persists the set of worker identities allowed to submit batches.
type Registry struct {
	state *state.Manager
}

func NewRegistry(st *state.Manager) *Registry {
	return &Registry{state: st}
}

// Grant authorizes addr. Granting an existing attestor is a no-op.
func (r *Registry) Grant(addr [20]byte) error {
	if isZeroAddress(addr) {
		return ErrZeroAttestor
	}
	return r.state.KVPut(state.AttestorKey(addr[:]), true)
}

// Revoke removes addr from the set.
func (r *Registry) Revoke(addr [20]byte) error {
	if isZeroAddress(addr) {
		return ErrZeroAttestor
	}
	return r.state.KVDelete(state.AttestorKey(addr[:]))
}

// IsAttestor reports whether addr may submit batches.
func (r *Registry) IsAttestor(addr [20]byte) (bool, error) {
	if isZeroAddress(addr) {
		return false, nil
	}
	return r.state.KVGet(state.AttestorKey(addr[:]), nil)
}

// Attestors lists the registered identities ordered by address bytes.
func (r *Registry) Attestors() ([][20]byte, error) {
	prefix := state.AttestorPrefix()
	out := make([][20]byte, 0)
	err := r.state.KVIterate(prefix, func(key, _ []byte) (bool, error) {
		raw := key[len(prefix):]
		if len(raw) != 20 {
			return false, fmt.Errorf("attest: malformed registry key %x", key)
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
		return true, nil
	})
	return out, err
}

func isZeroAddress(addr [20]byte) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}
