package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"raffleanchor/crypto"
	"raffleanchor/native/attest"
	"raffleanchor/native/oracle"
	"raffleanchor/services/anchord/middleware"
	rpcanchor "raffleanchor/rpc/anchor"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", "invalid request: "+err.Error())
		return false
	}
	return true
}

// caller resolves the authenticated operator's address from the token subject.
func caller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.Subject == "" {
		middleware.WriteError(w, http.StatusForbidden, "", "token subject must name the operator address")
		return [20]byte{}, false
	}
	addr, err := crypto.ParseAddress(principal.Subject, crypto.ParticipantPrefix)
	if err != nil {
		middleware.WriteError(w, http.StatusForbidden, "", "token subject is not an address: "+err.Error())
		return [20]byte{}, false
	}
	return addr.Raw(), true
}

// writeUpdateError maps errors from registry and oracle writes.
func (s *Server) writeUpdateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oracle.ErrUnauthorized):
		middleware.WriteError(w, http.StatusForbidden, "", err.Error())
	case errors.Is(err, oracle.ErrZeroStake), errors.Is(err, oracle.ErrZeroParticipant), errors.Is(err, attest.ErrZeroAttestor):
		middleware.WriteError(w, http.StatusBadRequest, "", err.Error())
	default:
		s.writeAnchorError(w, err)
	}
}

func (s *Server) handleListAttestors(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	attestors, err := s.backend.Registry.Attestors()
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	out := rpcanchor.AttestorsJSON{Attestors: make([]string, len(attestors))}
	for i, addr := range attestors {
		out.Attestors[i] = crypto.NewAddress(crypto.AttestorPrefix, addr[:]).String()
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGrantAttestor(w http.ResponseWriter, r *http.Request) {
	var req rpcanchor.AttestorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := crypto.ParseAddress(req.Address, crypto.AttestorPrefix)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	s.mu.Lock()
	err = s.backend.Anchor.Update(func() error { return s.backend.Registry.Grant(addr.Raw()) })
	s.mu.Unlock()
	if err != nil {
		s.writeUpdateError(w, err)
		return
	}
	s.logger.Info("attestor granted", "address", addr.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAttestor(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(trimmedParam(r, "address"), crypto.AttestorPrefix)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	s.mu.Lock()
	err = s.backend.Anchor.Update(func() error { return s.backend.Registry.Revoke(addr.Raw()) })
	s.mu.Unlock()
	if err != nil {
		s.writeUpdateError(w, err)
		return
	}
	s.logger.Info("attestor revoked", "address", addr.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddParticipants(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req rpcanchor.ParticipantsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rows := make([]oracle.Participant, len(req.Participants))
	for i, p := range req.Participants {
		account, err := rpcanchor.ParseParticipant(p.Account)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "", "participant "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		stake, err := rpcanchor.ParseAmount(p.Stake)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "", "participant "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		rows[i] = oracle.Participant{Account: account, Stake: stake}
	}
	s.mu.Lock()
	err := s.backend.Anchor.Update(func() error { return s.backend.Oracle.AddParticipants(from, req.Era, rows) })
	s.mu.Unlock()
	if err != nil {
		s.writeUpdateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetRewards(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req rpcanchor.RewardsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := rpcanchor.ParseAmount(req.Amount)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	s.mu.Lock()
	err = s.backend.Anchor.Update(func() error { return s.backend.Oracle.SetRewards(from, req.Era, amount) })
	s.mu.Unlock()
	if err != nil {
		s.writeUpdateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearEra(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req rpcanchor.EraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	err := s.backend.Anchor.Update(func() error { return s.backend.Oracle.ClearEra(from, req.Era) })
	s.mu.Unlock()
	if err != nil {
		s.writeUpdateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEraData(w http.ResponseWriter, r *http.Request) {
	era, err := strconv.ParseUint(trimmedParam(r, "era"), 10, 32)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", "invalid era")
		return
	}
	s.mu.Lock()
	data, err := s.backend.Oracle.Data(uint32(era))
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	participants := make([]rpcanchor.ParticipantJSON, len(data.Participants))
	for i, entry := range data.Participants {
		participants[i] = rpcanchor.NewParticipantJSON(entry.Participant, entry.Stake)
	}
	middleware.WriteJSON(w, http.StatusOK, rpcanchor.NewEraDataJSON(data.Era, participants, data.Rewards))
}

func (s *Server) handleClearFault(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reason := s.backend.Anchor.Fault()
	err := s.backend.Anchor.ClearFault()
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"cleared": reason})
}

func (s *Server) handleTriggerDraw(w http.ResponseWriter, r *http.Request) {
	var req rpcanchor.EraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	effect, err := s.backend.Anchor.TriggerDraw(r.Context(), req.Era)
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rpcanchor.TriggerDrawJSON{
		Era:          req.Era,
		Outbound:     append([]uint64{}, effect.Outbound...),
		Acknowledged: effect.Acknowledged,
	})
}
