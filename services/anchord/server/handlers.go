package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"raffleanchor/core/types"
	"raffleanchor/native/anchor"
	"raffleanchor/native/rollup"
	"raffleanchor/services/anchord/middleware"
	rpcanchor "raffleanchor/rpc/anchor"
)

const maxBatchBody = 4 << 20

func errorBody(class anchor.Class, err error) rpcanchor.ErrorJSON {
	body := rpcanchor.ErrorJSON{Class: class.String(), Message: err.Error()}
	var anchorErr *anchor.Error
	if errors.As(err, &anchorErr) && anchorErr.HasIndex {
		index := anchorErr.Index
		body.Index = &index
	}
	return body
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req rpcanchor.SubmitBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, anchor.ClassDecoding.String(), "invalid batch body: "+err.Error())
		return
	}
	submitter, batch, err := rpcanchor.DecodeBatch(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, anchor.ClassAuthorization.String(), err.Error())
		return
	}

	s.mu.Lock()
	receipt, err := s.backend.Anchor.Submit(r.Context(), submitter, batch)
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rpcanchor.NewReceiptJSON(
		receipt.Applied,
		receipt.Acknowledged,
		receipt.First,
		receipt.Last,
		receipt.Cursor.Next,
		receipt.Outbound,
		receipt.Payouts,
	))
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	queue, err := rollup.ParseQueueID(trimmedParam(r, "queue"))
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "", err.Error())
		return
	}
	s.mu.Lock()
	stats, statsErr := s.backend.Anchor.Stats(queue)
	messages, err := s.backend.Anchor.Pending(queue)
	s.mu.Unlock()
	if err == nil {
		err = statsErr
	}
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	out := rpcanchor.PendingJSON{
		Queue:    queue.String(),
		Head:     stats.Head,
		Tail:     stats.Tail,
		Messages: make([]rpcanchor.MessageJSON, len(messages)),
	}
	for i, msg := range messages {
		out.Messages[i] = rpcanchor.MessageJSON{Index: msg.Index, Payload: msg.Payload}
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cursor, err := s.backend.Anchor.Cursor()
	state := s.backend.Anchor.State()
	fault := s.backend.Anchor.Fault()
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	out := rpcanchor.CursorJSON{Next: cursor.Next, State: state.String(), Fault: fault}
	if last, ok := cursor.Last(); ok {
		out.Last = &last
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRaffleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status, err := s.backend.Raffle.Status()
	budget := "0"
	if err == nil && status.Pending != nil {
		amount, budgetErr := s.backend.Oracle.RewardBudget(status.Pending.Ref.Era)
		if budgetErr != nil {
			err = budgetErr
		} else {
			budget = amount.Dec()
		}
	}
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	out := rpcanchor.NewRaffleStatusJSON(status, s.backend.ProofScheme)
	if out.Pending != nil {
		out.Pending.Budget = budget
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRewardBalance(w http.ResponseWriter, r *http.Request) {
	participant, err := rpcanchor.ParseParticipant(trimmedParam(r, "participant"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	s.mu.Lock()
	balance, err := s.backend.Rewards.Balance(participant)
	s.mu.Unlock()
	if err != nil {
		s.writeAnchorError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rpcanchor.NewParticipantJSON(participant, balance))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var list []*types.Event
	if s.backend.Events != nil {
		if eventType := r.URL.Query().Get("type"); eventType != "" {
			list = s.backend.Events.OfType(eventType)
		} else {
			list = s.backend.Events.Events()
		}
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	if list == nil {
		list = []*types.Event{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}
