package raffleworker

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"raffleanchor/config"
	"raffleanchor/core/events"
	"raffleanchor/crypto"
	"raffleanchor/native/oracle"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rollup"
	rpcanchor "raffleanchor/rpc/anchor"
	"raffleanchor/services/anchord"
	"raffleanchor/services/anchord/server"
	"raffleanchor/storage"
)

type harness struct {
	node    *anchord.Node
	client  *rpcanchor.Client
	worker  *Worker
	store   *Store
	manager [20]byte
	now     time.Time
}

func newHarness(t *testing.T, scheme string) *harness {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	managerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	manager := managerKey.PubKey().Address(crypto.ParticipantPrefix)

	cfg := config.Default()
	cfg.Raffle.NbWinners = 2
	cfg.Attestors = []string{key.PubKey().Address(crypto.AttestorPrefix).String()}
	cfg.DataManagers = []string{manager.String()}
	cfg.RateLimit = config.RateLimit{}

	var prover Prover = &AttestedProver{Key: key}
	if scheme == config.ProofSchemeBeacon {
		beacon := raffle.NewBeaconKey(nil)
		public, err := beacon.PublicHex()
		if err != nil {
			t.Fatalf("beacon public key: %v", err)
		}
		cfg.Raffle.ProofScheme = config.ProofSchemeBeacon
		cfg.Raffle.BeaconPublicKey = public
		prover = &BeaconProver{Key: beacon}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	node, err := anchord.NewNode(cfg, storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	srv, err := server.New(server.Config{}, node.Backend(), nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	store, err := NewStore(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	schedule, err := NewSchedule("0 * * * *")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	h := &harness{
		node:    node,
		client:  rpcanchor.NewClient(rpcanchor.Config{URL: httpSrv.URL}),
		store:   store,
		manager: manager.Raw(),
		now:     time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC),
	}
	h.worker, err = NewWorker(h.client, key, prover, store, schedule, WithClock(func() time.Time { return h.now }))
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	return h
}

func (h *harness) seed(t *testing.T, era uint32, rewards uint64) {
	t.Helper()
	err := h.node.Anchor.Update(func() error {
		rows := make([]oracle.Participant, 0, 4)
		for i := byte(1); i <= 4; i++ {
			rows = append(rows, oracle.Participant{Account: raffle.ParticipantID{i}, Stake: uint256.NewInt(100)})
		}
		if err := h.node.Oracle.AddParticipants(h.manager, era, rows); err != nil {
			return err
		}
		return h.node.Oracle.SetRewards(h.manager, era, uint256.NewInt(rewards))
	})
	if err != nil {
		t.Fatalf("seed era %d: %v", era, err)
	}
}

func (h *harness) cycle(t *testing.T) CycleResult {
	t.Helper()
	result, err := h.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	return result
}

func TestWorkerDrivesDrawEndToEnd(t *testing.T) {
	for _, scheme := range []string{config.ProofSchemeAttested, config.ProofSchemeBeacon} {
		t.Run(scheme, func(t *testing.T) {
			h := newHarness(t, scheme)
			h.seed(t, 1, 1000)

			first := h.cycle(t)
			if first.Outcome != OutcomeTriggered || first.Era != 1 || first.Index != 0 {
				t.Fatalf("unexpected first cycle %+v", first)
			}
			if first.Receipt == nil || len(first.Receipt.Outbound) != 1 {
				t.Fatalf("trigger should enqueue one request, got %+v", first.Receipt)
			}

			second := h.cycle(t)
			if second.Outcome != OutcomeAnswered || second.Index != 1 {
				t.Fatalf("unexpected second cycle %+v", second)
			}
			if len(second.Receipt.Payouts) != 2 {
				t.Fatalf("expected two payouts, got %+v", second.Receipt.Payouts)
			}
			for _, p := range second.Receipt.Payouts {
				if p.Amount != "500" {
					t.Fatalf("unexpected share %s", p.Amount)
				}
			}
			if answer, ok, err := h.store.Answer(0); err != nil || !ok || answer.Era != 1 || answer.Cycle != second.ID {
				t.Fatalf("answer not recorded: %+v ok=%v err=%v", answer, ok, err)
			}

			status, err := h.client.RaffleStatus(context.Background())
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if status.Pending != nil || !status.HasDrawn || status.LastEra != 1 || status.NextEra != 2 {
				t.Fatalf("unexpected status %+v", status)
			}

			if third := h.cycle(t); third.Outcome != OutcomeIdle {
				t.Fatalf("worker should wait for the next tick, got %s", third.Outcome)
			}
		})
	}
}

func TestWorkerSkipsEraWithoutRewards(t *testing.T) {
	h := newHarness(t, config.ProofSchemeAttested)
	h.seed(t, 1, 0)

	if r := h.cycle(t); r.Outcome != OutcomeTriggered {
		t.Fatalf("expected trigger, got %s", r.Outcome)
	}
	r := h.cycle(t)
	if r.Outcome != OutcomeAnswered || len(r.Receipt.Payouts) != 0 {
		t.Fatalf("expected skipped answer, got %+v", r)
	}
	answer, ok, err := h.store.Answer(0)
	if err != nil || !ok || !answer.Skipped {
		t.Fatalf("skip not recorded: %+v ok=%v err=%v", answer, ok, err)
	}
	events := h.node.Events.OfType(events.TypeRaffleDrawSkipped)
	if len(events) != 1 {
		t.Fatalf("expected one skip event, got %d", len(events))
	}
}

func TestWorkerRecordsDomainRejectedTrigger(t *testing.T) {
	h := newHarness(t, config.ProofSchemeAttested)

	_, err := h.worker.RunOnce(context.Background())
	if !rpcanchor.IsClass(err, "domain") {
		t.Fatalf("expected domain rejection for an empty era, got %v", err)
	}
	trigger, ok, err := h.store.LastTrigger()
	if err != nil || !ok || trigger.Era != 1 {
		t.Fatalf("rejected trigger should be recorded: %+v ok=%v err=%v", trigger, ok, err)
	}
	if r := h.cycle(t); r.Outcome != OutcomeIdle {
		t.Fatalf("worker should not retry before the next tick, got %s", r.Outcome)
	}

	h.seed(t, 1, 1000)
	h.now = h.now.Add(time.Hour)
	if r := h.cycle(t); r.Outcome != OutcomeTriggered {
		t.Fatalf("expected trigger on the next tick, got %s", r.Outcome)
	}
}

func TestWorkerDryRunSubmitsNothing(t *testing.T) {
	h := newHarness(t, config.ProofSchemeAttested)
	h.seed(t, 1, 1000)
	WithDryRun(true)(h.worker)

	r := h.cycle(t)
	if r.Outcome != OutcomeTriggered || !r.DryRun || r.Receipt != nil {
		t.Fatalf("unexpected dry run cycle %+v", r)
	}
	cursor, err := h.client.Cursor(context.Background())
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor.Next != 0 {
		t.Fatalf("dry run must not advance the cursor, next=%d", cursor.Next)
	}
	if _, ok, _ := h.store.LastTrigger(); ok {
		t.Fatalf("dry run must not record triggers")
	}
}

type stubNode struct {
	cursor    rpcanchor.CursorJSON
	status    rpcanchor.RaffleStatusJSON
	submitted int
}

func (s *stubNode) Cursor(context.Context) (*rpcanchor.CursorJSON, error) {
	c := s.cursor
	return &c, nil
}

func (s *stubNode) RaffleStatus(context.Context) (*rpcanchor.RaffleStatusJSON, error) {
	st := s.status
	return &st, nil
}

func (s *stubNode) Pending(context.Context, rollup.QueueID) (*rpcanchor.PendingJSON, error) {
	return &rpcanchor.PendingJSON{}, nil
}

func (s *stubNode) SubmitBatch(context.Context, [20]byte, rollup.InboundBatch) (*rpcanchor.ReceiptJSON, error) {
	s.submitted++
	return nil, errors.New("unexpected submission")
}

func newStubWorker(t *testing.T, node *stubNode) *Worker {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	store, err := NewStore(filepath.Join(t.TempDir(), "worker.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	w, err := NewWorker(node, key, &AttestedProver{Key: key}, store, Schedule{})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	return w
}

func TestWorkerRefusesFaultedNode(t *testing.T) {
	node := &stubNode{cursor: rpcanchor.CursorJSON{State: "faulted", Fault: "disk full"}}
	_, err := newStubWorker(t, node).RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected faulted error, got %v", err)
	}
	if node.submitted != 0 {
		t.Fatalf("faulted node must not receive batches")
	}
}

func TestWorkerRefusesSchemeMismatch(t *testing.T) {
	node := &stubNode{
		cursor: rpcanchor.CursorJSON{State: "idle"},
		status: rpcanchor.RaffleStatusJSON{ProofScheme: config.ProofSchemeBeacon},
	}
	_, err := newStubWorker(t, node).RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "beacon") {
		t.Fatalf("expected scheme mismatch, got %v", err)
	}
}

func TestWorkerIdleWithoutSchedule(t *testing.T) {
	node := &stubNode{cursor: rpcanchor.CursorJSON{State: "idle"}, status: rpcanchor.RaffleStatusJSON{NextEra: 3}}
	r, err := newStubWorker(t, node).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if r.Outcome != OutcomeIdle || node.submitted != 0 {
		t.Fatalf("unscheduled worker should stay idle, got %+v", r)
	}
}
