package anchord

import (
	"fmt"
	"log/slog"

	"raffleanchor/config"
	"raffleanchor/core/events"
	"raffleanchor/core/state"
	"raffleanchor/native/anchor"
	"raffleanchor/native/attest"
	"raffleanchor/native/oracle"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rewards"
	"raffleanchor/native/rollup"
	"raffleanchor/observability"
	"raffleanchor/services/anchord/server"
	"raffleanchor/storage"
)

// eventBuffer bounds the events kept for the /v1/events endpoint.
const eventBuffer = 512

// Node wires the anchor components over one state manager.
type Node struct {
	State    *state.Manager
	Ledger   *rollup.Ledger
	Registry *attest.Registry
	Oracle   *oracle.Store
	Rewards  *rewards.Ledger
	Raffle   *raffle.Engine
	Anchor   *anchor.Engine
	Events   *events.Recorder
	Scheme   string
}

// NewNode builds the node and applies the bootstrap attestors and data
// managers from cfg.
func NewNode(cfg *config.Config, db storage.Database, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	params, err := cfg.RaffleParams()
	if err != nil {
		return nil, err
	}
	n := &Node{
		State:  state.NewManager(db),
		Events: events.NewRecorder(eventBuffer),
		Scheme: cfg.Raffle.ProofScheme,
	}
	n.Ledger = rollup.NewLedger(n.State, cfg.QueueCapacity)
	n.Registry = attest.NewRegistry(n.State)
	n.Oracle = oracle.NewStore(n.State)
	n.Rewards = rewards.NewLedger(n.State)

	verifier, err := newVerifier(cfg, n.Registry)
	if err != nil {
		return nil, err
	}
	n.Raffle, err = raffle.NewEngine(n.State, n.Ledger, raffle.Collaborators{
		Staking:  n.Oracle,
		Budget:   n.Oracle,
		Rewards:  n.Rewards,
		Verifier: verifier,
	}, params)
	if err != nil {
		return nil, err
	}
	n.Raffle.SetLogger(logger.With("component", "raffle"))

	n.Anchor, err = anchor.NewEngine(n.State, n.Ledger, attest.NewGate(n.Registry), n.Raffle,
		anchor.WithEmitter(events.Fanout{n.Events, eventCounter{observability.Events()}}),
		anchor.WithLogger(logger.With("component", "anchor")),
		anchor.WithMetrics(observability.Anchor()),
	)
	if err != nil {
		return nil, err
	}
	if err := n.bootstrap(cfg); err != nil {
		return nil, err
	}
	if n.Anchor.State() == anchor.StateFaulted {
		logger.Warn("anchor starting faulted; clear the fault through the admin API", "reason", n.Anchor.Fault())
	}
	return n, nil
}

// eventCounter feeds committed events into the events_emitted_total counter.
type eventCounter struct {
	metrics *observability.EventMetrics
}

func (c eventCounter) Emit(evt events.Event) { c.metrics.Record(evt.EventType()) }

func newVerifier(cfg *config.Config, registry *attest.Registry) (raffle.ProofVerifier, error) {
	switch cfg.Raffle.ProofScheme {
	case config.ProofSchemeBeacon:
		verifier, err := raffle.NewBeaconVerifier(cfg.Raffle.BeaconPublicKey)
		if err != nil {
			return nil, fmt.Errorf("beacon public key: %w", err)
		}
		return verifier, nil
	default:
		return raffle.AttestedSeedVerifier{Attestors: registry}, nil
	}
}

func (n *Node) bootstrap(cfg *config.Config) error {
	attestors, err := cfg.AttestorAddresses()
	if err != nil {
		return err
	}
	managers, err := cfg.DataManagerAddresses()
	if err != nil {
		return err
	}
	if len(attestors) == 0 && len(managers) == 0 {
		return nil
	}
	return n.Anchor.Update(func() error {
		for _, addr := range attestors {
			if err := n.Registry.Grant(addr); err != nil {
				return err
			}
		}
		for _, addr := range managers {
			if err := n.Oracle.GrantDataManager(addr); err != nil {
				return err
			}
		}
		return nil
	})
}

// Backend exposes the node to the HTTP server.
func (n *Node) Backend() server.Backend {
	return server.Backend{
		Anchor:      n.Anchor,
		Raffle:      n.Raffle,
		Registry:    n.Registry,
		Oracle:      n.Oracle,
		Rewards:     n.Rewards,
		Events:      n.Events,
		ProofScheme: n.Scheme,
	}
}
