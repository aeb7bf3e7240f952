package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"raffleanchor/crypto"
	"raffleanchor/native/raffle"
)

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if _, err := c.RaffleParams(); err != nil {
		return err
	}
	switch c.Raffle.ProofScheme {
	case ProofSchemeAttested:
	case ProofSchemeBeacon:
		if strings.TrimSpace(c.Raffle.BeaconPublicKey) == "" {
			return fmt.Errorf("config: raffle.BeaconPublicKey required for the beacon proof scheme")
		}
	default:
		return fmt.Errorf("config: unknown raffle.ProofScheme %q", c.Raffle.ProofScheme)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if _, err := c.AttestorAddresses(); err != nil {
		return err
	}
	if _, err := c.DataManagerAddresses(); err != nil {
		return err
	}
	return nil
}

// RaffleParams converts the raffle section into engine parameters.
func (c *Config) RaffleParams() (raffle.Params, error) {
	mode, err := raffle.ParseWeightMode(c.Raffle.WeightMode)
	if err != nil {
		return raffle.Params{}, fmt.Errorf("config: raffle.WeightMode: %w", err)
	}
	minStake, err := parseAmount(c.Raffle.MinStake)
	if err != nil {
		return raffle.Params{}, fmt.Errorf("config: raffle.MinStake: %w", err)
	}
	maxWeight, err := parseAmount(c.Raffle.MaxWeight)
	if err != nil {
		return raffle.Params{}, fmt.Errorf("config: raffle.MaxWeight: %w", err)
	}
	params := raffle.Params{
		NbWinners:          c.Raffle.NbWinners,
		Policy:             raffle.WeightPolicy{Mode: mode, MinStake: minStake, MaxWeight: maxWeight},
		ExcludeLastWinners: c.Raffle.ExcludeLastWinners,
		FirstEra:           c.Raffle.FirstEra,
	}
	if err := params.Validate(); err != nil {
		return raffle.Params{}, fmt.Errorf("config: %w", err)
	}
	return params, nil
}

// AttestorAddresses parses the bootstrap attestor list.
func (c *Config) AttestorAddresses() ([][20]byte, error) {
	return parseAddresses("Attestors", c.Attestors, crypto.AttestorPrefix)
}

// DataManagerAddresses parses the bootstrap oracle data managers.
func (c *Config) DataManagerAddresses() ([][20]byte, error) {
	return parseAddresses("DataManagers", c.DataManagers, crypto.ParticipantPrefix)
}

func parseAddresses(field string, values []string, prefix crypto.AddressPrefix) ([][20]byte, error) {
	out := make([][20]byte, 0, len(values))
	for _, value := range values {
		addr, err := crypto.ParseAddress(value, prefix)
		if err != nil {
			return nil, fmt.Errorf("config: %s entry %q: %w", field, value, err)
		}
		out = append(out, addr.Raw())
	}
	return out, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	return uint256.FromDecimal(trimmed)
}
