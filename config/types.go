package config

// Raffle tunes the dispatch engine.
type Raffle struct {
	NbWinners          uint16 `toml:"NbWinners"`
	ExcludeLastWinners bool   `toml:"ExcludeLastWinners"`
	// WeightMode is "linear" or "sqrt".
	WeightMode string `toml:"WeightMode"`
	// MinStake and MaxWeight are decimal strings; empty disables the bound.
	MinStake  string `toml:"MinStake"`
	MaxWeight string `toml:"MaxWeight"`
	FirstEra  uint32 `toml:"FirstEra"`
	// ProofScheme selects how draw randomness is proven: "attested" or "beacon".
	ProofScheme     string `toml:"ProofScheme"`
	BeaconPublicKey string `toml:"BeaconPublicKey"`
}

// Admin configures JWT authentication of the operator API.
type Admin struct {
	JWTSecret    string `toml:"JWTSecret"`
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	Issuer       string `toml:"Issuer"`
	Audience     string `toml:"Audience"`
}

// RateLimit bounds batch submissions per client.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Log controls structured logging output.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
