package raffleworker

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"raffleanchor/config"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the raffle worker.
type Config struct {
	Node         NodeConfig   `yaml:"node"`
	Signer       SignerConfig `yaml:"signer"`
	Proof        ProofConfig  `yaml:"proof"`
	Schedule     string       `yaml:"schedule"`
	PollInterval Duration     `yaml:"poll_interval"`
	StatePath    string       `yaml:"state_path"`
	DryRun       bool         `yaml:"dry_run"`
	Metrics      string       `yaml:"metrics_listen"`
	Environment  string       `yaml:"environment"`
	LogLevel     string       `yaml:"log_level"`
}

// NodeConfig points the worker at an anchor node.
type NodeConfig struct {
	URL           string   `yaml:"url"`
	AdminToken    string   `yaml:"admin_token"`
	AdminTokenEnv string   `yaml:"admin_token_env"`
	Timeout       Duration `yaml:"timeout"`
}

// SignerConfig locates the attestor key. Exactly one source is used, in the
// order key, key_env, key_file, keystore.
type SignerConfig struct {
	Key           string `yaml:"key"`
	KeyEnv        string `yaml:"key_env"`
	KeyFile       string `yaml:"key_file"`
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// ProofConfig selects how the worker proves its randomness.
type ProofConfig struct {
	Scheme          string `yaml:"scheme"`
	BeaconSecret    string `yaml:"beacon_secret"`
	BeaconSecretEnv string `yaml:"beacon_secret_env"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Node.normalise(); err != nil {
		return cfg, fmt.Errorf("node: %w", err)
	}
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Proof.normalise(); err != nil {
		return cfg, fmt.Errorf("proof: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 10 * time.Second
	}
	if cfg.Node.Timeout.Duration == 0 {
		cfg.Node.Timeout.Duration = 15 * time.Second
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		cfg.StatePath = "raffle-worker.db"
	}
	if strings.TrimSpace(cfg.Proof.Scheme) == "" {
		cfg.Proof.Scheme = config.ProofSchemeAttested
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Node.URL) == "" {
		return fmt.Errorf("node url must be configured")
	}
	if cfg.PollInterval.Duration < time.Second {
		return fmt.Errorf("poll_interval must be at least 1s")
	}
	if schedule := strings.TrimSpace(cfg.Schedule); schedule != "" && !gronx.IsValid(schedule) {
		return fmt.Errorf("schedule %q is not a valid cron expression", schedule)
	}
	switch cfg.Proof.Scheme {
	case config.ProofSchemeAttested:
	case config.ProofSchemeBeacon:
		if cfg.Proof.BeaconSecret == "" {
			return fmt.Errorf("beacon proof scheme requires beacon_secret")
		}
	default:
		return fmt.Errorf("unknown proof scheme %q", cfg.Proof.Scheme)
	}
	return nil
}

func (n *NodeConfig) normalise() error {
	n.URL = strings.TrimSpace(n.URL)
	n.AdminToken = strings.TrimSpace(n.AdminToken)
	n.AdminTokenEnv = strings.TrimSpace(n.AdminTokenEnv)
	if n.AdminToken == "" && n.AdminTokenEnv != "" {
		n.AdminToken = strings.TrimSpace(os.Getenv(n.AdminTokenEnv))
	}
	return nil
}

func (s *SignerConfig) normalise() error {
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	if s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	case s.Keystore != "":
		// Decrypted lazily so the passphrase prompt only happens at startup.
	default:
		return fmt.Errorf("one of key, key_env, key_file or keystore is required")
	}
	return nil
}

func (p *ProofConfig) normalise() error {
	p.Scheme = strings.ToLower(strings.TrimSpace(p.Scheme))
	p.BeaconSecret = strings.TrimSpace(p.BeaconSecret)
	p.BeaconSecretEnv = strings.TrimSpace(p.BeaconSecretEnv)
	if p.BeaconSecret == "" && p.BeaconSecretEnv != "" {
		value := strings.TrimSpace(os.Getenv(p.BeaconSecretEnv))
		if value == "" {
			return fmt.Errorf("beacon_secret_env %s is empty", p.BeaconSecretEnv)
		}
		p.BeaconSecret = value
	}
	return nil
}
