package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ProofSchemeAttested = "attested"
	ProofSchemeBeacon   = "beacon"

	defaultQueueCapacity = 1024
)

// Config is the anchor node configuration.
type Config struct {
	ListenAddress string   `toml:"ListenAddress"`
	DataDir       string   `toml:"DataDir"`
	Environment   string   `toml:"Environment"`
	QueueCapacity uint64   `toml:"QueueCapacity"`
	Attestors     []string `toml:"Attestors"`
	DataManagers  []string `toml:"DataManagers"`

	Raffle    Raffle    `toml:"raffle"`
	Admin     Admin     `toml:"admin"`
	RateLimit RateLimit `toml:"rate_limit"`
	Log       Log       `toml:"log"`
}

// Load loads the configuration from the given path, writing a default file if
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: ":8650",
		DataDir:       "./raffle-data",
		Environment:   "dev",
		QueueCapacity: defaultQueueCapacity,
		Attestors:     []string{},
		DataManagers:  []string{},
		Raffle: Raffle{
			NbWinners:          3,
			ExcludeLastWinners: true,
			WeightMode:         "linear",
			FirstEra:           1,
			ProofScheme:        ProofSchemeAttested,
		},
		Admin: Admin{
			JWTSecretEnv: "RAFFLE_ADMIN_JWT_SECRET",
			Issuer:       "raffle-admin",
		},
		RateLimit: RateLimit{RequestsPerMinute: 120, Burst: 20},
		Log:       Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
	}
}

// JWTSecretValue resolves the admin secret, preferring the environment.
func (c *Config) JWTSecretValue() string {
	if env := strings.TrimSpace(c.Admin.JWTSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Admin.JWTSecret)
}

func (c *Config) normalize() {
	if c.Attestors == nil {
		c.Attestors = []string{}
	}
	if c.DataManagers == nil {
		c.DataManagers = []string{}
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	c.Raffle.WeightMode = strings.ToLower(strings.TrimSpace(c.Raffle.WeightMode))
	c.Raffle.ProofScheme = strings.ToLower(strings.TrimSpace(c.Raffle.ProofScheme))
	if c.Raffle.ProofScheme == "" {
		c.Raffle.ProofScheme = ProofSchemeAttested
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
