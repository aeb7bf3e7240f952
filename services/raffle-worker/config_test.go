package raffleworker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("WORKER_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("WORKER_TOKEN", "token-from-env")
	path := writeConfig(t, `
node:
  url: http://127.0.0.1:8650/
  admin_token_env: WORKER_TOKEN
signer:
  key_env: WORKER_KEY
schedule: "0 3 * * 1"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval.Duration != 10*time.Second || cfg.Node.Timeout.Duration != 15*time.Second {
		t.Fatalf("unexpected durations %s %s", cfg.PollInterval, cfg.Node.Timeout)
	}
	if cfg.Proof.Scheme != "attested" || cfg.StatePath != "raffle-worker.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Node.AdminToken != "token-from-env" {
		t.Fatalf("admin token not resolved: %q", cfg.Node.AdminToken)
	}
	if !strings.HasPrefix(cfg.Signer.Key, "0x4c08") {
		t.Fatalf("signer key not resolved: %q", cfg.Signer.Key)
	}
	if _, err := LoadSigner(cfg.Signer, nil); err != nil {
		t.Fatalf("signer: %v", err)
	}
}

func TestLoadConfigParsesDurationsAndKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.hex")
	if err := os.WriteFile(keyPath, []byte("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	path := writeConfig(t, `
node:
  url: http://node:8650
  timeout: 3s
signer:
  key_file: `+keyPath+`
poll_interval: 1m30s
dry_run: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval.Duration != 90*time.Second || cfg.Node.Timeout.Duration != 3*time.Second {
		t.Fatalf("unexpected durations %s %s", cfg.PollInterval, cfg.Node.Timeout)
	}
	if !cfg.DryRun || cfg.Signer.Key == "" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing url": `
signer:
  key: "0x01"
`,
		"missing signer": `
node:
  url: http://node
`,
		"bad schedule": `
node:
  url: http://node
signer:
  key: "0x01"
schedule: "every tuesday"
`,
		"beacon without secret": `
node:
  url: http://node
signer:
  key: "0x01"
proof:
  scheme: beacon
`,
		"unknown scheme": `
node:
  url: http://node
signer:
  key: "0x01"
proof:
  scheme: vrf
`,
		"short poll": `
node:
  url: http://node
signer:
  key: "0x01"
poll_interval: 100ms
`,
		"unknown field": `
node:
  url: http://node
signer:
  key: "0x01"
retries: 3
`,
		"bad duration": `
node:
  url: http://node
signer:
  key: "0x01"
poll_interval: soon
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

type fixedPassphrase string

func (p fixedPassphrase) Get() (string, error) { return string(p), nil }

func TestLoadSignerRequiresPassphraseForKeystore(t *testing.T) {
	if _, err := LoadSigner(SignerConfig{Keystore: "/nonexistent.json"}, nil); err == nil {
		t.Fatalf("expected missing passphrase source error")
	}
	if _, err := LoadSigner(SignerConfig{Keystore: filepath.Join(t.TempDir(), "missing.json")}, fixedPassphrase("pw")); err == nil {
		t.Fatalf("expected missing keystore error")
	}
}
