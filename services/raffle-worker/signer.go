package raffleworker

import (
	"fmt"

	"raffleanchor/crypto"
)

// PassphraseSource yields the keystore passphrase.
type PassphraseSource interface {
	Get() (string, error)
}

// LoadSigner resolves the attestor key from a raw hex key or an encrypted
// keystore. passphrase is only consulted for keystores.
func LoadSigner(cfg SignerConfig, passphrase PassphraseSource) (*crypto.PrivateKey, error) {
	if cfg.Key != "" {
		key, err := crypto.PrivateKeyFromHex(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		return key, nil
	}
	if cfg.Keystore == "" {
		return nil, fmt.Errorf("no signer key configured")
	}
	if passphrase == nil {
		return nil, fmt.Errorf("keystore %s needs a passphrase source", cfg.Keystore)
	}
	secret, err := passphrase.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(cfg.Keystore, secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", cfg.Keystore, err)
	}
	return key, nil
}
