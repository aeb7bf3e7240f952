package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestAddressRoundTripsThroughBech32(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := NewAddress(ParticipantPrefix, raw)
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != addr.Raw() || decoded.Prefix() != ParticipantPrefix {
		t.Fatalf("round trip mismatch: %s vs %s", decoded, addr)
	}

	fromHex, err := ParseAddress(addr.Hex(), AttestorPrefix)
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex.Raw() != addr.Raw() || fromHex.Prefix() != AttestorPrefix {
		t.Fatalf("hex parse mismatch")
	}
	if _, err := ParseAddress("0x0102", ParticipantPrefix); err == nil {
		t.Fatalf("expected short address error")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := ethcrypto.Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address(AttestorPrefix).Raw() {
		t.Fatalf("recovered signer mismatch")
	}
	if _, err := RecoverAddress(digest, sig[:64]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "worker.json")
	if err := saveToKeystore(path, key, "secret", keystore.LightScryptN, keystore.LightScryptP); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address(AttestorPrefix).Raw() != key.PubKey().Address(AttestorPrefix).Raw() {
		t.Fatalf("loaded key differs")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected bad passphrase error")
	}
}
