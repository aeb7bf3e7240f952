package main

import (
	"log"

	"raffleanchor/cmd/internal/passphrase"
	raffleworker "raffleanchor/services/raffle-worker"
)

func main() {
	newSource := func(envVar string) raffleworker.PassphraseSource {
		return passphrase.NewSource(envVar)
	}
	if err := raffleworker.Main(newSource); err != nil {
		log.Fatalf("raffle-worker: %v", err)
	}
}
