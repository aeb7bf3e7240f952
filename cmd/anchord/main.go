package main

import (
	"log"

	"raffleanchor/services/anchord"
)

func main() {
	if err := anchord.Main(); err != nil {
		log.Fatalf("anchord: %v", err)
	}
}
