// Package main is the realtime-service entry point (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
