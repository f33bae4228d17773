// Package main is the entry point for gatewayctl, the operator CLI for the
// gatewayplane orchestrator.
package main

import (
	"os"

	"gatewayplane/cmd/gatewayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
