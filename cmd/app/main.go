package main

import (
	"fmt"
	"os"

	"PerpGate/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if config.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
