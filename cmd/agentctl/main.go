// Package main is the operator CLI of the study agent: migrations, manual
// triggers, job inspection, sweeps and credentials.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
