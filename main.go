// Package main is the entry point for the netslave network audio slave.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netslave/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
