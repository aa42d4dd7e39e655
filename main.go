// Package main provides the entry point for isasim.
// isasim is a description-driven instruction set decoder and emulator.
//
// For the full CLI, use: go run ./cmd/isarun
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("isasim - description-driven ISA decoder and emulator")
	fmt.Println("")
	fmt.Println("Usage: isarun -desc <machine.json> [options] <image.bin>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -entry     Address execution starts at")
	fmt.Println("  -timing    Account cycles with the latency table")
	fmt.Println("  -config    Path to timing configuration JSON file")
	fmt.Println("  -trace     Print each instruction as it executes")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/isarun' for the full CLI, or")
	fmt.Println("'go run ./cmd/isadump <machine.json>' to inspect a description.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/isarun' instead.")
	}
}
