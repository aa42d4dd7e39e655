// Package main provides the entry point for isarun.
// isarun executes a flat binary image against a JSON machine
// description, decoding and running instructions until the image ends,
// a limit is reached, or execution fails.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/isasim/access"
	"github.com/sarchlab/isasim/decode"
	"github.com/sarchlab/isasim/emu"
	"github.com/sarchlab/isasim/isa"
	"github.com/sarchlab/isasim/loader"
	"github.com/sarchlab/isasim/timing/latency"
)

var (
	descPath   = flag.String("desc", "", "Path to the machine description JSON file")
	memName    = flag.String("mem", "mem", "Device the image is loaded into and fetched from")
	loadAddr   = flag.Uint64("load", 0, "Address the image is loaded at")
	entry      = flag.Uint64("entry", 0, "Address execution starts at")
	pcReg      = flag.String("pc", "", "Register that mirrors the program counter")
	maxInstr   = flag.Uint64("max-instr", 0, "Max instructions to execute (0 = unlimited)")
	timing     = flag.Bool("timing", false, "Account cycles with the latency table")
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	trace      = flag.Bool("trace", false, "Print each instruction as it executes")
	cpuProfile = flag.String("cpuprofile", "", "write cpu profile to file")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if *descPath == "" || flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: isarun -desc <machine.json> [options] <image.bin>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		atexit.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			atexit.Exit(1)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			atexit.Exit(1)
		}
		// Exits go through atexit so the profile flushes either way.
		atexit.Register(func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}

	desc, err := loader.Load(*descPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading description: %v\n", err)
		atexit.Exit(1)
	}

	imagePath := flag.Arg(0)
	image, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		atexit.Exit(1)
	}

	memDev, ok := desc.DeviceByName(*memName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: description declares no device %q\n", *memName)
		atexit.Exit(1)
	}

	bridge, err := access.New(access.DefaultConfig(), access.DevicesFor(desc)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building access bridge: %v\n", err)
		atexit.Exit(1)
	}
	if err := bridge.WriteBytes(memDev, *loadAddr, image, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error placing image: %v\n", err)
		atexit.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded: %s (%d bytes at %#x)\n", imagePath, len(image), *loadAddr)
	}

	var table *latency.Table
	if *timing {
		table, err = timingTable(desc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
			atexit.Exit(1)
		}
	}

	var cycles uint64
	machine := emu.NewMachine(desc, bridge,
		emu.WithInstructionHook(func(di *decode.DecodedInstruction, res emu.Result) {
			if *trace {
				fmt.Printf("%#010x: %s\n", di.PC, di)
			}
			if table != nil {
				cycles += table.Cycles(di.Timing)
			}
		}))
	dec := decode.NewDecoder(desc, decode.NewBridgeSource(bridge, memDev))

	var opts []emu.CoreOption
	if *pcReg != "" {
		opts = append(opts, emu.WithPCRegister(*pcReg))
	}
	if *maxInstr > 0 {
		opts = append(opts, emu.WithMaxInstructions(*maxInstr))
	}

	core, err := emu.NewCore(machine, dec, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building core: %v\n", err)
		atexit.Exit(1)
	}
	core.SetPC(*entry)

	executed, runErr := core.Run()

	// Running off the end of the image is the normal way a flat binary
	// stops.
	var nm *decode.NoMatch
	if errors.As(runErr, &nm) && nm.PC == *loadAddr+uint64(len(image)) {
		runErr = nil
	}

	if *verbose || *timing {
		fmt.Printf("\nProgram: %s\n", imagePath)
		fmt.Printf("Instructions executed: %d\n", executed)
		if *timing {
			fmt.Printf("Cycles: %d\n", cycles)
		}
	}
	if *verbose {
		fmt.Printf("\nRegisters:\n")
		for _, name := range desc.RegisterNames() {
			v, err := machine.ReadRegister(name)
			if err != nil {
				continue
			}
			fmt.Printf("  %-10s %#x\n", name, v)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: execution stopped at %#x: %v\n", core.PC(), runErr)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func timingTable(desc *isa.Description) (*latency.Table, error) {
	if *configPath == "" {
		return latency.NewTable(desc), nil
	}
	config, err := latency.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return latency.NewTableWithConfig(desc, config), nil
}
