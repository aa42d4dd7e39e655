// Package main provides the entry point for isadump.
// isadump validates a JSON machine description and prints its devices,
// registers, instructions, and decode tables as listings.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/isa"
	"github.com/sarchlab/isasim/loader"
)

var deep = flag.Bool("deep", false, "Dump the full built description structure")

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: isadump [options] <machine.json>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	desc, err := loader.Load(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *deep {
		spew.Dump(desc)
		return
	}

	printSizeClasses(desc)
	printDevices(desc)
	printRegisters(desc)
	printInstructions(desc)
	printTables(desc)
}

func printSizeClasses(desc *isa.Description) {
	t := table.NewWriter()
	t.SetTitle("Size Classes")
	t.AppendHeader(table.Row{"ID", "Bits", "Chunk Bytes"})
	for i := 0; i < desc.NumSizeClasses(); i++ {
		sc := isa.SizeClass(i)
		t.AppendRow(table.Row{i, desc.WidthBits(sc), desc.ChunkBytes(sc)})
	}
	fmt.Println(t.Render())
	fmt.Println()
}

func printDevices(desc *isa.Description) {
	if desc.NumDevices() == 0 {
		return
	}
	t := table.NewWriter()
	t.SetTitle("Devices")
	t.AppendHeader(table.Row{"ID", "Name", "Size", "Order"})
	for i := 0; i < desc.NumDevices(); i++ {
		def, _ := desc.Device(isa.DeviceID(i))
		order := "BigEndian"
		if def.Order != nil {
			order = def.Order.String()
		}
		t.AppendRow(table.Row{i, def.Name, def.Size, order})
	}
	fmt.Println(t.Render())
	fmt.Println()
}

func printRegisters(desc *isa.Description) {
	names := desc.RegisterNames()
	if len(names) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetTitle("Registers")
	t.AppendHeader(table.Row{"Name", "Device", "Byte Offset", "Bits", "Subfields"})
	for _, name := range names {
		reg, _ := desc.Register(name)
		dev, _ := desc.Device(reg.Loc.Device)
		t.AppendRow(table.Row{
			reg.Name, dev.Name, reg.Loc.ByteOffset, reg.Loc.BitLen,
			subfieldSummary(reg.Subfields),
		})
	}
	fmt.Println(t.Render())
	fmt.Println()
}

func subfieldSummary(subfields map[string]bitfield.Range) string {
	if len(subfields) == 0 {
		return "-"
	}
	names := make([]string, 0, len(subfields))
	for n := range subfields {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := subfields[names[i]], subfields[names[j]]
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, n := range names {
		r := subfields[n]
		parts[i] = fmt.Sprintf("%s[%d:%d]", n, r.Offset, r.Offset+r.Length)
	}
	return strings.Join(parts, " ")
}

func printInstructions(desc *isa.Description) {
	if desc.NumInstructions() == 0 {
		return
	}
	t := table.NewWriter()
	t.SetTitle("Instructions")
	t.AppendHeader(table.Row{"ID", "Name", "Operands", "Timing", "Semantics"})
	for i := 0; i < desc.NumInstructions(); i++ {
		inst, _ := desc.Instr(isa.InstrID(i))
		timing := desc.TimingClassName(inst.Timing)
		if timing == "" {
			timing = "-"
		}
		semantics := "-"
		if inst.Semantics != nil {
			semantics = fmt.Sprintf("%d stmts", len(inst.Semantics.Body))
		}
		t.AppendRow(table.Row{i, inst.Name, operandSummary(inst.Operands), timing, semantics})
	}
	fmt.Println(t.Render())
	fmt.Println()
}

func operandSummary(ops []isa.OperandDef) string {
	if len(ops) == 0 {
		return "-"
	}
	parts := make([]string, len(ops))
	for i, op := range ops {
		if op.Role == isa.RoleRegister {
			parts[i] = fmt.Sprintf("%s %s(%s)", op.Name, op.Role, op.Class)
		} else {
			parts[i] = fmt.Sprintf("%s %s", op.Name, op.Role)
		}
	}
	return strings.Join(parts, ", ")
}

func printTables(desc *isa.Description) {
	for _, dt := range desc.Tables() {
		width := desc.WidthBits(dt.Size)
		digits := int(width+3) / 4

		t := table.NewWriter()
		t.SetTitle(fmt.Sprintf("Decode Table (size class %d, group %s, %d-bit)",
			dt.Size, desc.GroupName(dt.Group), width))
		t.AppendHeader(table.Row{"Mask", "Value", "Priority", "Target"})
		for _, e := range dt.Entries {
			t.AppendRow(table.Row{
				fmt.Sprintf("0x%0*X", digits, e.Mask),
				fmt.Sprintf("0x%0*X", digits, e.Value),
				e.Priority,
				targetName(desc, e.Kind),
			})
		}
		fmt.Println(t.Render())
		fmt.Println()
	}
}

func targetName(desc *isa.Description, kind isa.PatternKind) string {
	switch k := kind.(type) {
	case isa.LeafInstr:
		if inst, ok := desc.Instr(k.Instr); ok {
			return inst.Name
		}
		return fmt.Sprintf("instruction %d", k.Instr)
	case isa.ExtendTo:
		return fmt.Sprintf("extend to (size class %d, group %s)",
			k.Size, desc.GroupName(k.Group))
	default:
		return fmt.Sprintf("%T", kind)
	}
}
