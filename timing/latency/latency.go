// Package latency maps the timing classes of a machine description to
// cycle counts.
//
// Decode carries each instruction's TimingClassID untouched; this
// package is where the tag gains meaning. Latencies come from a
// TimingConfig keyed by class name, so one config file can serve any
// description that uses the same class vocabulary.
package latency

import (
	"github.com/sarchlab/isasim/isa"
)

// Table provides cycle lookups for one description's timing classes.
// Class names are resolved against the config once, at construction.
type Table struct {
	config *TimingConfig
	cycles []uint64
}

// NewTable creates a latency table with default timing values.
func NewTable(desc *isa.Description) *Table {
	return NewTableWithConfig(desc, DefaultTimingConfig())
}

// NewTableWithConfig creates a latency table with a custom timing
// configuration.
func NewTableWithConfig(desc *isa.Description, config *TimingConfig) *Table {
	names := desc.TimingClassNames()
	cycles := make([]uint64, len(names))
	for i, name := range names {
		if c, ok := config.ClassLatency[name]; ok {
			cycles[i] = c
		} else {
			cycles[i] = config.DefaultLatency
		}
	}
	return &Table{
		config: config,
		cycles: cycles,
	}
}

// Cycles returns the execution latency of a timing class. Classes the
// description never declared cost the configured default.
func (t *Table) Cycles(tc isa.TimingClassID) uint64 {
	if int(tc) < 0 || int(tc) >= len(t.cycles) {
		return t.config.DefaultLatency
	}
	return t.cycles[tc]
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
