package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds per-class execution latencies. The keys are the
// timing-class names a description declares; classes without an entry
// cost DefaultLatency.
type TimingConfig struct {
	// DefaultLatency applies to timing classes without an explicit
	// entry. Default: 1 cycle.
	DefaultLatency uint64 `json:"default_latency"`

	// ClassLatency maps timing-class names to execution latencies in
	// cycles.
	ClassLatency map[string]uint64 `json:"class_latency"`
}

// DefaultTimingConfig returns a TimingConfig where every class costs a
// single cycle.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		DefaultLatency: 1,
		ClassLatency:   map[string]uint64{},
	}
}

// LoadConfig loads a TimingConfig from a JSON file.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.DefaultLatency == 0 {
		return fmt.Errorf("default_latency must be > 0")
	}
	for name, cycles := range c.ClassLatency {
		if cycles == 0 {
			return fmt.Errorf("class %q latency must be > 0", name)
		}
	}
	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := &TimingConfig{
		DefaultLatency: c.DefaultLatency,
		ClassLatency:   make(map[string]uint64, len(c.ClassLatency)),
	}
	for name, cycles := range c.ClassLatency {
		clone.ClassLatency[name] = cycles
	}
	return clone
}
