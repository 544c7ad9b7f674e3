package main

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/lwa-project/bifrost/internal/logging"
)

// Config is the benchmark configuration.
type Config struct {
	// Logging is the configuration for the logging subsystem.
	Logging logging.Config `yaml:"logging"`
	// Ring configures the ring under test.
	Ring RingConfig `yaml:"ring"`
	// Bench configures the workload.
	Bench BenchConfig `yaml:"bench"`
}

// RingConfig configures the ring under test.
type RingConfig struct {
	// Name is the registry name of the ring.
	Name string `yaml:"name"`
	// Space is the memory space: system, cuda, cuda_host or cuda_managed.
	Space string `yaml:"space"`
	// GulpSize is the contiguous span of each reservation.
	GulpSize datasize.ByteSize `yaml:"gulp_size"`
	// BufferFactor scales the gulp size to the total window.
	BufferFactor int `yaml:"buffer_factor"`
	// NRinglet is the number of parallel sub-streams.
	NRinglet int `yaml:"nringlet"`
	// Core pins the producer to a CPU core; -1 leaves it unpinned.
	Core int `yaml:"core"`
}

// BenchConfig configures the workload.
type BenchConfig struct {
	// Sequences is the number of sequences the producer emits.
	Sequences int `yaml:"sequences"`
	// GulpsPerSequence is the number of spans committed per sequence.
	GulpsPerSequence int `yaml:"gulps_per_sequence"`
	// Readers is the number of concurrent consumers.
	Readers int `yaml:"readers"`
	// Guarantee makes the consumers guaranteed readers.
	Guarantee bool `yaml:"guarantee"`
}

func DefaultConfig() *Config {
	return &Config{
		Ring: RingConfig{
			Name:         "bfbench",
			Space:        "system",
			GulpSize:     datasize.MB,
			BufferFactor: 4,
			NRinglet:     1,
			Core:         -1,
		},
		Bench: BenchConfig{
			Sequences:        4,
			GulpsPerSequence: 256,
			Readers:          1,
			Guarantee:        true,
		},
	}
}

// LoadConfig reads the config file at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Ring.GulpSize == 0 || cfg.Ring.BufferFactor < 1 || cfg.Ring.NRinglet < 1 {
		return nil, fmt.Errorf("invalid ring geometry in config")
	}
	return cfg, nil
}
