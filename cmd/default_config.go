package cmd

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/phold-sim/sim"
)

// Preset is a named run configuration in defaults.yaml. Unset fields keep the
// built-in default.
type Preset struct {
	NumLPs        *int     `yaml:"num_lps"`
	WorkGroupSize *int     `yaml:"work_group_size"`
	StopTime      *float32 `yaml:"stop_time"`
	Lookahead     *float32 `yaml:"lookahead"`
	MeanDelay     *float32 `yaml:"mean_delay"`
	LocalRate     *float64 `yaml:"local_rate"`
	Seed          *int64   `yaml:"seed"`
	Reducer       *string  `yaml:"reducer"`
	Workers       *int     `yaml:"workers"`
}

// Config represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Version string            `yaml:"version"`
	Presets map[string]Preset `yaml:"presets"`
}

// loadDefaultsConfig parses defaults.yaml into a Config struct.
// Uses strict field checking: typos must cause errors.
func loadDefaultsConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read defaults file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse defaults YAML %s: %w", path, err)
	}
	return cfg, nil
}

// GetPreset returns the named preset from the defaults file at path.
func GetPreset(path, name string) (Preset, error) {
	cfg, err := loadDefaultsConfig(path)
	if err != nil {
		return Preset{}, err
	}
	p, ok := cfg.Presets[name]
	if !ok {
		names := make([]string, 0, len(cfg.Presets))
		for n := range cfg.Presets {
			names = append(names, n)
		}
		sort.Strings(names)
		return Preset{}, fmt.Errorf("unknown preset %q in %s; available: %v", name, path, names)
	}
	return p, nil
}

// applyTo overwrites the fields of cfg that the preset sets.
func (p Preset) applyTo(cfg *sim.Config) {
	if p.NumLPs != nil {
		cfg.NumLPs = *p.NumLPs
	}
	if p.WorkGroupSize != nil {
		cfg.WorkGroupSize = *p.WorkGroupSize
	}
	if p.StopTime != nil {
		cfg.StopTime = *p.StopTime
	}
	if p.Lookahead != nil {
		cfg.Lookahead = *p.Lookahead
	}
	if p.MeanDelay != nil {
		cfg.MeanDelay = *p.MeanDelay
	}
	if p.LocalRate != nil {
		cfg.LocalRate = *p.LocalRate
	}
	if p.Seed != nil {
		cfg.Seed = *p.Seed
	}
	if p.Reducer != nil {
		cfg.Reducer = *p.Reducer
	}
	if p.Workers != nil {
		cfg.Workers = *p.Workers
	}
}
