// Copyright 2015 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"fmt"
	"path/filepath"

	"github.com/bytefuzz/bytefuzz/pkg/config"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

const (
	ModeSingle       = "single"
	ModeDifferential = "differential"
	ModeStateful     = "stateful"
	ModePerformance  = "performance"

	GeneratorRandom = "random"
	GeneratorSeeds  = "seeds"
)

func LoadData(data []byte) (*Config, error) {
	cfg, err := LoadPartialData(data)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg, err := LoadPartialFile(filename)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPartialData loads the config with defaults applied, but without validation.
// Callers are expected to apply overrides and then call Complete.
func LoadPartialData(data []byte) (*Config, error) {
	cfg := DefaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadPartialFile(filename string) (*Config, error) {
	cfg := DefaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultValues() *Config {
	return &Config{
		Name:               "bytefuzz",
		Seeds:              100,
		Timeout:            1000,
		MaxInputSize:       4096,
		CorpusProbability:  0.8,
		MaxMutations:       4,
		Guided:             true,
		ReportInterval:     1000,
		Generator:          GeneratorRandom,
		StatefulLength:     8,
		BaselineIterations: 20,
		AnomalyThreshold:   3.0,
		VarianceThreshold:  0.5,
	}
}

func Complete(cfg *Config) error {
	if cfg.Target == "" {
		return fmt.Errorf("config param target is empty")
	}
	if cfg.Workdir == "" {
		return fmt.Errorf("config param workdir is empty")
	}
	cfg.Workdir = osutil.Abs(cfg.Workdir)
	if cfg.CorpusDir == "" {
		cfg.CorpusDir = filepath.Join(cfg.Workdir, "corpus")
	}
	cfg.CorpusDir = osutil.Abs(cfg.CorpusDir)
	if cfg.CrashDir == "" {
		cfg.CrashDir = filepath.Join(cfg.Workdir, "crashes")
	}
	cfg.CrashDir = osutil.Abs(cfg.CrashDir)
	if cfg.CorpusDir == cfg.CrashDir {
		return fmt.Errorf("corpus_dir and crash_dir must be different")
	}
	switch cfg.Mode {
	case "", ModeSingle, ModeDifferential, ModeStateful, ModePerformance:
	default:
		return fmt.Errorf("config param mode must be one of single/differential/stateful/performance")
	}
	if cfg.Iterations < 0 {
		return fmt.Errorf("bad config param iterations: %v", cfg.Iterations)
	}
	if cfg.Seeds < 0 {
		return fmt.Errorf("bad config param seeds: %v", cfg.Seeds)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("bad config param timeout: %v, want > 0", cfg.Timeout)
	}
	if cfg.MaxInputSize <= 0 {
		return fmt.Errorf("bad config param max_input_size: %v, want > 0", cfg.MaxInputSize)
	}
	if cfg.CorpusProbability < 0 || cfg.CorpusProbability > 1 {
		return fmt.Errorf("bad config param corpus_probability: %v, want [0, 1]", cfg.CorpusProbability)
	}
	if cfg.MaxMutations < 1 {
		return fmt.Errorf("bad config param max_mutations: %v, want >= 1", cfg.MaxMutations)
	}
	if cfg.ReportInterval < 1 {
		return fmt.Errorf("bad config param report_interval: %v, want >= 1", cfg.ReportInterval)
	}
	if cfg.ResetStatsInterval < 0 {
		return fmt.Errorf("bad config param reset_stats_interval: %v", cfg.ResetStatsInterval)
	}
	switch cfg.Generator {
	case GeneratorRandom:
	case GeneratorSeeds:
		if cfg.SeedDir == "" {
			return fmt.Errorf("generator is seeds, but seed_dir is empty")
		}
		cfg.SeedDir = osutil.Abs(cfg.SeedDir)
	default:
		return fmt.Errorf("config param generator must be one of random/seeds")
	}
	if cfg.StatefulLength < 1 {
		return fmt.Errorf("bad config param stateful_length: %v, want >= 1", cfg.StatefulLength)
	}
	if cfg.BaselineIterations < 2 {
		return fmt.Errorf("bad config param baseline_iterations: %v, want >= 2", cfg.BaselineIterations)
	}
	if cfg.AnomalyThreshold <= 0 || cfg.VarianceThreshold <= 0 {
		return fmt.Errorf("anomaly_threshold and variance_threshold must be positive")
	}
	if cfg.ConfirmRuns < 0 {
		return fmt.Errorf("bad config param confirm_runs: %v", cfg.ConfirmRuns)
	}
	if cfg.JSONReport != "" {
		cfg.JSONReport = osutil.Abs(cfg.JSONReport)
	}
	return nil
}
