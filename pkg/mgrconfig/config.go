// Copyright 2015 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"encoding/json"
	"time"
)

type Config struct {
	// Session name (used for identification in logs and crash metadata).
	Name string `json:"name"`
	// Registered target name, e.g. "xz-roundtrip" or "json-decoders".
	Target string `json:"target"`
	// Target-specific parameters, interpreted by the target factory.
	TargetConfig json.RawMessage `json:"target_config,omitempty"`
	// Execution mode: "single", "differential", "stateful" or "performance".
	// Empty means the default mode of the target.
	Mode string `json:"mode,omitempty"`
	// Location of a working directory for the session. Outputs here include:
	// - <workdir>/corpus/*: interesting inputs and their coverage
	// - <workdir>/crashes/*: crashing inputs and their metadata
	Workdir string `json:"workdir"`
	// Override corpus and crash directories (default to subdirectories of workdir).
	CorpusDir string `json:"corpus_dir,omitempty"`
	CrashDir  string `json:"crash_dir,omitempty"`
	// Address to serve the status page and metrics on (e.g. "localhost:56741", optional).
	HTTP string `json:"http,omitempty"`

	// Number of fuzzing iterations, 0 means run until interrupted.
	Iterations int `json:"iterations"`
	// Number of generated seed inputs when the corpus is empty.
	Seeds int `json:"seeds"`
	// Random seed, 0 means seed from the current time.
	RandomSeed int64 `json:"random_seed,omitempty"`
	// Per-execution timeout in milliseconds.
	Timeout int `json:"timeout"`
	MaxInputSize int `json:"max_input_size"`
	// Probability of mutating a corpus input instead of generating a fresh one.
	CorpusProbability float64 `json:"corpus_probability"`
	// Up to this many mutations are applied to a corpus input.
	MaxMutations int `json:"max_mutations"`

	// Use coverage-guided mutator selection.
	Guided bool `json:"guided"`
	// Reset guided mutator statistics every N iterations (0 disables).
	ResetStatsInterval int `json:"reset_stats_interval,omitempty"`
	// Track value diversity and execution paths in addition to plain coverage.
	EnhancedCoverage bool `json:"enhanced_coverage,omitempty"`

	// Emit a progress snapshot every N iterations.
	ReportInterval int `json:"report_interval"`
	// Also write statistics and crashes as JSON lines to this file (optional).
	JSONReport string `json:"json_report,omitempty"`

	// Input generator: "random" or "seeds" (files from seed_dir, then random).
	Generator string `json:"generator"`
	SeedDir   string `json:"seed_dir,omitempty"`

	// Stateful mode: number of inputs in a sequence and whether the target is reset between them.
	StatefulLength int  `json:"stateful_length,omitempty"`
	ResetBetween   bool `json:"reset_between,omitempty"`

	// Performance mode: number of runs used to establish the baseline,
	// the allowed ratio of a single run to the baseline mean
	// and the allowed stddev/mean ratio while establishing the baseline.
	BaselineIterations int     `json:"baseline_iterations,omitempty"`
	AnomalyThreshold   float64 `json:"anomaly_threshold,omitempty"`
	VarianceThreshold  float64 `json:"variance_threshold,omitempty"`
	// Rerun anomalous inputs this many times and attach a U-test p-value (0 disables).
	ConfirmRuns int `json:"confirm_runs,omitempty"`

	// Minimize the corpus after the session finishes.
	Minimize bool `json:"minimize,omitempty"`
}

func (cfg *Config) ExecTimeout() time.Duration {
	return time.Duration(cfg.Timeout) * time.Millisecond
}
