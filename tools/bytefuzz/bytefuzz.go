// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bytefuzz runs a coverage-guided fuzzing session against a registered target.
// Usage:
//
//	bytefuzz --config=session.cfg
//	bytefuzz --target=xz-roundtrip --workdir=./work --iterations=100000
//	bytefuzz --list
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/manager"
	"github.com/bytefuzz/bytefuzz/pkg/mgrconfig"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
	"github.com/bytefuzz/bytefuzz/pkg/targets"
	"github.com/bytefuzz/bytefuzz/pkg/tool"
	"github.com/spf13/pflag"
)

var (
	flagConfig       = pflag.String("config", "", "session config file (optional)")
	flagList         = pflag.Bool("list", false, "list registered targets and exit")
	flagVerbose      = pflag.IntP("verbose", "v", 0, "log verbosity")
	flagTarget       = pflag.String("target", "", "target to fuzz")
	flagTargetConfig = pflag.String("target-config", "", "target config as a JSON object")
	flagMode         = pflag.String("mode", "", "execution mode (single/differential/stateful/performance)")
	flagWorkdir      = pflag.String("workdir", "", "working directory")
	flagIterations   = pflag.Int("iterations", 0, "number of iterations, 0 means until interrupted")
	flagSeeds        = pflag.Int("seeds", 0, "number of generated seed inputs")
	flagRandomSeed   = pflag.Int64("seed", 0, "random seed")
	flagTimeout      = pflag.Int("timeout", 0, "per-execution timeout in milliseconds")
	flagMaxSize      = pflag.Int("max-input-size", 0, "max input size in bytes")
	flagGuided       = pflag.Bool("guided", true, "use coverage-guided mutator selection")
	flagEnhanced     = pflag.Bool("enhanced-coverage", false, "track value diversity and execution paths")
	flagSeedDir      = pflag.String("seed-dir", "", "use files from this dir as seeds")
	flagHTTP         = pflag.String("http", "", "serve status page on this address")
	flagJSONReport   = pflag.String("json-report", "", "write JSON reports to this file")
	flagMinimize     = pflag.Bool("minimize", false, "minimize corpus at the end of the session")
)

func main() {
	defer tool.Init()()
	log.SetVerbosity(*flagVerbose)
	if *flagList {
		for _, name := range targets.List() {
			fmt.Printf("%-16v %v\n", name, targets.Description(name))
		}
		return
	}
	cfg, err := loadConfig()
	if err != nil {
		tool.Fail(err)
	}
	session, err := manager.NewSession(cfg)
	if err != nil {
		tool.Fail(err)
	}
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdown
		cancel()
	}()
	st, err := session.Run(ctx)
	cancel()
	if err != nil {
		tool.Fail(err)
	}
	if st.Crashes != 0 {
		fmt.Fprintf(os.Stderr, "%v crashes in %v\n", st.Crashes, cfg.CrashDir)
	}
}

func loadConfig() (*mgrconfig.Config, error) {
	cfg := mgrconfig.DefaultValues()
	if *flagConfig != "" {
		var err error
		if cfg, err = mgrconfig.LoadPartialFile(*flagConfig); err != nil {
			return nil, err
		}
	}
	changed := pflag.CommandLine.Changed
	if changed("target") {
		cfg.Target = *flagTarget
	}
	if changed("target-config") {
		if !json.Valid([]byte(*flagTargetConfig)) {
			return nil, fmt.Errorf("--target-config is not valid JSON")
		}
		cfg.TargetConfig = json.RawMessage(*flagTargetConfig)
	}
	if changed("mode") {
		cfg.Mode = *flagMode
	}
	if changed("workdir") {
		cfg.Workdir = *flagWorkdir
	}
	if changed("iterations") {
		cfg.Iterations = *flagIterations
	}
	if changed("seeds") {
		cfg.Seeds = *flagSeeds
	}
	if changed("seed") {
		cfg.RandomSeed = *flagRandomSeed
	}
	if changed("timeout") {
		cfg.Timeout = *flagTimeout
	}
	if changed("max-input-size") {
		cfg.MaxInputSize = *flagMaxSize
	}
	if changed("guided") {
		cfg.Guided = *flagGuided
	}
	if changed("enhanced-coverage") {
		cfg.EnhancedCoverage = *flagEnhanced
	}
	if changed("seed-dir") {
		cfg.SeedDir = *flagSeedDir
		cfg.Generator = mgrconfig.GeneratorSeeds
	}
	if changed("http") {
		cfg.HTTP = *flagHTTP
	}
	if changed("json-report") {
		cfg.JSONReport = *flagJSONReport
	}
	if changed("minimize") {
		cfg.Minimize = *flagMinimize
	}
	if err := mgrconfig.Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
