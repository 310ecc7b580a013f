// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bytefuzz-repro re-executes inputs against the target of a session config.
// Usage:
//
//	bytefuzz-repro --config=session.cfg input1 input2
//	bytefuzz-repro --config=session.cfg --crash=3f2a...,91bc...
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/manager"
	"github.com/bytefuzz/bytefuzz/pkg/mgrconfig"
	"github.com/bytefuzz/bytefuzz/pkg/report"
	"github.com/bytefuzz/bytefuzz/pkg/tool"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	flagConfig  = pflag.String("config", "", "session config file")
	flagMode    = pflag.String("mode", "", "override execution mode")
	flagRepeat  = pflag.Int("repeat", 1, "execute every input this many times")
	flagVerbose = pflag.IntP("verbose", "v", 0, "log verbosity")
	flagCrashes tool.ListFlag
)

func main() {
	pflag.Var(&flagCrashes, "crash", "comma-separated ids of crashes from crash_dir")
	defer tool.Init()()
	log.SetVerbosity(*flagVerbose)
	if *flagConfig == "" || (len(pflag.Args()) == 0 && len(flagCrashes) == 0) {
		tool.Failf("usage: bytefuzz-repro --config=session.cfg [--crash=id,...] [input...]")
	}
	cfg, err := mgrconfig.LoadFile(*flagConfig)
	if err != nil {
		tool.Failf("%v: %v", *flagConfig, err)
	}
	if *flagMode != "" {
		cfg.Mode = *flagMode
	}
	rep, err := manager.NewReproducer(cfg)
	if err != nil {
		tool.Fail(err)
	}
	files := pflag.Args()
	for _, id := range flagCrashes {
		files = append(files, filepath.Join(cfg.CrashDir, id))
	}
	crashed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			tool.Fail(err)
		}
		for i := 0; i < *flagRepeat; i++ {
			res, err := rep.Run(context.Background(), data)
			if err != nil {
				tool.Fail(err)
			}
			printResult(file, res)
			if res.Outcome.IsCrash() {
				crashed++
			}
		}
	}
	if crashed != 0 {
		os.Exit(2)
	}
}

func printResult(file string, res *executor.Result) {
	fmt.Printf("%v: %v\n", file, res)
	if !res.Outcome.IsCrash() {
		return
	}
	fmt.Printf("title: %v\n", report.Title(res))
	meta, err := yaml.Marshal(corpus.MetaFromResult(res))
	if err != nil {
		tool.Fail(err)
	}
	os.Stdout.Write(meta)
	if len(res.Stack) != 0 {
		os.Stdout.Write(res.Stack)
	}
}
