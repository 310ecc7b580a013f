// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"fmt"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/mgrconfig"
	"github.com/bytefuzz/bytefuzz/pkg/targets"
)

// Reproducer re-executes stored inputs against a freshly instantiated target.
type Reproducer struct {
	Cfg  *mgrconfig.Config
	Mode fuzzer.Mode
	Spec targets.Spec
	exec *executor.Executor
}

func NewReproducer(cfg *mgrconfig.Config) (*Reproducer, error) {
	spec, err := targets.Lookup(targets.Options{Name: cfg.Target, Config: cfg.TargetConfig})
	if err != nil {
		return nil, err
	}
	mode, err := ResolveMode(cfg, &spec)
	if err != nil {
		return nil, err
	}
	return &Reproducer{
		Cfg:  cfg,
		Mode: mode,
		Spec: spec,
		exec: executor.New(executor.Config{Timeout: cfg.ExecTimeout()}),
	}, nil
}

// Run executes the input the same way the fuzzer does in the configured mode.
// In performance mode the input is measured over baseline_iterations runs and
// flagged if the execution time is unstable.
func (rep *Reproducer) Run(ctx context.Context, data []byte) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch rep.Mode {
	case fuzzer.ModeSingle:
		return rep.exec.Execute(ctx, rep.Spec.Target, data), nil
	case fuzzer.ModeDifferential:
		return rep.exec.ExecuteDifferential(ctx, data, rep.Spec.Impls), nil
	case fuzzer.ModeStateful:
		if resetter, ok := rep.Spec.Target.(executor.Resetter); ok {
			resetter.Reset()
		}
		inputs := executor.SplitInputs(data, rep.Cfg.StatefulLength)
		return rep.exec.ExecuteStateful(ctx, rep.Spec.Target, inputs, rep.Cfg.ResetBetween), nil
	case fuzzer.ModePerformance:
		return rep.exec.ExecutePerformance(ctx, rep.Spec.Target, data,
			rep.Cfg.BaselineIterations, rep.Cfg.VarianceThreshold), nil
	}
	return nil, fmt.Errorf("unsupported mode %v", rep.Mode)
}
