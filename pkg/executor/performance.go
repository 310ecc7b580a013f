// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/bytefuzz/bytefuzz/pkg/stats"
)

// Baseline is the expected execution time of an input.
type Baseline struct {
	Mean    time.Duration
	StdDev  time.Duration
	Count   int
	Samples []time.Duration
}

// RelStdDev returns StdDev/Mean, or 0 if Mean is 0.
func (b Baseline) RelStdDev() float64 {
	if b.Mean <= 0 {
		return 0
	}
	return float64(b.StdDev) / float64(b.Mean)
}

type PerformanceInfo struct {
	Baseline Baseline
	// Ratio is stddev/mean for repeated executions, or elapsed/baseline mean for a single run.
	Ratio     float64
	Threshold float64
	// PValue of the U-test between the baseline and repeated runs, set by ConfirmAnomaly.
	PValue    float64
	Confirmed bool
}

// ExecutePerformance runs the input iterations times and flags PerformanceAnomaly
// if the relative standard deviation of execution times exceeds threshold.
func (ex *Executor) ExecutePerformance(ctx context.Context, target Target, data []byte,
	iterations int, threshold float64) *Result {
	res := newResult(data)
	samples, sig, failed := ex.measure(ctx, target, data, iterations, res)
	res.Signal = sig
	if failed {
		return res
	}
	baseline := newBaseline(samples)
	res.Elapsed = baseline.Mean
	info := &PerformanceInfo{
		Baseline:  baseline,
		Ratio:     baseline.RelStdDev(),
		Threshold: threshold,
	}
	res.Performance = info
	if baseline.Mean > 0 && info.Ratio > threshold {
		res.Outcome = PerformanceAnomaly
		res.Err = fmt.Sprintf("unstable execution time: mean %v, stddev %v (ratio %.3f > %.3f)",
			baseline.Mean, baseline.StdDev, info.Ratio, threshold)
		res.ErrKind = "unstable"
		return res
	}
	res.Interesting = ex.interesting(sig)
	return res
}

// EstablishBaseline measures the execution time of the input over iterations runs.
// The returned result is not Success if any of the runs failed.
func (ex *Executor) EstablishBaseline(ctx context.Context, target Target, data []byte,
	iterations int) (Baseline, *Result) {
	res := ex.ExecutePerformance(ctx, target, data, iterations, math.Inf(1))
	if res.Performance == nil {
		return Baseline{}, res
	}
	return res.Performance.Baseline, res
}

// CheckPerformance runs the input once and flags PerformanceAnomaly
// if its execution time exceeds threshold times the baseline mean.
func (ex *Executor) CheckPerformance(ctx context.Context, target Target, data []byte,
	baseline Baseline, threshold float64) *Result {
	res := ex.Execute(ctx, target, data)
	if res.Outcome != Success || baseline.Mean <= 0 {
		return res
	}
	info := &PerformanceInfo{
		Baseline:  baseline,
		Ratio:     float64(res.Elapsed) / float64(baseline.Mean),
		Threshold: threshold,
	}
	res.Performance = info
	if info.Ratio > threshold {
		res.Outcome = PerformanceAnomaly
		res.Err = fmt.Sprintf("slow execution: %v vs baseline %v (ratio %.3f > %.3f)",
			res.Elapsed, baseline.Mean, info.Ratio, threshold)
		res.ErrKind = "slow"
		res.Interesting = false
	}
	return res
}

// ConfirmAnomaly reruns an input flagged by CheckPerformance and attaches
// the p-value of the Mann-Whitney U-test of the new runs against the baseline samples.
func (ex *Executor) ConfirmAnomaly(ctx context.Context, target Target, res *Result, runs int) error {
	if res.Performance == nil || len(res.Performance.Baseline.Samples) == 0 {
		return fmt.Errorf("result has no performance baseline")
	}
	tmp := newResult(res.Input)
	samples, _, failed := ex.measure(ctx, target, res.Input, runs, tmp)
	if failed {
		return fmt.Errorf("rerun failed: %v", tmp.Err)
	}
	pval, err := stats.UTest(stats.FromDurations(res.Performance.Baseline.Samples),
		stats.FromDurations(samples))
	if err != nil {
		return fmt.Errorf("u-test failed: %w", err)
	}
	const significance = 0.05
	res.Performance.PValue = pval
	res.Performance.Confirmed = pval < significance &&
		newBaseline(samples).Mean > res.Performance.Baseline.Mean
	return nil
}

func (ex *Executor) measure(ctx context.Context, target Target, data []byte, iterations int,
	res *Result) ([]time.Duration, signal.Signal, bool) {
	var sig signal.Signal
	var samples []time.Duration
	for i := 0; i < iterations; i++ {
		inv := ex.invoke(ctx, target, data)
		if ex.fill(res, inv) {
			res.Elapsed = inv.elapsed
			res.Err = fmt.Sprintf("run %v: %v", i, res.Err)
			return nil, sig, true
		}
		sig.Merge(inv.cover)
		samples = append(samples, inv.elapsed)
	}
	return samples, sig, false
}

func newBaseline(samples []time.Duration) Baseline {
	s := stats.FromDurations(samples)
	return Baseline{
		Mean:    time.Duration(s.Mean() * float64(time.Second)),
		StdDev:  time.Duration(s.StdDev() * float64(time.Second)),
		Count:   len(samples),
		Samples: samples,
	}
}
