// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the main fuzzing loop: it seeds the corpus, then repeatedly
// picks and mutates inputs, executes them and feeds the results back into
// the corpus, the crash archive and the mutation strategy.
package fuzzer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/generator"
	"github.com/bytefuzz/bytefuzz/pkg/learning"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/stat"
)

var ErrConfig = errors.New("bad fuzzer config")

type Mode int

const (
	ModeSingle Mode = iota
	ModeDifferential
	ModeStateful
	ModePerformance
)

var modeNames = [...]string{
	ModeSingle:       "single",
	ModeDifferential: "differential",
	ModeStateful:     "stateful",
	ModePerformance:  "performance",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
}

type Config struct {
	Mode Mode
	// Iterations is the number of fuzzing iterations, 0 means run until the context is cancelled.
	Iterations int
	// Seeds is the number of generated inputs used to seed an empty corpus.
	Seeds        int
	MaxInputSize int
	// CorpusProbability is the chance to mutate a corpus input instead of generating a new one.
	CorpusProbability float64
	MaxMutations      int
	// ReportInterval is the number of iterations between progress reports.
	ReportInterval int
	// ResetStatsInterval is the number of iterations between resets of guided mutation statistics,
	// 0 disables resets.
	ResetStatsInterval int

	BaselineIterations int
	// AnomalyThreshold is the allowed ratio of a single run time to the baseline mean.
	AnomalyThreshold float64
	// VarianceThreshold is the allowed relative standard deviation of the baseline runs.
	VarianceThreshold float64
	// ConfirmRuns is the number of reruns used to confirm a performance anomaly, 0 disables it.
	ConfirmRuns int

	// StatefulLength is the number of steps an input is split into.
	StatefulLength int
	ResetBetween   bool
}

func DefaultConfig() Config {
	return Config{
		Mode:               ModeSingle,
		Seeds:              100,
		MaxInputSize:       4096,
		CorpusProbability:  0.8,
		MaxMutations:       4,
		ReportInterval:     1000,
		BaselineIterations: 20,
		AnomalyThreshold:   3.0,
		VarianceThreshold:  0.5,
		StatefulLength:     8,
	}
}

// Reporter receives the results of a fuzzing session.
type Reporter interface {
	ReportProgress(Progress)
	ReportStatistics(Statistics)
	ReportCrash(data []byte, res *executor.Result)
}

// Deps are the collaborators of the fuzzing loop.
type Deps struct {
	Corpus   *corpus.Corpus
	Executor *executor.Executor
	// Mutator may additionally implement mutation.Feedback.
	Mutator   mutation.Strategy
	Generator generator.Generator
	// Target is used in all modes except differential.
	Target executor.Target
	// Impls are the implementations compared in differential mode.
	Impls     []executor.Named
	Reporters []Reporter
	Rand      *rand.Rand
	Stats     *stat.Set
}

type Fuzzer struct {
	Stats
	Config   Config
	corpus   *corpus.Corpus
	exec     *executor.Executor
	mutator  mutation.Strategy
	feedback mutation.Feedback
	gen      generator.Generator
	target   executor.Target
	impls    []executor.Named
	reps     []Reporter
	rnd      *rand.Rand
	started  atomic.Bool

	baseline executor.Baseline
	recent   *learning.RunningRatioAverage[float64]

	mu          sync.Mutex
	start       time.Time
	iterations  int
	executions  int
	interesting int
	newCrashes  int
	panics      int
	outcomes    map[executor.Outcome]int
}

func New(cfg Config, deps Deps) (*Fuzzer, error) {
	def := DefaultConfig()
	if cfg.MaxInputSize <= 0 {
		cfg.MaxInputSize = def.MaxInputSize
	}
	if cfg.MaxMutations <= 0 {
		cfg.MaxMutations = def.MaxMutations
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = def.ReportInterval
	}
	if cfg.BaselineIterations <= 0 {
		cfg.BaselineIterations = def.BaselineIterations
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = def.AnomalyThreshold
	}
	if cfg.VarianceThreshold <= 0 {
		cfg.VarianceThreshold = def.VarianceThreshold
	}
	if cfg.StatefulLength <= 0 {
		cfg.StatefulLength = def.StatefulLength
	}
	if cfg.Iterations < 0 || cfg.Seeds < 0 || cfg.ResetStatsInterval < 0 || cfg.ConfirmRuns < 0 {
		return nil, fmt.Errorf("%w: negative iteration count", ErrConfig)
	}
	if cfg.CorpusProbability < 0 || cfg.CorpusProbability > 1 {
		return nil, fmt.Errorf("%w: corpus probability %v is not in [0, 1]", ErrConfig, cfg.CorpusProbability)
	}
	if cfg.Mode < 0 || int(cfg.Mode) >= len(modeNames) {
		return nil, fmt.Errorf("%w: unknown mode %v", ErrConfig, cfg.Mode)
	}
	if cfg.BaselineIterations < 2 && cfg.Mode == ModePerformance {
		return nil, fmt.Errorf("%w: need at least 2 baseline iterations", ErrConfig)
	}
	if deps.Corpus == nil || deps.Executor == nil || deps.Mutator == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: missing corpus, executor, mutator or generator", ErrConfig)
	}
	if cfg.Mode == ModeDifferential {
		if len(deps.Impls) < 2 {
			return nil, fmt.Errorf("%w: differential mode needs at least 2 implementations, got %v",
				ErrConfig, len(deps.Impls))
		}
	} else if deps.Target == nil {
		return nil, fmt.Errorf("%w: no target", ErrConfig)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Stats == nil {
		deps.Stats = stat.NewSet()
	}
	fuzzer := &Fuzzer{
		Stats:    newStats(deps.Stats, deps.Corpus),
		Config:   cfg,
		corpus:   deps.Corpus,
		exec:     deps.Executor,
		mutator:  deps.Mutator,
		gen:      deps.Generator,
		target:   deps.Target,
		impls:    deps.Impls,
		reps:     deps.Reporters,
		rnd:      deps.Rand,
		recent:   learning.NewRunningRatioAverage[float64](recentWindow),
		outcomes: make(map[executor.Outcome]int),
	}
	fuzzer.feedback, _ = deps.Mutator.(mutation.Feedback)
	return fuzzer, nil
}

const recentWindow = 1000

// Run executes the fuzzing session. It can be called only once.
// The final statistics are sent to the reporters even if Run fails.
func (fuzzer *Fuzzer) Run(ctx context.Context) (Statistics, error) {
	if !fuzzer.started.CompareAndSwap(false, true) {
		return Statistics{}, fmt.Errorf("fuzzer is already started")
	}
	fuzzer.mu.Lock()
	fuzzer.start = time.Now()
	fuzzer.mu.Unlock()
	err := fuzzer.run(ctx)
	st := fuzzer.Statistics()
	for _, rep := range fuzzer.reps {
		rep.ReportStatistics(st)
	}
	log.Logf(0, "fuzzing finished: %v", &st)
	return st, err
}

func (fuzzer *Fuzzer) run(ctx context.Context) error {
	if fuzzer.corpus.Len() == 0 {
		if err := fuzzer.seed(ctx); err != nil {
			return err
		}
	}
	if fuzzer.Config.Mode == ModePerformance {
		if err := fuzzer.establishBaseline(ctx); err != nil {
			return err
		}
	}
	total := fuzzer.Config.Iterations
	for i := 1; total == 0 || i <= total; i++ {
		if ctx.Err() != nil {
			log.Logf(0, "fuzzing cancelled after %v iterations", i-1)
			return nil
		}
		if err := fuzzer.iteration(ctx); err != nil {
			return err
		}
		if i%fuzzer.Config.ReportInterval == 0 {
			fuzzer.reportProgress(i)
		}
		if g, ok := fuzzer.mutator.(*mutation.Guided); ok && fuzzer.Config.ResetStatsInterval != 0 &&
			i%fuzzer.Config.ResetStatsInterval == 0 {
			log.Logf(1, "resetting mutator statistics after %v iterations", i)
			g.ResetStats()
		}
	}
	return nil
}

func (fuzzer *Fuzzer) seed(ctx context.Context) error {
	seeded := 0
	for i := 0; i < fuzzer.Config.Seeds && ctx.Err() == nil; i++ {
		data, err := fuzzer.gen.Generate(fuzzer.rnd, fuzzer.Config.MaxInputSize)
		if err != nil {
			if !errors.Is(err, generator.ErrExhausted) {
				log.Logf(0, "seeding stopped: %v", err)
			}
			break
		}
		res := fuzzer.execute(ctx, data)
		added, err := fuzzer.handle(data, res, nil)
		if err != nil {
			return err
		}
		if added && !res.Outcome.IsCrash() {
			seeded++
		}
	}
	log.Logf(0, "seeded corpus with %v inputs", seeded)
	return nil
}

// establishBaseline measures the timing of a corpus input. An unstable baseline
// is archived as an anomaly, but the loop still runs against its mean.
func (fuzzer *Fuzzer) establishBaseline(ctx context.Context) error {
	data := fuzzer.corpus.Sample(fuzzer.rnd)
	if data == nil {
		var err error
		data, err = fuzzer.generate()
		if err != nil {
			return err
		}
	}
	res := fuzzer.exec.ExecutePerformance(ctx, fuzzer.target, data,
		fuzzer.Config.BaselineIterations, fuzzer.Config.VarianceThreshold)
	if res.Performance == nil {
		return fmt.Errorf("failed to establish performance baseline: %v", res.Err)
	}
	fuzzer.baseline = res.Performance.Baseline
	log.Logf(0, "performance baseline: mean %v, stddev %v over %v runs",
		fuzzer.baseline.Mean, fuzzer.baseline.StdDev, fuzzer.baseline.Count)
	if res.Outcome == executor.PerformanceAnomaly {
		if _, err := fuzzer.handle(data, res, nil); err != nil {
			return err
		}
	}
	return nil
}

// Baseline returns the performance baseline, it's zero outside of performance mode.
func (fuzzer *Fuzzer) Baseline() executor.Baseline {
	return fuzzer.baseline
}

func (fuzzer *Fuzzer) iteration(ctx context.Context) (err error) {
	var data []byte
	defer func() {
		e := recover()
		fuzzer.mu.Lock()
		fuzzer.iterations++
		if e != nil {
			fuzzer.panics++
			fuzzer.outcomes[executor.Exception]++
		}
		fuzzer.mu.Unlock()
		if e != nil {
			log.Errorf("fuzzing iteration panicked on %v bytes: %v\n%s", len(data), e, debug.Stack())
			fuzzer.statLoopPanics.Add(1)
			err = nil
		}
	}()
	var mutators []mutation.Mutator
	if base := fuzzer.pickCorpus(); base != nil {
		data = base
		n := 1 + fuzzer.rnd.Intn(fuzzer.Config.MaxMutations)
		for i := 0; i < n; i++ {
			var m mutation.Mutator
			data, m = fuzzer.mutator.Mutate(fuzzer.rnd, data)
			if m != nil {
				mutators = append(mutators, m)
			}
		}
		fuzzer.statExecFuzz.Add(1)
	} else {
		data, err = fuzzer.generate()
		if err != nil {
			return err
		}
		fuzzer.statExecGen.Add(1)
	}
	res := fuzzer.execute(ctx, data)
	_, err = fuzzer.handle(data, res, mutators)
	return err
}

func (fuzzer *Fuzzer) pickCorpus() []byte {
	if fuzzer.rnd.Float64() >= fuzzer.Config.CorpusProbability {
		return nil
	}
	return fuzzer.corpus.Sample(fuzzer.rnd)
}

func (fuzzer *Fuzzer) generate() ([]byte, error) {
	data, err := fuzzer.gen.Generate(fuzzer.rnd, fuzzer.Config.MaxInputSize)
	if err == nil {
		return data, nil
	}
	log.Logf(2, "generator failed, using random input: %v", err)
	return generator.Random{}.Generate(fuzzer.rnd, fuzzer.Config.MaxInputSize)
}

func (fuzzer *Fuzzer) execute(ctx context.Context, data []byte) *executor.Result {
	switch fuzzer.Config.Mode {
	case ModeDifferential:
		return fuzzer.exec.ExecuteDifferential(ctx, data, fuzzer.impls)
	case ModeStateful:
		if resetter, ok := fuzzer.target.(executor.Resetter); ok {
			resetter.Reset()
		}
		inputs := executor.SplitInputs(data, fuzzer.Config.StatefulLength)
		return fuzzer.exec.ExecuteStateful(ctx, fuzzer.target, inputs, fuzzer.Config.ResetBetween)
	case ModePerformance:
		res := fuzzer.exec.CheckPerformance(ctx, fuzzer.target, data, fuzzer.baseline,
			fuzzer.Config.AnomalyThreshold)
		if res.Outcome == executor.PerformanceAnomaly && fuzzer.Config.ConfirmRuns > 0 {
			fuzzer.confirm(ctx, res)
		}
		return res
	default:
		return fuzzer.exec.Execute(ctx, fuzzer.target, data)
	}
}

// confirm downgrades a single slow run to success unless reruns confirm the slowdown.
func (fuzzer *Fuzzer) confirm(ctx context.Context, res *executor.Result) {
	if err := fuzzer.exec.ConfirmAnomaly(ctx, fuzzer.target, res, fuzzer.Config.ConfirmRuns); err != nil {
		log.Logf(1, "failed to confirm performance anomaly: %v", err)
		return
	}
	if res.Performance.Confirmed {
		return
	}
	log.Logf(2, "performance anomaly not confirmed (p=%.3f)", res.Performance.PValue)
	res.Outcome = executor.Success
	res.Err = ""
	res.ErrKind = ""
}

// handle accounts an executed input and routes it to the corpus or the crash archive.
func (fuzzer *Fuzzer) handle(data []byte, res *executor.Result, mutators []mutation.Mutator) (bool, error) {
	crashed := res.Outcome.IsCrash()
	added, err := fuzzer.corpus.AddIfInteresting(data, res)
	if err != nil {
		return false, fmt.Errorf("failed to save input: %w", err)
	}
	fuzzer.recordValues(res)
	fuzzer.statExecTotal.Add(1)
	fuzzer.statExecTime.Add(int(res.Elapsed / time.Microsecond))
	fuzzer.statInputSize.Add(len(data))
	fuzzer.avgExecTime.Save(res.Elapsed)
	fuzzer.avgInputSize.Save(float64(len(data)))
	newCoverage := added && !crashed
	fuzzer.mu.Lock()
	fuzzer.executions++
	fuzzer.outcomes[res.Outcome]++
	if newCoverage {
		fuzzer.interesting++
	}
	if added && crashed {
		fuzzer.newCrashes++
	}
	fuzzer.mu.Unlock()
	if newCoverage {
		fuzzer.statNewInputs.Add(1)
		fuzzer.recent.Save(1, 1)
	} else {
		fuzzer.recent.Save(0, 1)
	}
	if added && crashed {
		fuzzer.statNewCrashes.Add(1)
		log.Logf(0, "new crash: %v", res)
		for _, rep := range fuzzer.reps {
			rep.ReportCrash(data, res)
		}
	}
	if fuzzer.feedback != nil {
		for _, m := range mutators {
			fuzzer.feedback.RecordFeedback(m.Name(), newCoverage, crashed, res.Elapsed)
		}
	}
	return added, nil
}

// recordValues feeds the values observed by a successful execution into the tracker.
// It runs after corpus admission: value points never make an input novel by themselves.
func (fuzzer *Fuzzer) recordValues(res *executor.Result) {
	if res.Outcome != executor.Success {
		return
	}
	reporter, ok := fuzzer.target.(executor.ValueReporter)
	if !ok {
		return
	}
	tracker, ok := fuzzer.corpus.Tracker().(cover.ValueTracker)
	if !ok {
		return
	}
	for p, v := range reporter.Values() {
		tracker.RecordValue(p, v)
	}
}

func (fuzzer *Fuzzer) reportProgress(iter int) {
	p := Progress{
		Iteration:     iter,
		Total:         fuzzer.Config.Iterations,
		RecentNewRate: fuzzer.recent.Load(),
		Statistics:    fuzzer.Statistics(),
	}
	for _, rep := range fuzzer.reps {
		rep.ReportProgress(p)
	}
}

// Statistics returns a snapshot of the session statistics.
func (fuzzer *Fuzzer) Statistics() Statistics {
	cs := fuzzer.corpus.Stats()
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	st := Statistics{
		Iterations:   fuzzer.iterations,
		Executions:   fuzzer.executions,
		Interesting:  fuzzer.interesting,
		NewCrashes:   fuzzer.newCrashes,
		CorpusSize:   cs.Items,
		Crashes:      cs.Crashes,
		Coverage:     fuzzer.corpus.Tracker().Count(),
		LoopPanics:   fuzzer.panics,
		Outcomes:     make(map[string]int),
		AvgExecTime:  fuzzer.avgExecTime.Value(),
		AvgInputSize: fuzzer.avgInputSize.Value(),
	}
	for outcome, n := range fuzzer.outcomes {
		st.Outcomes[outcome.String()] = n
	}
	if !fuzzer.start.IsZero() {
		st.Elapsed = time.Since(fuzzer.start)
		if secs := st.Elapsed.Seconds(); secs > 0 {
			st.ExecsPerSec = float64(st.Executions) / secs
		}
	}
	if g, ok := fuzzer.mutator.(*mutation.Guided); ok {
		st.Mutators = g.Stats()
	}
	return st
}
