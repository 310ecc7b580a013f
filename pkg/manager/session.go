// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package manager builds a fuzzing session from a config file and serves its status over HTTP.
package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/generator"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/mgrconfig"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/report"
	"github.com/bytefuzz/bytefuzz/pkg/stat"
	"github.com/bytefuzz/bytefuzz/pkg/targets"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Session is a fully wired fuzzing session.
type Session struct {
	ID        string
	Cfg       *mgrconfig.Config
	Mode      fuzzer.Mode
	Spec      targets.Spec
	Corpus    *corpus.Corpus
	Executor  *executor.Executor
	Fuzzer    *fuzzer.Fuzzer
	Stats     *stat.Set
	StartTime time.Time

	jsonReport *report.JSON
}

// ResolveMode returns the configured mode, or the default mode of the target.
func ResolveMode(cfg *mgrconfig.Config, spec *targets.Spec) (fuzzer.Mode, error) {
	if cfg.Mode == "" {
		return spec.DefaultMode, nil
	}
	mode, err := fuzzer.ParseMode(cfg.Mode)
	if err != nil {
		return 0, err
	}
	if !spec.Supports(mode) {
		return 0, fmt.Errorf("%w: target %v does not support mode %v", fuzzer.ErrConfig, cfg.Target, mode)
	}
	return mode, nil
}

func NewSession(cfg *mgrconfig.Config) (*Session, error) {
	spec, err := targets.Lookup(targets.Options{Name: cfg.Target, Config: cfg.TargetConfig})
	if err != nil {
		return nil, err
	}
	mode, err := ResolveMode(cfg, &spec)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:    uuid.New().String(),
		Cfg:   cfg,
		Mode:  mode,
		Spec:  spec,
		Stats: stat.NewSet(),
	}
	var tracker cover.Tracker = cover.NewSet()
	if cfg.EnhancedCoverage {
		tracker = cover.NewEnhanced()
	}
	s.Corpus, err = corpus.New(corpus.Config{
		Dir:      cfg.CorpusDir,
		CrashDir: cfg.CrashDir,
		Tracker:  tracker,
		Session:  s.ID,
		Target:   cfg.Target,
		Mode:     mode.String(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.Corpus.Load(); err != nil {
		return nil, err
	}
	s.Executor = executor.New(executor.Config{
		Timeout: cfg.ExecTimeout(),
		Tracker: tracker,
	})
	gen, err := s.generator()
	if err != nil {
		return nil, err
	}
	reporters := []fuzzer.Reporter{report.NewConsole()}
	if cfg.JSONReport != "" {
		s.jsonReport, err = report.NewJSONFile(cfg.JSONReport)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, s.jsonReport)
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.Logf(0, "session %v: target %v, mode %v, random seed %v", s.ID, cfg.Target, mode, seed)
	s.Fuzzer, err = fuzzer.New(fuzzerConfig(cfg, mode), fuzzer.Deps{
		Corpus:    s.Corpus,
		Executor:  s.Executor,
		Mutator:   s.mutator(),
		Generator: gen,
		Target:    spec.Target,
		Impls:     spec.Impls,
		Reporters: reporters,
		Rand:      rand.New(rand.NewSource(seed)),
		Stats:     s.Stats,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func fuzzerConfig(cfg *mgrconfig.Config, mode fuzzer.Mode) fuzzer.Config {
	return fuzzer.Config{
		Mode:               mode,
		Iterations:         cfg.Iterations,
		Seeds:              cfg.Seeds,
		MaxInputSize:       cfg.MaxInputSize,
		CorpusProbability:  cfg.CorpusProbability,
		MaxMutations:       cfg.MaxMutations,
		ReportInterval:     cfg.ReportInterval,
		ResetStatsInterval: cfg.ResetStatsInterval,
		BaselineIterations: cfg.BaselineIterations,
		AnomalyThreshold:   cfg.AnomalyThreshold,
		VarianceThreshold:  cfg.VarianceThreshold,
		ConfirmRuns:        cfg.ConfirmRuns,
		StatefulLength:     cfg.StatefulLength,
		ResetBetween:       cfg.ResetBetween,
	}
}

func (s *Session) generator() (generator.Generator, error) {
	var gen generator.Generator = generator.Random{}
	if s.Spec.Generator != nil {
		gen = s.Spec.Generator
	}
	if s.Cfg.Generator != mgrconfig.GeneratorSeeds {
		return gen, nil
	}
	files, err := generator.NewFiles(s.Cfg.SeedDir)
	if err != nil {
		return nil, err
	}
	log.Logf(0, "loaded %v seed files from %v", files.Len(), s.Cfg.SeedDir)
	return generator.Chain{files, gen}, nil
}

func (s *Session) mutator() mutation.Strategy {
	engine := mutation.New(mutation.Basic()...)
	engine.MaxLen = s.Cfg.MaxInputSize
	for _, m := range s.Spec.Mutators {
		engine.AddMutator(m)
	}
	if !s.Cfg.Guided {
		return engine
	}
	return mutation.NewGuided(engine)
}

// Run executes the session and serves the HTTP status page if configured.
func (s *Session) Run(ctx context.Context) (fuzzer.Statistics, error) {
	s.StartTime = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if s.Cfg.HTTP != "" {
		serv := &HTTPServer{Session: s}
		g.Go(func() error {
			return serv.Serve(ctx)
		})
	}
	var st fuzzer.Statistics
	g.Go(func() error {
		defer cancel()
		var err error
		st, err = s.Fuzzer.Run(ctx)
		return err
	})
	err := g.Wait()
	if s.Cfg.Minimize && err == nil {
		removed, merr := s.Corpus.Minimize()
		if merr != nil {
			err = merr
		} else {
			log.Logf(0, "corpus minimization removed %v inputs, %v left", removed, s.Corpus.Len())
		}
	}
	return st, errors.Join(err, s.Close())
}

// Close releases the session resources.
func (s *Session) Close() error {
	if s.jsonReport == nil {
		return nil
	}
	err := s.jsonReport.Close()
	s.jsonReport = nil
	return err
}
