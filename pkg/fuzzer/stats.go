// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/stat"
)

type Stats struct {
	statExecTotal   *stat.Val
	statExecGen     *stat.Val
	statExecFuzz    *stat.Val
	statNewInputs   *stat.Val
	statNewCrashes  *stat.Val
	statLoopPanics  *stat.Val
	statExecTime    *stat.Val
	statInputSize   *stat.Val
	statCorpus      *stat.Val
	statCorpusBytes *stat.Val
	statCrashes     *stat.Val
	statCoverage    *stat.Val
	avgExecTime     stat.AverageValue[time.Duration]
	avgInputSize    stat.AverageValue[float64]
}

func newStats(set *stat.Set, c *corpus.Corpus) Stats {
	return Stats{
		statExecTotal: set.New("exec total", "Total test executions",
			stat.Console, stat.Rate{}, stat.Prometheus("bytefuzz_exec_total")),
		statExecGen: set.New("exec gen", "Executions of freshly generated inputs",
			stat.Rate{}),
		statExecFuzz: set.New("exec fuzz", "Executions of mutated corpus inputs",
			stat.Rate{}),
		statNewInputs: set.New("new inputs", "New inputs added to the corpus",
			stat.Simple, stat.Prometheus("bytefuzz_new_inputs")),
		statNewCrashes: set.New("new crashes", "New distinct crashing inputs",
			stat.Console, stat.Prometheus("bytefuzz_new_crashes")),
		statLoopPanics: set.New("loop panics", "Fuzzing iterations that panicked",
			stat.Simple),
		statExecTime: set.New("exec time", "Test execution time (us)",
			stat.Distribution{}, stat.Prometheus("bytefuzz_exec_time_us")),
		statInputSize: set.New("input size", "Size of executed inputs (bytes)",
			stat.Distribution{}),
		statCorpus: set.New("corpus", "Number of inputs in the corpus",
			stat.Console, c.Len, stat.Prometheus("bytefuzz_corpus_inputs")),
		statCorpusBytes: set.New("corpus bytes", "Total size of corpus inputs",
			func() int { return c.Stats().Bytes }, stat.FormatMB),
		statCrashes: set.New("crashes", "Number of crashing inputs in the archive",
			stat.Console, c.CrashLen, stat.Prometheus("bytefuzz_crashes")),
		statCoverage: set.New("coverage", "Distinct coverage points",
			stat.Console, c.Tracker().Count, stat.Prometheus("bytefuzz_coverage_points")),
	}
}

// Statistics is a snapshot of the fuzzing session.
type Statistics struct {
	Iterations   int
	Executions   int
	Interesting  int
	NewCrashes   int
	CorpusSize   int
	Crashes      int
	Coverage     int
	LoopPanics   int
	Outcomes     map[string]int
	Elapsed      time.Duration
	ExecsPerSec  float64
	AvgExecTime  time.Duration
	AvgInputSize float64
	Mutators     []mutation.Stats `json:",omitempty"`
}

func (st *Statistics) String() string {
	return fmt.Sprintf("iterations %v, execs %v (%.1f/sec), corpus %v (+%v), crashes %v (+%v), coverage %v",
		st.Iterations, st.Executions, st.ExecsPerSec, st.CorpusSize, st.Interesting,
		st.Crashes, st.NewCrashes, st.Coverage)
}

// Progress is a periodic snapshot sent to reporters.
type Progress struct {
	Iteration int
	// Total number of iterations, 0 if the session runs until cancelled.
	Total int
	// Fraction of recent iterations that found new coverage.
	RecentNewRate float64
	Statistics
}
