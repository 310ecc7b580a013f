// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/log"
)

// Console writes the session progress to the log.
type Console struct {
	titles TitleStat
}

func NewConsole() *Console {
	return new(Console)
}

func (c *Console) ReportProgress(p fuzzer.Progress) {
	total := "inf"
	if p.Total != 0 {
		total = fmt.Sprint(p.Total)
	}
	log.Logf(0, "iteration %v/%v: execs %v (%.1f/sec), corpus %v, crashes %v, coverage %v, recent new %.2f%%",
		p.Iteration, total, p.Executions, p.ExecsPerSec, p.CorpusSize, p.Crashes, p.Coverage,
		p.RecentNewRate*100)
}

func (c *Console) ReportStatistics(st fuzzer.Statistics) {
	log.Logf(0, "%s", FormatStatistics(&st))
	for _, tc := range c.titles.Titles() {
		log.Logf(0, "crash %4d x %v", tc.Count, tc.Title)
	}
}

func (c *Console) ReportCrash(data []byte, res *executor.Result) {
	title := Title(res)
	if c.titles.Add(title) == 1 {
		log.Logf(0, "CRASH: %v (input %v, %v bytes)", title, hash.String(data), len(data))
	} else {
		log.Logf(1, "crash: %v (input %v)", title, hash.String(data))
	}
	if len(res.Stack) != 0 {
		log.Logf(2, "%s", res.Stack)
	}
}

// FormatStatistics returns the multi-line summary of a session.
func FormatStatistics(st *fuzzer.Statistics) string {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, "statistics:\n")
	fmt.Fprintf(buf, "  iterations:  %v\n", st.Iterations)
	fmt.Fprintf(buf, "  executions:  %v (%.1f/sec)\n", st.Executions, st.ExecsPerSec)
	fmt.Fprintf(buf, "  elapsed:     %v\n", st.Elapsed.Round(1e6))
	fmt.Fprintf(buf, "  corpus:      %v (+%v)\n", st.CorpusSize, st.Interesting)
	fmt.Fprintf(buf, "  crashes:     %v (+%v)\n", st.Crashes, st.NewCrashes)
	fmt.Fprintf(buf, "  coverage:    %v\n", st.Coverage)
	fmt.Fprintf(buf, "  exec time:   %v\n", st.AvgExecTime)
	fmt.Fprintf(buf, "  input size:  %.1f\n", st.AvgInputSize)
	if st.LoopPanics != 0 {
		fmt.Fprintf(buf, "  loop panics: %v\n", st.LoopPanics)
	}
	var outcomes []string
	for outcome := range st.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(buf, "  %-20v %v\n", outcome+":", st.Outcomes[outcome])
	}
	for _, ms := range st.Mutators {
		fmt.Fprintf(buf, "  mutator %-18v uses %v, new coverage %v, crashes %v\n",
			ms.Name, ms.Uses, ms.CoverageGains, ms.Crashes)
	}
	return buf.String()
}
