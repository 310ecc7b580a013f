// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report contains the fuzzer.Reporter implementations:
// the console reporter that writes to the log and the JSON lines reporter.
package report

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
)

// Title returns a short description of a crash used to group similar crashes.
// Numbers and addresses are replaced so that crashes at different offsets share the title.
func Title(res *executor.Result) string {
	msg := res.Err
	if i := strings.IndexByte(msg, '\n'); i != -1 {
		msg = msg[:i]
	}
	msg = addrRe.ReplaceAllString(msg, "ADDR")
	msg = numRe.ReplaceAllString(msg, "N")
	const maxLen = 120
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	title := res.Outcome.String()
	if res.ErrKind != "" && res.ErrKind != title {
		title += " [" + res.ErrKind + "]"
	}
	if msg != "" {
		title += ": " + msg
	}
	return title
}

var (
	addrRe = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	numRe  = regexp.MustCompile(`\b[0-9]+\b`)
)

// TitleStat counts crashes per title.
type TitleStat struct {
	mu     sync.Mutex
	counts map[string]int
}

type TitleCount struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func (ts *TitleStat) Add(title string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.counts == nil {
		ts.counts = make(map[string]int)
	}
	ts.counts[title]++
	return ts.counts[title]
}

// Titles returns the titles sorted by decreasing count.
func (ts *TitleStat) Titles() []TitleCount {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var res []TitleCount
	for title, count := range ts.counts {
		res = append(res, TitleCount{title, count})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Title < res[j].Title
	})
	return res
}
