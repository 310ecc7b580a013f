// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/corpus"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

// Event is one line of the JSON report.
type Event struct {
	Type       string             `json:"type"`
	Time       time.Time          `json:"time"`
	Progress   *fuzzer.Progress   `json:"progress,omitempty"`
	Statistics *fuzzer.Statistics `json:"statistics,omitempty"`
	Crash      *CrashEvent        `json:"crash,omitempty"`
	Titles     []TitleCount       `json:"titles,omitempty"`
}

type CrashEvent struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Meta  corpus.Meta `json:"meta"`
}

const (
	EventProgress   = "progress"
	EventStatistics = "statistics"
	EventCrash      = "crash"
)

// JSON writes every event as a separate JSON object on its own line.
type JSON struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	titles TitleStat
	err    error
}

func NewJSON(w io.Writer) *JSON {
	return &JSON{w: w}
}

// NewJSONFile appends the report to the file.
func NewJSONFile(filename string) (*JSON, error) {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, osutil.DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open json report: %w", err)
	}
	return &JSON{w: f, closer: f}, nil
}

func (rep *JSON) ReportProgress(p fuzzer.Progress) {
	rep.write(&Event{Type: EventProgress, Progress: &p})
}

func (rep *JSON) ReportStatistics(st fuzzer.Statistics) {
	rep.write(&Event{Type: EventStatistics, Statistics: &st, Titles: rep.titles.Titles()})
}

func (rep *JSON) ReportCrash(data []byte, res *executor.Result) {
	title := Title(res)
	rep.titles.Add(title)
	rep.write(&Event{Type: EventCrash, Crash: &CrashEvent{
		ID:    hash.String(data),
		Title: title,
		Meta:  corpus.MetaFromResult(res),
	}})
}

func (rep *JSON) write(ev *Event) {
	ev.Time = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("failed to marshal %v event: %v", ev.Type, err)
		return
	}
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.err != nil {
		return
	}
	if _, err := rep.w.Write(append(data, '\n')); err != nil {
		log.Errorf("failed to write json report: %v", err)
		rep.err = err
	}
}

// Close closes the underlying file and returns the first write error.
func (rep *JSON) Close() error {
	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.closer != nil {
		if err := rep.closer.Close(); err != nil && rep.err == nil {
			rep.err = err
		}
		rep.closer = nil
	}
	return rep.err
}
