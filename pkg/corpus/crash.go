// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
	"gopkg.in/yaml.v3"
)

type Crash struct {
	ID   string
	Data []byte
	Meta Meta
}

// Meta is stored next to every crashing input.
type Meta struct {
	Time          time.Time         `yaml:"time" json:"time"`
	Size          int               `yaml:"size" json:"size"`
	Outcome       string            `yaml:"outcome" json:"outcome"`
	Informational bool              `yaml:"informational,omitempty" json:"informational,omitempty"`
	Error         string            `yaml:"error,omitempty" json:"error,omitempty"`
	ErrorKind     string            `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
	Elapsed       time.Duration     `yaml:"elapsed,omitempty" json:"elapsed,omitempty"`
	Target        string            `yaml:"target,omitempty" json:"target,omitempty"`
	Mode          string            `yaml:"mode,omitempty" json:"mode,omitempty"`
	Session       string            `yaml:"session,omitempty" json:"session,omitempty"`
	Details       map[string]string `yaml:"details,omitempty" json:"details,omitempty"`
}

// MetaFromResult describes a crashing execution.
func MetaFromResult(res *executor.Result) Meta {
	meta := Meta{
		Time:          time.Now().UTC().Truncate(time.Second),
		Size:          res.Size,
		Outcome:       res.Outcome.String(),
		Informational: res.Outcome.Informational(),
		Error:         res.Err,
		ErrorKind:     res.ErrKind,
		Elapsed:       res.Elapsed,
	}
	details := make(map[string]string)
	if len(res.Stack) != 0 {
		details["stack"] = string(res.Stack)
	}
	if info := res.Differential; info != nil {
		var impls []string
		for i := range info.Results {
			impls = append(impls, info.Results[i].String())
		}
		details["implementations"] = strings.Join(impls, "\n")
		if info.First >= 0 {
			details["mismatch"] = fmt.Sprintf("%v vs %v",
				info.Results[info.First].Name, info.Results[info.Second].Name)
			details["diff"] = info.Diff
		}
	}
	if info := res.Stateful; info != nil {
		details["steps"] = fmt.Sprint(info.Steps)
		if info.Failure != nil {
			details["operations"] = strings.Join(info.Failure.Operations, "\n")
			details["reason"] = info.Failure.Reason
		}
	}
	if info := res.Performance; info != nil {
		details["ratio"] = fmt.Sprintf("%.3f", info.Ratio)
		details["threshold"] = fmt.Sprintf("%.3f", info.Threshold)
		details["baseline_mean"] = info.Baseline.Mean.String()
		details["baseline_stddev"] = info.Baseline.StdDev.String()
		if info.PValue != 0 {
			details["pvalue"] = fmt.Sprintf("%.4f", info.PValue)
			details["confirmed"] = fmt.Sprint(info.Confirmed)
		}
	}
	if len(details) != 0 {
		meta.Details = details
	}
	return meta
}

func (corpus *Corpus) metaFor(res *executor.Result) Meta {
	meta := MetaFromResult(res)
	meta.Target = corpus.cfg.Target
	meta.Mode = corpus.cfg.Mode
	meta.Session = corpus.cfg.Session
	return meta
}

// AddCrash stores a crashing input, unless an input with the same content is already stored.
func (corpus *Corpus) AddCrash(data []byte, meta Meta) (bool, error) {
	id := hash.String(data)
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	if corpus.crashes[id] != nil {
		return false, nil
	}
	if meta.Size == 0 {
		meta.Size = len(data)
	}
	crash := &Crash{
		ID:   id,
		Data: bytes.Clone(data),
		Meta: meta,
	}
	metaData, err := yaml.Marshal(&crash.Meta)
	if err != nil {
		return false, fmt.Errorf("failed to serialize crash metadata: %w", err)
	}
	file := filepath.Join(corpus.cfg.CrashDir, id)
	if err := osutil.WriteFile(file+metaSuffix, metaData); err != nil {
		return false, fmt.Errorf("failed to save crash metadata: %w", err)
	}
	if err := osutil.WriteFile(file, crash.Data); err != nil {
		return false, fmt.Errorf("failed to save crash: %w", err)
	}
	corpus.crashes[id] = crash
	log.Logf(0, "new crash %v: %v: %v", id, meta.Outcome, meta.Error)
	return true, nil
}

func (corpus *Corpus) loadCrash(name string) (*Crash, error) {
	data, err := readEntry(corpus.cfg.CrashDir, name)
	if err != nil {
		return nil, err
	}
	crash := &Crash{
		ID:   name,
		Data: data,
		Meta: Meta{Size: len(data)},
	}
	metaData, err := os.ReadFile(filepath.Join(corpus.cfg.CrashDir, name+metaSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return crash, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(metaData, &crash.Meta); err != nil {
		return nil, fmt.Errorf("%w: bad metadata: %w", ErrCorrupt, err)
	}
	return crash, nil
}

func (corpus *Corpus) Crash(id string) *Crash {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.crashes[id]
}

// Crashes returns all crashes ordered by time.
func (corpus *Corpus) Crashes() []*Crash {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	ret := make([]*Crash, 0, len(corpus.crashes))
	for _, crash := range corpus.crashes {
		ret = append(ret, crash)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].Meta.Time.Equal(ret[j].Meta.Time) {
			return ret[i].Meta.Time.Before(ret[j].Meta.Time)
		}
		return ret[i].ID < ret[j].ID
	})
	return ret
}

func (corpus *Corpus) CrashLen() int {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return len(corpus.crashes)
}
