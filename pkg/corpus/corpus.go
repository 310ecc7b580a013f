// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus stores interesting inputs and crashing inputs.
// Both are content-addressed: the id of an entry is hash.String of its bytes.
//
// On disk the corpus directory contains <id> files with the raw input and optional
// <id>.cover files with the coverage of the input (one point per line).
// The crash directory contains <id> files and <id>.meta YAML files with crash metadata.
package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

var ErrCorrupt = errors.New("corrupt entry")

const (
	coverSuffix = ".cover"
	metaSuffix  = ".meta"
)

type Config struct {
	Dir      string
	CrashDir string
	// Tracker is the global coverage tracker, it's updated by AddIfInteresting and Load.
	Tracker cover.Tracker
	// Saved in crash metadata.
	Session string
	Target  string
	Mode    string
}

// Item objects are to be treated as immutable, otherwise it's just
// too hard to synchonize accesses to them across the whole project.
type Item struct {
	ID     string
	Data   []byte
	Signal signal.Signal
}

type Corpus struct {
	cfg     Config
	tracker cover.Tracker
	mu      sync.RWMutex
	items   map[string]*Item
	list    []*Item
	crashes map[string]*Crash
}

func New(cfg Config) (*Corpus, error) {
	if cfg.Dir == "" || cfg.CrashDir == "" {
		return nil, fmt.Errorf("corpus and crash directories must be set")
	}
	for _, dir := range []string{cfg.Dir, cfg.CrashDir} {
		if err := osutil.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("failed to create %v: %w", dir, err)
		}
	}
	corpus := &Corpus{
		cfg:     cfg,
		tracker: cfg.Tracker,
		items:   make(map[string]*Item),
		crashes: make(map[string]*Crash),
	}
	if corpus.tracker == nil {
		corpus.tracker = cover.NewSet()
	}
	return corpus, nil
}

func (corpus *Corpus) Tracker() cover.Tracker {
	return corpus.tracker
}

func (corpus *Corpus) Dir() string {
	return corpus.cfg.Dir
}

func (corpus *Corpus) CrashDir() string {
	return corpus.cfg.CrashDir
}

// Load restores corpus items and crashes from disk and feeds item coverage into the tracker.
// Broken entries are logged and skipped.
func (corpus *Corpus) Load() error {
	names, err := osutil.ListDir(corpus.cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to read corpus dir: %w", err)
	}
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	broken := 0
	for _, name := range names {
		if strings.HasSuffix(name, coverSuffix) {
			continue
		}
		item, err := corpus.loadItem(name)
		if err != nil {
			log.Logf(0, "skipping corpus entry %v: %v", filepath.Join(corpus.cfg.Dir, name), err)
			broken++
			continue
		}
		if corpus.items[item.ID] != nil {
			continue
		}
		corpus.tracker.Update(item.Signal)
		corpus.insertLocked(item)
	}
	crashNames, err := osutil.ListDir(corpus.cfg.CrashDir)
	if err != nil {
		return fmt.Errorf("failed to read crash dir: %w", err)
	}
	for _, name := range crashNames {
		if strings.HasSuffix(name, metaSuffix) {
			continue
		}
		crash, err := corpus.loadCrash(name)
		if err != nil {
			log.Logf(0, "skipping crash entry %v: %v", filepath.Join(corpus.cfg.CrashDir, name), err)
			broken++
			continue
		}
		corpus.crashes[crash.ID] = crash
	}
	log.Logf(0, "loaded %v corpus inputs and %v crashes (%v broken entries)",
		len(corpus.items), len(corpus.crashes), broken)
	return nil
}

func readEntry(dir, name string) ([]byte, error) {
	if !hash.Valid(name) {
		return nil, fmt.Errorf("%w: bad file name", ErrCorrupt)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	if id := hash.String(data); id != name {
		return nil, fmt.Errorf("%w: content hash is %v", ErrCorrupt, id)
	}
	return data, nil
}

func (corpus *Corpus) loadItem(name string) (*Item, error) {
	data, err := readEntry(corpus.cfg.Dir, name)
	if err != nil {
		return nil, err
	}
	item := &Item{
		ID:   name,
		Data: data,
	}
	coverData, err := os.ReadFile(filepath.Join(corpus.cfg.Dir, name+coverSuffix))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	item.Signal = signal.Parse(coverData)
	return item, nil
}

func (corpus *Corpus) insertLocked(item *Item) {
	corpus.items[item.ID] = item
	corpus.list = append(corpus.list, item)
}

// AddIfInteresting routes an executed input: crashes go to the crash archive,
// inputs with new coverage go to the corpus. It returns true if the input was stored.
func (corpus *Corpus) AddIfInteresting(data []byte, res *executor.Result) (bool, error) {
	if res.Outcome.IsCrash() {
		return corpus.AddCrash(data, corpus.metaFor(res))
	}
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	id := hash.String(data)
	if corpus.tracker.NewPoints(res.Signal).Empty() || corpus.items[id] != nil {
		// Hit counts are still accounted.
		corpus.tracker.Update(res.Signal)
		return false, nil
	}
	item := &Item{
		ID:     id,
		Data:   bytes.Clone(data),
		Signal: res.Signal.Copy(),
	}
	// Novelty is committed only once the input is on disk, so a failed write can be retried.
	if err := corpus.saveItem(item); err != nil {
		return false, err
	}
	corpus.tracker.Update(res.Signal)
	corpus.insertLocked(item)
	log.Logf(1, "new corpus input %v (%v bytes, %v points)", id, len(data), item.Signal.Len())
	return true, nil
}

func (corpus *Corpus) saveItem(item *Item) error {
	file := filepath.Join(corpus.cfg.Dir, item.ID)
	// The coverage goes first, so that an input is never loaded without it.
	if cov := item.Signal.Format(); cov != nil {
		if err := osutil.WriteFile(file+coverSuffix, cov); err != nil {
			return fmt.Errorf("failed to save corpus input coverage: %w", err)
		}
	}
	if err := osutil.WriteFile(file, item.Data); err != nil {
		return fmt.Errorf("failed to save corpus input: %w", err)
	}
	return nil
}

// Sample returns a copy of a uniformly chosen corpus input, or nil if the corpus is empty.
func (corpus *Corpus) Sample(r *rand.Rand) []byte {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	if len(corpus.list) == 0 {
		return nil
	}
	return bytes.Clone(corpus.list[r.Intn(len(corpus.list))].Data)
}

func (corpus *Corpus) Len() int {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return len(corpus.items)
}

// Items returns all corpus items sorted by id.
func (corpus *Corpus) Items() []*Item {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	ret := make([]*Item, 0, len(corpus.items))
	for _, item := range corpus.items {
		ret = append(ret, item)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret
}

func (corpus *Corpus) Item(id string) *Item {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return corpus.items[id]
}

// Stats is a snapshot of the relevant current state figures.
type Stats struct {
	Items   int
	Bytes   int
	Signal  int
	Crashes int
}

func (corpus *Corpus) Stats() Stats {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	var sig signal.Signal
	st := Stats{
		Items:   len(corpus.items),
		Crashes: len(corpus.crashes),
	}
	for _, item := range corpus.items {
		st.Bytes += len(item.Data)
		sig.Merge(item.Signal)
	}
	st.Signal = sig.Len()
	return st
}
