// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover keeps track of the cumulative coverage observed during a fuzzing session
// and decides whether new coverage makes an input interesting.
package cover

import (
	"sync"

	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

// Tracker is the cumulative coverage state shared by the corpus and the executor.
// Once a point has been seen, it is never reported as new again until Reset.
type Tracker interface {
	// Update merges the snapshot and returns true iff at least one point was unseen.
	Update(sig signal.Signal) bool
	// Record is the single-point variant of Update.
	Record(p signal.Point) bool
	// NewPoints returns the points of sig that were not seen yet without recording them.
	NewPoints(sig signal.Signal) signal.Signal
	// Count returns the number of distinct points seen.
	Count() int
	Hits(p signal.Point) uint64
	// Interestingness scores the newly discovered points of an execution.
	Interestingness(newPoints signal.Signal) float64
	Reset()
}

// PathTracker is implemented by trackers that turn ordered sequences of points
// (e.g. stateful operations) into synthetic path points.
type PathTracker interface {
	PathSignal(seq []signal.Point) signal.Signal
}

// ValueTracker is implemented by trackers that account for values observed at points.
type ValueTracker interface {
	RecordValue(p signal.Point, v int64) bool
}

// Set is the basic Tracker: a set of seen points with hit counters.
type Set struct {
	mu   sync.RWMutex
	hits map[signal.Point]uint64
}

func NewSet() *Set {
	return &Set{
		hits: make(map[signal.Point]uint64),
	}
}

func (set *Set) Update(sig signal.Signal) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.updateLocked(sig)
}

func (set *Set) updateLocked(sig signal.Signal) bool {
	found := false
	for p := range sig {
		if set.recordLocked(p) {
			found = true
		}
	}
	return found
}

func (set *Set) Record(p signal.Point) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	return set.recordLocked(p)
}

func (set *Set) recordLocked(p signal.Point) bool {
	n := set.hits[p]
	set.hits[p] = n + 1
	return n == 0
}

func (set *Set) NewPoints(sig signal.Signal) signal.Signal {
	set.mu.RLock()
	defer set.mu.RUnlock()
	var res signal.Signal
	for p := range sig {
		if set.hits[p] == 0 {
			res.Add(p)
		}
	}
	return res
}

func (set *Set) Count() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.hits)
}

func (set *Set) Hits(p signal.Point) uint64 {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return set.hits[p]
}

func (set *Set) Interestingness(newPoints signal.Signal) float64 {
	if newPoints.Empty() {
		return 0
	}
	return 1
}

// Signal returns a copy of all seen points.
func (set *Set) Signal() signal.Signal {
	set.mu.RLock()
	defer set.mu.RUnlock()
	res := make(signal.Signal, len(set.hits))
	for p := range set.hits {
		res[p] = struct{}{}
	}
	return res
}

func (set *Set) Reset() {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.hits = make(map[signal.Point]uint64)
}
