// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strconv"
	"strings"

	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

const (
	DefaultPathLen           = 8
	DefaultMaxPaths          = 1 << 16
	DefaultMaxValuesPerPoint = 256

	// PathPrefix marks synthetic points that stand for execution paths.
	PathPrefix = "path:"
)

// Enhanced extends Set with per-point value diversity and bounded execution paths.
// Its score rewards rarely hit points and points with many distinct observed values.
type Enhanced struct {
	Set
	PathLen           int
	MaxPaths          int
	MaxValuesPerPoint int
	RarityWeight      float64
	DiversityWeight   float64

	values map[signal.Point]map[int64]struct{}
	window []signal.Point
	paths  int
}

func NewEnhanced() *Enhanced {
	return &Enhanced{
		Set:               Set{hits: make(map[signal.Point]uint64)},
		PathLen:           DefaultPathLen,
		MaxPaths:          DefaultMaxPaths,
		MaxValuesPerPoint: DefaultMaxValuesPerPoint,
		RarityWeight:      1,
		DiversityWeight:   1,
		values:            make(map[signal.Point]map[int64]struct{}),
	}
}

// Update is Set.Update, except that new path points are dropped once MaxPaths paths are known.
func (e *Enhanced) Update(sig signal.Signal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	for p := range sig {
		if e.hits[p] == 0 && strings.HasPrefix(string(p), PathPrefix) {
			if e.paths >= e.MaxPaths {
				continue
			}
			e.paths++
		}
		if e.recordLocked(p) {
			found = true
		}
	}
	return found
}

// RecordValue records that value v was observed at point p.
// Returns true if either the point or the value at this point is new.
func (e *Enhanced) RecordValue(p signal.Point, v int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	isNew := e.recordLocked(p)
	vals := e.values[p]
	if vals == nil {
		vals = make(map[int64]struct{})
		e.values[p] = vals
	}
	if _, ok := vals[v]; !ok && len(vals) < e.MaxValuesPerPoint {
		vals[v] = struct{}{}
		isNew = true
	}
	return isNew
}

// DistinctValues returns the number of distinct values observed at p.
func (e *Enhanced) DistinctValues(p signal.Point) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values[p])
}

// RecordPath appends p to the current sliding path window and records the window
// as a synthetic path point. Returns true if the path was not seen before.
func (e *Enhanced) RecordPath(p signal.Point) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.pathLen(); len(e.window) >= n {
		copy(e.window, e.window[len(e.window)-n+1:])
		e.window = e.window[:n-1]
	}
	e.window = append(e.window, p)
	e.recordLocked(p)
	pp := pathPoint(e.window)
	if e.hits[pp] == 0 && e.paths >= e.MaxPaths {
		return false
	}
	if e.recordLocked(pp) {
		e.paths++
		return true
	}
	return false
}

// EndPath forgets the current path window, e.g. at the end of an execution.
func (e *Enhanced) EndPath() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = e.window[:0]
}

// Paths returns the number of distinct recorded paths.
func (e *Enhanced) Paths() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paths
}

// PathSignal returns the path points of every window of seq without recording anything.
// Window i covers seq[i-PathLen+1:i+1].
func (e *Enhanced) PathSignal(seq []signal.Point) signal.Signal {
	var sig signal.Signal
	for i := range seq {
		lo := max(0, i+1-e.pathLen())
		sig.Add(pathPoint(seq[lo : i+1]))
	}
	return sig
}

// pathLen is PathLen clamped to at least 1.
func (e *Enhanced) pathLen() int {
	return max(1, e.PathLen)
}

func pathPoint(window []signal.Point) signal.Point {
	h := fnv.New64a()
	var sep [8]byte
	for i, p := range window {
		binary.LittleEndian.PutUint64(sep[:], uint64(i))
		h.Write(sep[:])
		h.Write([]byte(p))
	}
	return signal.Point(PathPrefix + strconv.FormatUint(h.Sum64(), 16))
}

func (e *Enhanced) Interestingness(newPoints signal.Signal) float64 {
	if newPoints.Empty() {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	score := 1.0
	for p := range newPoints {
		rarity := 1 / math.Log10(float64(e.hits[p])+2)
		diversity := math.Log10(float64(len(e.values[p])) + 1)
		score += e.RarityWeight*rarity + e.DiversityWeight*diversity
	}
	return score
}

func (e *Enhanced) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hits = make(map[signal.Point]uint64)
	e.values = make(map[signal.Point]map[int64]struct{})
	e.window = e.window[:0]
	e.paths = 0
}
