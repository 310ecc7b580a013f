// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutation

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Stats is the feedback collected for one mutator.
type Stats struct {
	Name          string
	Uses          uint64
	CoverageGains uint64
	Crashes       uint64
	ExecTime      time.Duration
}

func (st *Stats) meanExecTime() time.Duration {
	if st.Uses == 0 {
		return 0
	}
	return st.ExecTime / time.Duration(st.Uses)
}

// Guided chooses mutators proportionally to their utility:
//
//	CoverageWeight*gainRate + CrashWeight*crashRate + SpeedWeight*speedScore + Floor
//
// where gainRate = (gains+1)/(uses+2) and speedScore is the mean execution time
// across all mutators divided by the mean execution time of the mutator, clamped to [0, 2].
// Before any feedback all mutators have the same utility.
type Guided struct {
	engine         *Engine
	CoverageWeight float64
	CrashWeight    float64
	SpeedWeight    float64
	Floor          float64

	mu    sync.Mutex
	stats map[string]*Stats
}

func NewGuided(engine *Engine) *Guided {
	g := &Guided{
		engine:         engine,
		CoverageWeight: 1.0,
		CrashWeight:    0.5,
		SpeedWeight:    0.1,
		Floor:          0.01,
		stats:          make(map[string]*Stats),
	}
	for _, m := range engine.mutators {
		g.statsLocked(m.Name())
	}
	return g
}

func (g *Guided) AddMutator(m Mutator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.engine.AddMutator(m)
	g.statsLocked(m.Name())
}

func (g *Guided) Mutators() []Mutator {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.engine.Mutators()
}

func (g *Guided) statsLocked(name string) *Stats {
	st := g.stats[name]
	if st == nil {
		st = &Stats{Name: name}
		g.stats[name] = st
	}
	return st
}

func (g *Guided) Mutate(r *rand.Rand, data []byte) ([]byte, Mutator) {
	g.mu.Lock()
	mutators := g.engine.mutators
	if len(mutators) == 0 {
		g.mu.Unlock()
		return g.engine.Mutate(r, data)
	}
	weights := g.utilitiesLocked(mutators)
	g.mu.Unlock()

	prios := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		prios[i] = total
	}
	pos := r.Float64() * total
	idx := sort.Search(len(prios), func(i int) bool {
		return prios[i] > pos
	})
	if idx == len(prios) {
		idx--
	}
	m := mutators[idx]
	return g.engine.apply(m, r, data), m
}

// RecordFeedback accounts one execution of an input produced by the named mutator.
func (g *Guided) RecordFeedback(name string, newCoverage, crashed bool, elapsed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.statsLocked(name)
	st.Uses++
	if newCoverage {
		st.CoverageGains++
	}
	if crashed {
		st.Crashes++
	}
	st.ExecTime += elapsed
}

func (g *Guided) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name := range g.stats {
		g.stats[name] = &Stats{Name: name}
	}
}

// Probabilities returns the current selection probability of every mutator.
func (g *Guided) Probabilities() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	mutators := g.engine.mutators
	weights := g.utilitiesLocked(mutators)
	total := 0.0
	for _, w := range weights {
		total += w
	}
	res := make(map[string]float64, len(mutators))
	for i, m := range mutators {
		res[m.Name()] += weights[i] / total
	}
	return res
}

func (g *Guided) Stats() []Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var res []Stats
	for _, st := range g.stats {
		res = append(res, *st)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

func (g *Guided) utilitiesLocked(mutators []Mutator) []float64 {
	var totalTime time.Duration
	var totalUses uint64
	for _, st := range g.stats {
		totalTime += st.ExecTime
		totalUses += st.Uses
	}
	var meanAll float64
	if totalUses != 0 {
		meanAll = float64(totalTime) / float64(totalUses)
	}
	res := make([]float64, len(mutators))
	for i, m := range mutators {
		res[i] = g.utility(g.statsLocked(m.Name()), meanAll)
	}
	return res
}

func (g *Guided) utility(st *Stats, meanAll float64) float64 {
	gainRate := float64(st.CoverageGains+1) / float64(st.Uses+2)
	crashRate := 0.0
	if st.Uses != 0 {
		crashRate = float64(st.Crashes) / float64(st.Uses)
	}
	speed := 1.0
	if mean := st.meanExecTime(); mean > 0 && meanAll > 0 {
		speed = min(max(meanAll/float64(mean), 0), 2)
	}
	return g.CoverageWeight*gainRate + g.CrashWeight*crashRate + g.SpeedWeight*speed + g.Floor
}
