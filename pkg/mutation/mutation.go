// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutation selects and applies byte-level mutators to fuzzing inputs.
package mutation

import (
	"math/rand"
	"slices"
	"time"
)

// Mutator transforms an input. It may modify data in place and return it,
// callers always pass a private copy.
type Mutator interface {
	Mutate(data []byte, r *rand.Rand) []byte
	Name() string
}

// Strategy picks a mutator and applies it to a copy of data.
type Strategy interface {
	Mutate(r *rand.Rand, data []byte) ([]byte, Mutator)
}

// Feedback is implemented by strategies that learn from execution results.
type Feedback interface {
	RecordFeedback(name string, newCoverage, crashed bool, elapsed time.Duration)
}

// Engine chooses mutators uniformly at random.
type Engine struct {
	mutators []Mutator
	// MaxLen truncates mutated inputs, 0 means no limit.
	MaxLen int
}

func New(mutators ...Mutator) *Engine {
	e := new(Engine)
	for _, m := range mutators {
		e.AddMutator(m)
	}
	return e
}

func (e *Engine) AddMutator(m Mutator) {
	e.mutators = append(e.mutators, m)
}

func (e *Engine) Mutators() []Mutator {
	return slices.Clone(e.mutators)
}

func (e *Engine) Mutate(r *rand.Rand, data []byte) ([]byte, Mutator) {
	if len(e.mutators) == 0 {
		return slices.Clone(data), nil
	}
	m := e.mutators[r.Intn(len(e.mutators))]
	return e.apply(m, r, data), m
}

func (e *Engine) apply(m Mutator, r *rand.Rand, data []byte) []byte {
	res := m.Mutate(slices.Clone(data), r)
	if e.MaxLen > 0 && len(res) > e.MaxLen {
		res = res[:e.MaxLen]
	}
	return res
}
