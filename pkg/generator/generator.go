// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package generator produces fresh fuzzing inputs.
package generator

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
)

// ErrExhausted is returned by generators that have a finite supply of inputs.
var ErrExhausted = errors.New("generator is exhausted")

type Generator interface {
	Generate(r *rand.Rand, maxSize int) ([]byte, error)
}

type Func func(r *rand.Rand, maxSize int) ([]byte, error)

func (fn Func) Generate(r *rand.Rand, maxSize int) ([]byte, error) {
	return fn(r, maxSize)
}

// Random generates random bytes, short inputs are more likely.
type Random struct{}

func (Random) Generate(r *rand.Rand, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("bad max size %v", maxSize)
	}
	data := make([]byte, biasedLen(r, maxSize))
	r.Read(data)
	return data, nil
}

// biasedLen returns a value in [1, n], each halving of the range is twice as likely.
func biasedLen(r *rand.Rand, n int) int {
	for n > 1 && r.Intn(2) == 0 {
		n = (n + 1) / 2
	}
	return r.Intn(n) + 1
}

// Files returns the contents of the files from a directory one by one
// and ErrExhausted afterwards.
type Files struct {
	inputs [][]byte
	pos    int
}

func NewFiles(dir string) (*Files, error) {
	names, err := osutil.ListDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed dir: %w", err)
	}
	g := new(Files)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		g.inputs = append(g.inputs, data)
	}
	log.Logf(0, "loaded %v seed files from %v", len(g.inputs), dir)
	return g, nil
}

func (g *Files) Generate(r *rand.Rand, maxSize int) ([]byte, error) {
	if g.pos == len(g.inputs) {
		return nil, ErrExhausted
	}
	data := g.inputs[g.pos]
	g.pos++
	if len(data) > maxSize {
		data = data[:maxSize]
	}
	return data, nil
}

func (g *Files) Len() int {
	return len(g.inputs)
}

// Chain uses the first generator until it's exhausted, then the next one.
type Chain []Generator

func (c Chain) Generate(r *rand.Rand, maxSize int) ([]byte, error) {
	for _, g := range c {
		data, err := g.Generate(r, maxSize)
		if errors.Is(err, ErrExhausted) {
			continue
		}
		return data, err
	}
	return nil, ErrExhausted
}
