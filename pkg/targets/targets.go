// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package targets is the registry of code under test.
// Targets register a factory under a unique name, sessions look them up by name.
package targets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bytefuzz/bytefuzz/pkg/config"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/generator"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

var ErrUnknownTarget = errors.New("unknown target")

// Options are passed to target factories.
type Options struct {
	Name string
	// Config holds the target-specific parameters (JSON), may be empty.
	Config json.RawMessage
}

// Spec describes an instantiated target.
type Spec struct {
	// Target is executed in all modes except differential.
	Target executor.Target
	// Impls are compared in differential mode.
	Impls       []executor.Named
	DefaultMode fuzzer.Mode
	Modes       []fuzzer.Mode
	// Generator produces target-specific fresh inputs (optional).
	Generator generator.Generator
	// Mutators are target-specific mutators added to the basic ones (optional).
	Mutators []mutation.Mutator
}

// Supports returns true if the target can run in the mode.
func (spec *Spec) Supports(mode fuzzer.Mode) bool {
	for _, m := range spec.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

type Factory func(opts Options) (Spec, error)

type entry struct {
	desc    string
	factory Factory
}

var (
	mu       sync.RWMutex
	registry = make(map[string]entry)
)

// Register adds a target factory. It panics if the name is already taken.
func Register(name, desc string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" || factory == nil {
		panic("bad target registration")
	}
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("target %q is already registered", name))
	}
	registry[name] = entry{desc, factory}
}

// Lookup instantiates the named target.
func Lookup(opts Options) (Spec, error) {
	mu.RLock()
	ent, ok := registry[opts.Name]
	mu.RUnlock()
	if !ok {
		return Spec{}, fmt.Errorf("%w %q, known targets: %v", ErrUnknownTarget, opts.Name,
			strings.Join(List(), ", "))
	}
	spec, err := ent.factory(opts)
	if err != nil {
		return Spec{}, fmt.Errorf("target %v: %w", opts.Name, err)
	}
	if err := spec.validate(); err != nil {
		return Spec{}, fmt.Errorf("target %v: %w", opts.Name, err)
	}
	return spec, nil
}

func (spec *Spec) validate() error {
	if !spec.Supports(spec.DefaultMode) {
		return fmt.Errorf("default mode %v is not supported", spec.DefaultMode)
	}
	for _, mode := range spec.Modes {
		if mode == fuzzer.ModeDifferential {
			if len(spec.Impls) < 2 {
				return fmt.Errorf("differential mode needs at least 2 implementations, got %v",
					len(spec.Impls))
			}
		} else if spec.Target == nil {
			return fmt.Errorf("mode %v needs a target", mode)
		}
	}
	return nil
}

// List returns the sorted names of all registered targets.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	var names []string
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description returns the registered description of the target.
func Description(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name].desc
}

// parseConfig fills cfg (pre-filled with defaults) from the target options.
func parseConfig(opts Options, cfg any) error {
	if len(opts.Config) == 0 {
		return nil
	}
	return config.LoadData(bytes.Clone(opts.Config), cfg)
}

// coverage publishes the points of the last completed execution.
type coverage struct {
	mu   sync.Mutex
	last signal.Signal
}

func (c *coverage) Coverage() signal.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *coverage) publish(sig signal.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = sig
}

// sizeClass buckets input sizes logarithmically.
func sizeClass(prefix string, n int) signal.Point {
	class := 0
	for ; n > 0; n >>= 1 {
		class++
	}
	return signal.Point(fmt.Sprintf("%v:size:%v", prefix, class))
}

// errPoint turns an error into a coverage point, digits are dropped so that
// errors differing only in offsets or sizes map to the same point.
func errPoint(prefix string, err error) signal.Point {
	msg := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return -1
		}
		return r
	}, err.Error())
	const maxLen = 60
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return signal.Point(prefix + ":err:" + msg)
}
