// Copyright 2018 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides types for working with coverage feedback signal.
// A signal is a set of opaque coverage points reported by a target.
package signal

import (
	"sort"
	"strings"
)

// Point is an opaque label of a reached code location or condition.
type Point string

// Signal is a set of coverage points produced by one or more executions.
type Signal map[Point]struct{}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

func (s Signal) Has(p Point) bool {
	_, ok := s[p]
	return ok
}

func (s Signal) Copy() Signal {
	if s == nil {
		return nil
	}
	c := make(Signal, len(s))
	for p := range s {
		c[p] = struct{}{}
	}
	return c
}

// FromRaw builds a signal from a list of point labels.
func FromRaw[T ~string](raw ...T) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, p := range raw {
		s[Point(p)] = struct{}{}
	}
	return s
}

// Add inserts p and returns true if it was not present.
func (s *Signal) Add(p Point) bool {
	if *s == nil {
		*s = make(Signal)
	}
	if _, ok := (*s)[p]; ok {
		return false
	}
	(*s)[p] = struct{}{}
	return true
}

// Diff returns the points of s1 that are not in s.
func (s Signal) Diff(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	var res Signal
	for p := range s1 {
		if _, ok := s[p]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[p] = struct{}{}
	}
	return res
}

func (s Signal) Intersection(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	res := make(Signal)
	for p := range s {
		if _, ok := s1[p]; ok {
			res[p] = struct{}{}
		}
	}
	return res
}

func (s Signal) IntersectsWith(other Signal) bool {
	for p := range other {
		if _, ok := s[p]; ok {
			return true
		}
	}
	return false
}

func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	s0 := *s
	if s0 == nil {
		s0 = make(Signal, len(s1))
		*s = s0
	}
	for p := range s1 {
		s0[p] = struct{}{}
	}
}

// Serialize returns the points in sorted order.
func (s Signal) Serialize() []string {
	res := make([]string, 0, len(s))
	for p := range s {
		res = append(res, string(p))
	}
	sort.Strings(res)
	return res
}

// Parse is the inverse of Format: one point per line, empty lines are ignored.
func Parse(data []byte) Signal {
	var s Signal
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.Add(Point(line))
	}
	return s
}

// Format renders the signal as a sorted newline-separated list.
func (s Signal) Format() []byte {
	if s.Empty() {
		return nil
	}
	return []byte(strings.Join(s.Serialize(), "\n") + "\n")
}
