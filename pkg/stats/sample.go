// Copyright 2021 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stats provides basic statistics over samples of measurements.
package stats

import (
	"math"
	"sort"
	"time"
)

// Sample represents a single sample - set of data points collected during an experiment.
type Sample struct {
	Xs     []float64
	Sorted bool
}

// FromDurations converts durations to a sample of seconds.
func FromDurations(ds []time.Duration) *Sample {
	s := &Sample{Xs: make([]float64, len(ds))}
	for i, d := range ds {
		s.Xs[i] = d.Seconds()
	}
	return s
}

func (s *Sample) Percentile(p float64) float64 {
	if len(s.Xs) == 0 {
		return 0
	}
	s.Sort()
	// The ratio between the rank and the number of elements.
	idx := p * float64(len(s.Xs)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	return s.Xs[lo] + (s.Xs[hi]-s.Xs[lo])*(idx-float64(lo))
}

func (s *Sample) Median() float64 {
	return s.Percentile(0.5)
}

func (s *Sample) Mean() float64 {
	if len(s.Xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range s.Xs {
		sum += x
	}
	return sum / float64(len(s.Xs))
}

// StdDev is the sample (Bessel-corrected) standard deviation.
func (s *Sample) StdDev() float64 {
	if len(s.Xs) < 2 {
		return 0
	}
	mean := s.Mean()
	sum := 0.0
	for _, x := range s.Xs {
		sum += (x - mean) * (x - mean)
	}
	return math.Sqrt(sum / float64(len(s.Xs)-1))
}

// RelStdDev returns stddev/mean, or 0 if the mean is not positive.
func (s *Sample) RelStdDev() float64 {
	mean := s.Mean()
	if mean <= 0 {
		return 0
	}
	return s.StdDev() / mean
}

// RemoveOutliers removes outliers based on the interquartile range.
func (s *Sample) RemoveOutliers() *Sample {
	s.Sort()
	q1 := s.Percentile(0.25)
	q3 := s.Percentile(0.75)
	lower := q1 - 1.5*(q3-q1)
	upper := q3 + 1.5*(q3-q1)
	ret := &Sample{}
	for _, x := range s.Xs {
		if x >= lower && x <= upper {
			ret.Xs = append(ret.Xs, x)
		}
	}
	return ret
}

func (s *Sample) Sort() {
	if !s.Sorted {
		sort.Float64s(s.Xs)
		s.Sorted = true
	}
}
