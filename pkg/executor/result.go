// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

type Outcome int

const (
	Success Outcome = iota
	Timeout
	Exception
	Differential
	PerformanceAnomaly
)

var outcomeNames = [...]string{
	Success:            "success",
	Timeout:            "timeout",
	Exception:          "exception",
	Differential:       "differential",
	PerformanceAnomaly: "performance-anomaly",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

func ParseOutcome(s string) (Outcome, error) {
	for o, name := range outcomeNames {
		if name == s {
			return Outcome(o), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

// IsCrash says if the input must go to the crash archive.
func (o Outcome) IsCrash() bool {
	return o != Success
}

// Informational crashes are not functional bugs.
func (o Outcome) Informational() bool {
	return o == PerformanceAnomaly
}

// Result describes a single execution of an input.
type Result struct {
	Input   []byte
	Size    int
	Elapsed time.Duration
	Outcome Outcome
	// Err and ErrKind describe the failure for all outcomes except Success.
	Err     string
	ErrKind string
	Stack   []byte
	// Output is the value returned by the target on Success.
	Output      any
	Signal      signal.Signal
	Interesting bool

	Differential *DifferentialInfo
	Stateful     *StatefulInfo
	Performance  *PerformanceInfo
}

func (res *Result) String() string {
	if res.Outcome == Success {
		return fmt.Sprintf("%v (%v bytes, %v, %v points)", res.Outcome, res.Size, res.Elapsed, res.Signal.Len())
	}
	return fmt.Sprintf("%v (%v bytes, %v): %v", res.Outcome, res.Size, res.Elapsed, res.Err)
}

const (
	KindTimeout   = "timeout"
	KindPanic     = "panic"
	KindInvariant = "invariant"
)

type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() error {
	return e.err
}

func (e *kindError) Kind() string {
	return e.kind
}

// WithKind attaches a classification to err. Differential implementations that fail
// with the same kind are considered to agree.
func WithKind(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// ErrorKind returns the classification of err: the kind attached with WithKind,
// or the type of the innermost wrapped error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var ke interface{ Kind() string }
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
