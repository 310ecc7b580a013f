// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package executor runs inputs against targets under a deadline and classifies the results.
//
// Every invocation runs on its own goroutine. If the deadline expires, the invocation is
// abandoned: it may continue running and consuming resources, but its result is ignored.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/log"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

// Target is the code under test.
type Target interface {
	// Execute runs the input. The context is cancelled when the deadline expires,
	// but targets are not required to observe it.
	Execute(ctx context.Context, data []byte) (any, error)
	// Coverage returns the points covered by the last completed Execute call.
	Coverage() signal.Signal
}

// Resetter is implemented by stateful targets that can drop their state.
type Resetter interface {
	Reset()
}

// OperationNamer is implemented by stateful targets to name the operation an input performs.
type OperationNamer interface {
	OperationName(data []byte) string
}

// InvariantChecker is implemented by stateful targets that verify their state after each step.
type InvariantChecker interface {
	CheckInvariants() error
}

// ValueReporter is implemented by targets that expose values observed during the last
// completed Execute call, keyed by the point where they were observed.
type ValueReporter interface {
	Values() map[signal.Point]int64
}

// Named is one implementation in differential execution.
type Named struct {
	Name   string
	Target Target
}

type Config struct {
	Timeout time.Duration
	// Tracker decides if the coverage of a successful execution is interesting.
	// It is only consulted, never updated.
	Tracker cover.Tracker
}

const DefaultTimeout = time.Second

type Executor struct {
	timeout time.Duration
	tracker cover.Tracker
}

func New(cfg Config) *Executor {
	ex := &Executor{
		timeout: cfg.Timeout,
		tracker: cfg.Tracker,
	}
	if ex.timeout <= 0 {
		ex.timeout = DefaultTimeout
	}
	return ex
}

func (ex *Executor) Timeout() time.Duration {
	return ex.timeout
}

// cover is the target coverage collected right after Execute returned.
type invocation struct {
	value    any
	err      error
	cover    signal.Signal
	stack    []byte
	timedOut bool
	elapsed  time.Duration
}

func (ex *Executor) invoke(ctx context.Context, target Target, data []byte) invocation {
	// Cancellation of the session does not abort the in-flight invocation, only the deadline does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ex.timeout)
	defer cancel()
	done := make(chan invocation, 1)
	start := time.Now()
	go func() {
		var inv invocation
		defer func() {
			if v := recover(); v != nil {
				inv = invocation{
					err:     fmt.Errorf("panic: %v", v),
					stack:   debug.Stack(),
					elapsed: time.Since(start),
				}
			}
			done <- inv
		}()
		inv.value, inv.err = target.Execute(ctx, data)
		inv.elapsed = time.Since(start)
		// Coverage is a call into the target too, so it runs under the same recover.
		inv.cover = target.Coverage().Copy()
	}()
	select {
	case inv := <-done:
		if inv.err != nil && errors.Is(inv.err, context.DeadlineExceeded) && ctx.Err() != nil {
			inv.timedOut = true
			inv.elapsed = ex.timeout
		}
		return inv
	case <-ctx.Done():
		log.Logf(2, "execution of %v bytes timed out after %v, detaching", len(data), ex.timeout)
		return invocation{
			timedOut: true,
			elapsed:  ex.timeout,
		}
	}
}

// fill sets the outcome and error fields of res from a failed invocation.
// It returns false if the invocation succeeded.
func (ex *Executor) fill(res *Result, inv invocation) bool {
	switch {
	case inv.timedOut:
		res.Outcome = Timeout
		res.Err = fmt.Sprintf("execution timed out after %v", ex.timeout)
		res.ErrKind = KindTimeout
	case inv.stack != nil:
		res.Outcome = Exception
		res.Err = inv.err.Error()
		res.ErrKind = KindPanic
		res.Stack = inv.stack
	case inv.err != nil:
		res.Outcome = Exception
		res.Err = inv.err.Error()
		res.ErrKind = ErrorKind(inv.err)
	default:
		return false
	}
	return true
}

func (ex *Executor) interesting(sig signal.Signal) bool {
	if ex.tracker == nil {
		return !sig.Empty()
	}
	return ex.tracker.Interestingness(ex.tracker.NewPoints(sig)) > 0
}

func newResult(data []byte) *Result {
	return &Result{
		Input: data,
		Size:  len(data),
	}
}

// Execute runs a single input against the target.
func (ex *Executor) Execute(ctx context.Context, target Target, data []byte) *Result {
	res := newResult(data)
	inv := ex.invoke(ctx, target, data)
	res.Elapsed = inv.elapsed
	if ex.fill(res, inv) {
		return res
	}
	res.Output = inv.value
	res.Signal = inv.cover
	res.Interesting = ex.interesting(res.Signal)
	return res
}
