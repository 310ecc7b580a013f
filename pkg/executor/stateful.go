// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

type StatefulInfo struct {
	// Operations executed since the last reset.
	Operations []string
	Steps      int
	Failure    *FailureRecord
}

// FailureRecord describes how a stateful sequence failed.
type FailureRecord struct {
	Operations []string
	Reason     string
}

// ExecuteStateful feeds inputs to the same target instance in order.
// The first failing step (timeout, exception or invariant violation) aborts the sequence.
func (ex *Executor) ExecuteStateful(ctx context.Context, target Target, inputs [][]byte,
	resetBetween bool) *Result {
	res := newResult(bytes.Join(inputs, nil))
	info := &StatefulInfo{}
	res.Stateful = info
	resetter, _ := target.(Resetter)
	namer, _ := target.(OperationNamer)
	checker, _ := target.(InvariantChecker)
	var sig signal.Signal
	var path []signal.Point
	start := time.Now()
	for i, input := range inputs {
		if resetBetween && resetter != nil {
			resetter.Reset()
			info.Operations = nil
		}
		op := fmt.Sprintf("input#%v", i)
		if namer != nil {
			op = namer.OperationName(input)
			path = append(path, signal.Point("op:"+op))
		}
		info.Operations = append(info.Operations, op)
		info.Steps++
		inv := ex.invoke(ctx, target, input)
		if ex.fill(res, inv) {
			res.Err = fmt.Sprintf("step %v (%v): %v", i, op, res.Err)
			break
		}
		sig.Merge(inv.cover)
		if checker != nil {
			if err := checker.CheckInvariants(); err != nil {
				res.Outcome = Exception
				res.Err = fmt.Sprintf("step %v (%v): invariant violated: %v", i, op, err)
				res.ErrKind = KindInvariant
				break
			}
		}
	}
	res.Elapsed = time.Since(start)
	res.Signal = sig
	if res.Outcome != Success {
		info.Failure = &FailureRecord{
			Operations: append([]string(nil), info.Operations...),
			Reason:     res.Err,
		}
		return res
	}
	if tracker, ok := ex.tracker.(cover.PathTracker); ok && len(path) != 0 {
		sig.Merge(tracker.PathSignal(path))
		res.Signal = sig
	}
	res.Interesting = ex.interesting(sig)
	return res
}

// SplitInputs splits data into at most n non-empty chunks of nearly equal size.
// It's used to turn a single corpus input into a stateful sequence.
func SplitInputs(data []byte, n int) [][]byte {
	if n < 1 {
		n = 1
	}
	n = min(n, len(data))
	var res [][]byte
	for i := 0; i < n; i++ {
		lo := len(data) * i / n
		hi := len(data) * (i + 1) / n
		res = append(res, data[lo:hi:hi])
	}
	return res
}
