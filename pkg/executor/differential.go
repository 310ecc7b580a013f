// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/google/go-cmp/cmp"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"
)

// ImplResult is the outcome of one implementation in differential execution.
type ImplResult struct {
	Name    string
	Outcome Outcome
	Value   any
	Err     string
	ErrKind string
	Elapsed time.Duration
}

func (ir *ImplResult) String() string {
	if ir.Outcome == Success {
		return fmt.Sprintf("%v: %v", ir.Name, formatValue(ir.Value))
	}
	return fmt.Sprintf("%v: %v [%v]: %v", ir.Name, ir.Outcome, ir.ErrKind, ir.Err)
}

type DifferentialInfo struct {
	Results []ImplResult
	// Indices of the first pair of implementations that disagree, -1 if all agree.
	First  int
	Second int
	Diff   string
}

// ExecuteDifferential runs the input against all implementations concurrently
// and reports Differential if their results disagree.
// Implementations are compared in order, the first disagreeing pair is reported.
func (ex *Executor) ExecuteDifferential(ctx context.Context, data []byte, impls []Named) *Result {
	res := newResult(data)
	start := time.Now()
	invs := make([]invocation, len(impls))
	var eg errgroup.Group
	for i, impl := range impls {
		i, impl := i, impl
		eg.Go(func() error {
			// Each implementation gets its own copy of the input.
			invs[i] = ex.invoke(ctx, impl.Target, bytes.Clone(data))
			return nil
		})
	}
	eg.Wait()
	res.Elapsed = time.Since(start)

	info := &DifferentialInfo{
		Results: make([]ImplResult, len(impls)),
		First:   -1,
		Second:  -1,
	}
	res.Differential = info
	var sig signal.Signal
	for i, impl := range impls {
		ir := &info.Results[i]
		ir.Name = impl.Name
		ir.Elapsed = invs[i].elapsed
		tmp := newResult(data)
		if ex.fill(tmp, invs[i]) {
			ir.Outcome, ir.Err, ir.ErrKind = tmp.Outcome, tmp.Err, tmp.ErrKind
			if invs[i].timedOut {
				continue
			}
		} else {
			ir.Value = invs[i].value
		}
		sig.Merge(invs[i].cover)
	}
	for i := 0; i+1 < len(info.Results); i++ {
		a, b := &info.Results[i], &info.Results[i+1]
		if Agree(a, b) {
			continue
		}
		info.First, info.Second = i, i+1
		info.Diff = describeDiff(a, b)
		res.Outcome = Differential
		res.Err = fmt.Sprintf("%v and %v disagree", a.Name, b.Name)
		res.ErrKind = "differential"
		res.Signal = sig
		return res
	}
	res.Signal = sig
	if len(info.Results) != 0 {
		// All implementations agree, but they may agree on a hang or a panic.
		first := info.Results[0]
		switch first.Outcome {
		case Timeout, Exception:
			if first.ErrKind == KindTimeout || first.ErrKind == KindPanic {
				res.Outcome, res.Err, res.ErrKind = first.Outcome, first.Err, first.ErrKind
				return res
			}
		case Success:
			res.Output = first.Value
		}
	}
	res.Interesting = ex.interesting(sig)
	return res
}

// Agree says if two implementation results are equivalent.
// Two successful results agree if their values are equal, two failed results agree
// if their errors are of the same kind.
func Agree(a, b *ImplResult) bool {
	aOK, bOK := a.Outcome == Success, b.Outcome == Success
	switch {
	case aOK && bOK:
		return valuesEqual(a.Value, b.Value)
	case !aOK && !bOK:
		return a.ErrKind == b.ErrKind
	default:
		return false
	}
}

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ab, bb)
		}
	}
	return cmp.Equal(a, b, exportAll)
}

func describeDiff(a, b *ImplResult) string {
	if a.Outcome != Success || b.Outcome != Success {
		return fmt.Sprintf("- %v\n+ %v\n", a.String(), b.String())
	}
	as, aText := textOf(a.Value)
	bs, bText := textOf(b.Value)
	if aText && bText {
		return textDiff(as, bs)
	}
	return cmp.Diff(a.Value, b.Value, exportAll)
}

func textOf(v any) (string, bool) {
	switch val := v.(type) {
	case []byte:
		return string(val), true
	case string:
		return val, true
	}
	return "", false
}

func textDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(a, b, false))
	buf := new(strings.Builder)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(buf, "[-%q-]", d.Text)
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(buf, "[+%q+]", d.Text)
		case diffmatchpatch.DiffEqual:
			fmt.Fprintf(buf, "%q", d.Text)
		}
	}
	return buf.String()
}

func formatValue(v any) string {
	const maxLen = 256
	var s string
	if text, ok := textOf(v); ok {
		s = fmt.Sprintf("%q", text)
	} else {
		s = fmt.Sprintf("%+v", v)
	}
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
