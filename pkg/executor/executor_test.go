// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTarget struct {
	mu  sync.Mutex
	fn  func(ctx context.Context, data []byte) (any, error)
	cov signal.Signal
}

func newTarget(fn func(ctx context.Context, data []byte) (any, error)) *testTarget {
	return &testTarget{fn: fn}
}

func (tt *testTarget) Execute(ctx context.Context, data []byte) (any, error) {
	tt.mu.Lock()
	tt.cov = signal.FromRaw(fmt.Sprintf("len:%v", len(data)))
	tt.mu.Unlock()
	return tt.fn(ctx, data)
}

func (tt *testTarget) Coverage() signal.Signal {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.cov
}

func echo(ctx context.Context, data []byte) (any, error) {
	return data, nil
}

func sleeper(d time.Duration) func(ctx context.Context, data []byte) (any, error) {
	return func(ctx context.Context, data []byte) (any, error) {
		time.Sleep(d)
		return nil, nil
	}
}

func TestOutcome(t *testing.T) {
	assert.False(t, Success.IsCrash())
	for _, o := range []Outcome{Timeout, Exception, Differential, PerformanceAnomaly} {
		assert.True(t, o.IsCrash(), o.String())
		o1, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, o1)
	}
	assert.True(t, PerformanceAnomaly.Informational())
	assert.False(t, Exception.Informational())
	_, err := ParseOutcome("segfault")
	assert.Error(t, err)
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}

func TestExecuteSuccess(t *testing.T) {
	tracker := cover.NewSet()
	ex := New(Config{Timeout: time.Second, Tracker: tracker})
	target := newTarget(echo)
	res := ex.Execute(context.Background(), target, []byte("abc"))
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, 3, res.Size)
	assert.Equal(t, []byte("abc"), res.Output)
	assert.True(t, res.Signal.Has("len:3"))
	assert.True(t, res.Interesting)
	// The executor only consults the tracker.
	assert.Equal(t, 0, tracker.Count())

	tracker.Update(res.Signal)
	res = ex.Execute(context.Background(), target, []byte("xyz"))
	assert.Equal(t, Success, res.Outcome)
	assert.False(t, res.Interesting)
}

func TestExecuteError(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	target := newTarget(func(ctx context.Context, data []byte) (any, error) {
		return nil, WithKind("parse", errors.New("bad input"))
	})
	res := ex.Execute(context.Background(), target, []byte("abc"))
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, "bad input", res.Err)
	assert.Equal(t, "parse", res.ErrKind)
	assert.Nil(t, res.Signal)
	assert.False(t, res.Interesting)
}

func TestExecutePanic(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	target := newTarget(func(ctx context.Context, data []byte) (any, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	})
	res := ex.Execute(context.Background(), target, []byte("abc"))
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, KindPanic, res.ErrKind)
	assert.Contains(t, res.Err, "assignment to entry in nil map")
	assert.Contains(t, string(res.Stack), "executor_test.go")
}

// brokenCoverage executes fine, but panics when asked for coverage.
type brokenCoverage struct{}

func (brokenCoverage) Execute(ctx context.Context, data []byte) (any, error) {
	return len(data), nil
}

func (brokenCoverage) Coverage() signal.Signal {
	panic("coverage blew up")
}

func TestExecuteCoveragePanic(t *testing.T) {
	ex := New(Config{Timeout: time.Second, Tracker: cover.NewSet()})
	ctx := context.Background()
	res := ex.Execute(ctx, brokenCoverage{}, []byte("abc"))
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, KindPanic, res.ErrKind)
	assert.Contains(t, res.Err, "coverage blew up")
	assert.NotEmpty(t, res.Stack)
	assert.False(t, res.Interesting)

	res = ex.ExecuteStateful(ctx, brokenCoverage{}, [][]byte{[]byte("a"), []byte("b")}, false)
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, 1, res.Stateful.Steps)
	require.NotNil(t, res.Stateful.Failure)

	res = ex.ExecutePerformance(ctx, brokenCoverage{}, []byte("a"), 3, 0.5)
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, KindPanic, res.ErrKind)

	res = ex.ExecuteDifferential(ctx, []byte("a"), []Named{
		{"ok", newTarget(func(ctx context.Context, data []byte) (any, error) { return 1, nil })},
		{"broken", brokenCoverage{}},
	})
	assert.Equal(t, Differential, res.Outcome)
	assert.Equal(t, KindPanic, res.Differential.Results[1].ErrKind)
}

func TestExecuteTimeout(t *testing.T) {
	const timeout = 5 * time.Millisecond
	ex := New(Config{Timeout: timeout})
	var finished atomic.Bool
	target := newTarget(func(ctx context.Context, data []byte) (any, error) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	})
	start := time.Now()
	res := ex.Execute(context.Background(), target, []byte("abc"))
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, Timeout, res.Outcome)
	assert.Equal(t, timeout, res.Elapsed)
	assert.Equal(t, KindTimeout, res.ErrKind)
	assert.False(t, res.Interesting)
	// The invocation was detached, not awaited.
	assert.False(t, finished.Load())
}

func TestExecuteCooperativeTimeout(t *testing.T) {
	ex := New(Config{Timeout: 5 * time.Millisecond})
	target := newTarget(func(ctx context.Context, data []byte) (any, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("interrupted: %w", ctx.Err())
	})
	res := ex.Execute(context.Background(), target, nil)
	assert.Equal(t, Timeout, res.Outcome)
}

func TestExecuteIgnoresSessionCancel(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := ex.Execute(ctx, newTarget(sleeper(5*time.Millisecond)), nil)
	assert.Equal(t, Success, res.Outcome)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "*errors.errorString", ErrorKind(errors.New("x")))
	assert.Equal(t, "*errors.errorString", ErrorKind(fmt.Errorf("wrap: %w", errors.New("x"))))
	assert.Equal(t, "syntax", ErrorKind(fmt.Errorf("wrap: %w", WithKind("syntax", errors.New("x")))))
	assert.Nil(t, WithKind("syntax", nil))
	_, err := strconv.Atoi("x")
	assert.Equal(t, "*errors.errorString", ErrorKind(err))
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, New(Config{}).Timeout())
}
