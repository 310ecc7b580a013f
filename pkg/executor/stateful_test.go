// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a stateful target: "+" increments, "-" decrements, "!" panics, "z" sleeps.
// The counter must never go negative.
type counter struct {
	val    int
	resets int
	cov    signal.Signal
}

func (c *counter) Execute(ctx context.Context, data []byte) (any, error) {
	c.cov = nil
	for _, b := range data {
		switch b {
		case '+':
			c.val++
		case '-':
			c.val--
		case '!':
			panic("bang")
		case 'z':
			time.Sleep(100 * time.Millisecond)
		default:
			return nil, fmt.Errorf("unknown op %q", b)
		}
		c.cov.Add(signal.Point(fmt.Sprintf("op:%c", b)))
	}
	return c.val, nil
}

func (c *counter) Coverage() signal.Signal {
	return c.cov
}

func (c *counter) Reset() {
	c.val = 0
	c.resets++
}

func (c *counter) OperationName(data []byte) string {
	return "ops(" + string(data) + ")"
}

func (c *counter) CheckInvariants() error {
	if c.val < 0 {
		return fmt.Errorf("counter is negative: %v", c.val)
	}
	return nil
}

func seq(ops ...string) [][]byte {
	var res [][]byte
	for _, op := range ops {
		res = append(res, []byte(op))
	}
	return res
}

func TestStatefulSuccess(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	c := &counter{}
	res := ex.ExecuteStateful(context.Background(), c, seq("++", "-", "+"), false)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, []byte("++-+"), res.Input)
	require.NotNil(t, res.Stateful)
	assert.Equal(t, []string{"ops(++)", "ops(-)", "ops(+)"}, res.Stateful.Operations)
	assert.Nil(t, res.Stateful.Failure)
	assert.Equal(t, 2, c.val)
	assert.Equal(t, signal.FromRaw("op:+", "op:-"), res.Signal)
	assert.True(t, res.Interesting)
}

func TestStatefulInvariant(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	res := ex.ExecuteStateful(context.Background(), &counter{}, seq("+", "--", "+"), false)
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, KindInvariant, res.ErrKind)
	require.NotNil(t, res.Stateful.Failure)
	assert.Equal(t, []string{"ops(+)", "ops(--)"}, res.Stateful.Failure.Operations)
	assert.Contains(t, res.Stateful.Failure.Reason, "counter is negative")
	assert.Equal(t, 2, res.Stateful.Steps)
}

func TestStatefulResetBetween(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	c := &counter{}
	// Without resets the counter would go negative.
	res := ex.ExecuteStateful(context.Background(), c, seq("+", "-", "-"), true)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, 3, c.resets)
	// A reset clears the operation sequence.
	assert.Equal(t, []string{"ops(-)"}, res.Stateful.Operations)
}

func TestStatefulPanicAborts(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	c := &counter{}
	res := ex.ExecuteStateful(context.Background(), c, seq("+", "!", "+"), false)
	assert.Equal(t, Exception, res.Outcome)
	assert.Equal(t, KindPanic, res.ErrKind)
	assert.Equal(t, []string{"ops(+)", "ops(!)"}, res.Stateful.Failure.Operations)
	assert.Equal(t, 1, c.val)
}

func TestStatefulTimeoutAborts(t *testing.T) {
	ex := New(Config{Timeout: 10 * time.Millisecond})
	res := ex.ExecuteStateful(context.Background(), &counter{}, seq("+", "z", "+"), false)
	assert.Equal(t, Timeout, res.Outcome)
	assert.Equal(t, 2, res.Stateful.Steps)
	assert.Contains(t, res.Err, "step 1 (ops(z))")
}

func TestStatefulDefaultNames(t *testing.T) {
	ex := New(Config{Timeout: time.Second})
	res := ex.ExecuteStateful(context.Background(), newTarget(echo), seq("a", "b"), true)
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, []string{"input#0", "input#1"}, res.Stateful.Operations)
}

func TestSplitInputs(t *testing.T) {
	assert.Nil(t, SplitInputs(nil, 4))
	assert.Equal(t, seq("abc"), SplitInputs([]byte("abc"), 1))
	assert.Equal(t, seq("a", "b", "c"), SplitInputs([]byte("abc"), 8))
	assert.Equal(t, seq("ab", "cd", "ef"), SplitInputs([]byte("abcdef"), 3))
	assert.Equal(t, seq("a", "bc", "de"), SplitInputs([]byte("abcde"), 3))
	assert.Equal(t, seq("abc"), SplitInputs([]byte("abc"), 0))
}

func TestStatefulPaths(t *testing.T) {
	tracker := cover.NewEnhanced()
	ex := New(Config{Timeout: time.Second, Tracker: tracker})
	res := ex.ExecuteStateful(context.Background(), &counter{}, seq("+", "+", "-"), false)
	require.Equal(t, Success, res.Outcome)
	paths := 0
	for _, p := range res.Signal.Serialize() {
		if strings.HasPrefix(p, cover.PathPrefix) {
			paths++
		}
	}
	assert.Equal(t, 3, paths)
	tracker.Update(res.Signal)

	// Same operations in a different order cover the same points, but new paths.
	res = ex.ExecuteStateful(context.Background(), &counter{}, seq("+", "-", "+"), false)
	require.Equal(t, Success, res.Outcome)
	assert.True(t, res.Interesting)
	assert.True(t, tracker.Update(res.Signal))
}
