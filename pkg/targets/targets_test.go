// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/bytefuzz/bytefuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(t *testing.T, name, cfg string) Spec {
	opts := Options{Name: name}
	if cfg != "" {
		opts.Config = json.RawMessage(cfg)
	}
	spec, err := Lookup(opts)
	require.NoError(t, err)
	return spec
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json-decoders", "lru-cache", "reader", "sleep", "xz-roundtrip"}, List())
	for _, name := range List() {
		assert.NotEmpty(t, Description(name))
		spec := lookup(t, name, "")
		assert.True(t, spec.Supports(spec.DefaultMode), name)
	}
	_, err := Lookup(Options{Name: "foo"})
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Panics(t, func() {
		Register("sleep", "", newSleep)
	})
}

func TestBadTargetConfig(t *testing.T) {
	for name, cfg := range map[string]string{
		"xz-roundtrip":  `{"dict_cap": 10}`,
		"json-decoders": `{"decoders": ["encoding-json", "foo"]}`,
		"lru-cache":     `{"capacity": 0}`,
		"reader":        `{"size": 100000}`,
		"sleep":         `{"unknown": 1}`,
	} {
		_, err := Lookup(Options{Name: name, Config: json.RawMessage(cfg)})
		assert.Error(t, err, name)
	}
	// A single decoder cannot run in differential mode.
	_, err := Lookup(Options{Name: "json-decoders", Config: json.RawMessage(`{"decoders": ["yaml-v3"]}`)})
	assert.Error(t, err)
}

func TestXZ(t *testing.T) {
	spec := lookup(t, "xz-roundtrip", `{"dict_cap": 4096}`)
	ex := executor.New(executor.Config{Timeout: 10 * time.Second})
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		data := testutil.RandBytes(r, 1000)
		res := ex.Execute(context.Background(), spec.Target, data)
		require.Equal(t, executor.Success, res.Outcome, res.Err)
		assert.True(t, res.Signal.Has(sizeClass("xz:input", len(data))))
	}
	res := ex.Execute(context.Background(), spec.Target, []byte("not an xz stream"))
	require.Equal(t, executor.Success, res.Outcome)
	assert.False(t, res.Signal.Has("xz:header:ok"))
}

func TestJSONDecoders(t *testing.T) {
	spec := lookup(t, "json-decoders", "")
	require.Len(t, spec.Impls, 3)
	ex := executor.New(executor.Config{Timeout: 10 * time.Second})
	ctx := context.Background()

	res := ex.ExecuteDifferential(ctx, []byte(`{"a": [1, 2, {"b": null}], "c": "d"}`), spec.Impls)
	assert.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.True(t, res.Signal.Has("encoding-json:0:map[string]interface {}"))

	// All decoders reject it.
	res = ex.ExecuteDifferential(ctx, []byte(`{"a": [}`), spec.Impls)
	assert.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.True(t, res.Signal.Has("yaml-v3:reject"))

	// YAML-only syntax.
	res = ex.ExecuteDifferential(ctx, []byte("a: b\n"), spec.Impls)
	assert.Equal(t, executor.Differential, res.Outcome)
	require.NotNil(t, res.Differential)
	assert.Equal(t, "encoding-json", res.Differential.Results[res.Differential.First].Name)

	r := rand.New(testutil.RandSource(t))
	for i := 0; i < 100; i++ {
		data, err := spec.Generator.Generate(r, 1<<10)
		require.NoError(t, err)
		assert.True(t, json.Valid(data) || len(data) == 1<<10, "%s", data)
	}
	for i := 0; i < 100; i++ {
		data := []byte("{}")
		mutated := spec.Mutators[0].Mutate(data, r)
		assert.Greater(t, len(mutated), len(data))
	}
}

func TestLRU(t *testing.T) {
	spec := lookup(t, "lru-cache", `{"capacity": 2}`)
	target := spec.Target.(*lruTarget)
	ex := executor.New(executor.Config{Timeout: 10 * time.Second})
	ctx := context.Background()
	op := func(op lruOp, key, val byte) []byte {
		return []byte{byte(op), key, val}
	}
	inputs := [][]byte{
		op(lruAdd, 1, 10),
		op(lruAdd, 2, 20),
		op(lruGet, 1, 0),
		op(lruAdd, 3, 30),
		op(lruPeek, 2, 0),
		op(lruRemove, 3, 0),
		op(lruPurge, 0, 0),
	}
	res := ex.ExecuteStateful(ctx, target, inputs, false)
	require.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.Equal(t, []string{"add", "add", "get", "add", "peek", "remove", "purge"}, res.Stateful.Operations)
	for _, p := range []string{"lru:evict", "lru:get:hit", "lru:peek:miss", "lru:remove:hit",
		"lru:len:full", "lru:len:half", "lru:len:empty"} {
		assert.True(t, res.Signal.Has(signal.Point(p)), p)
	}
	assert.Equal(t, map[signal.Point]int64{"lru:len": 0}, target.Values())

	// Corrupt the model to check that disagreements are detected.
	target.Reset()
	target.model.capacity = 3
	res = ex.ExecuteStateful(ctx, target, inputs[:4], false)
	assert.Equal(t, executor.Exception, res.Outcome)
	assert.Equal(t, executor.KindInvariant, res.ErrKind)

	target.Reset()
	target.model.keys = append(target.model.keys, 42)
	assert.Error(t, target.CheckInvariants())

	assert.Equal(t, "nop", target.OperationName(nil))
	assert.Equal(t, "get+1", target.OperationName([]byte{1, 2, 3, 4}))
}

func TestLRUModelAgreesOnRandomOps(t *testing.T) {
	spec := lookup(t, "lru-cache", "")
	ex := executor.New(executor.Config{Timeout: 10 * time.Second})
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		spec.Target.(*lruTarget).Reset()
		inputs := executor.SplitInputs(testutil.RandBytes(r, 300), 8)
		res := ex.ExecuteStateful(context.Background(), spec.Target, inputs, false)
		require.Equal(t, executor.Success, res.Outcome, res.Err)
	}
}

func TestReader(t *testing.T) {
	ctx := context.Background()
	ex := executor.New(executor.Config{Timeout: 10 * time.Second})
	oob := []byte{0, 0xff, 0, 16}
	checked := lookup(t, "reader", `{"size": 64}`)
	res := ex.Execute(ctx, checked.Target, oob)
	require.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.True(t, res.Signal.Has("reader:oob:bytes"))

	res = ex.Execute(ctx, checked.Target, []byte{3, 60, 0, 0, 1, 60, 0, 0})
	require.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.True(t, res.Signal.Has("reader:edge:u32"))

	unchecked := lookup(t, "reader", `{"size": 64, "unchecked": true}`)
	res = ex.Execute(ctx, unchecked.Target, oob)
	assert.Equal(t, executor.Exception, res.Outcome)
	assert.Equal(t, executor.KindPanic, res.ErrKind)
}

func TestSleep(t *testing.T) {
	spec := lookup(t, "sleep", `{"base_us": 10, "slow_factor": 5000, "magic": "AB"}`)
	ex := executor.New(executor.Config{Timeout: 10 * time.Millisecond})
	ctx := context.Background()
	res := ex.Execute(ctx, spec.Target, []byte("AX"))
	require.Equal(t, executor.Success, res.Outcome, res.Err)
	assert.Equal(t, 1, res.Output)
	assert.True(t, res.Signal.Has("sleep:magic:1"))
	// 50ms is above the timeout.
	res = ex.Execute(ctx, spec.Target, []byte("ABC"))
	assert.Equal(t, executor.Timeout, res.Outcome)
	assert.Contains(t, spec.Modes, fuzzer.ModePerformance)
}

func TestErrPoint(t *testing.T) {
	assert.Equal(t, errPoint("x", errors.New("bad size 10")), errPoint("x", errors.New("bad size 20")))
	assert.Equal(t, sizeClass("s", 5), sizeClass("s", 7))
	assert.NotEqual(t, sizeClass("s", 7), sizeClass("s", 8))
}
