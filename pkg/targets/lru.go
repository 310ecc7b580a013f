// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	lru "github.com/hashicorp/golang-lru/v2"
)

func init() {
	Register("lru-cache", "operation sequences on golang-lru checked against a reference model", newLRU)
}

type lruConfig struct {
	Capacity int `json:"capacity"`
	// Keys are taken modulo this value, defaults to twice the capacity.
	Keys int `json:"keys"`
}

// Every operation takes 3 bytes: opcode, key, value.
const lruOpSize = 3

type lruOp int

const (
	lruAdd lruOp = iota
	lruGet
	lruPeek
	lruRemove
	lruPurge
	lruOpCount
)

var lruOpNames = [...]string{
	lruAdd:    "add",
	lruGet:    "get",
	lruPeek:   "peek",
	lruRemove: "remove",
	lruPurge:  "purge",
}

type lruTarget struct {
	coverage
	cfg   lruConfig
	mu    sync.Mutex
	cache *lru.Cache[byte, byte]
	model *lruModel
}

func newLRU(opts Options) (Spec, error) {
	cfg := lruConfig{Capacity: 8}
	if err := parseConfig(opts, &cfg); err != nil {
		return Spec{}, err
	}
	if cfg.Capacity <= 0 || cfg.Capacity > 128 {
		return Spec{}, fmt.Errorf("capacity must be in [1, 128], got %v", cfg.Capacity)
	}
	if cfg.Keys == 0 {
		cfg.Keys = 2 * cfg.Capacity
	}
	if cfg.Keys <= 0 || cfg.Keys > 256 {
		return Spec{}, fmt.Errorf("keys must be in [1, 256], got %v", cfg.Keys)
	}
	t := &lruTarget{cfg: cfg}
	t.Reset()
	return Spec{
		Target:      t,
		DefaultMode: fuzzer.ModeStateful,
		Modes:       []fuzzer.Mode{fuzzer.ModeStateful, fuzzer.ModeSingle},
	}, nil
}

func (t *lruTarget) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cache, err := lru.New[byte, byte](t.cfg.Capacity)
	if err != nil {
		panic(err)
	}
	t.cache = cache
	t.model = newLRUModel(t.cfg.Capacity)
}

func (t *lruTarget) OperationName(data []byte) string {
	if len(data) == 0 {
		return "nop"
	}
	name := lruOpNames[lruOp(int(data[0])%int(lruOpCount))]
	if n := (len(data) + lruOpSize - 1) / lruOpSize; n > 1 {
		name = fmt.Sprintf("%v+%v", name, n-1)
	}
	return name
}

// Execute applies the operations encoded in data to the cache and to the model
// and fails on the first disagreement.
func (t *lruTarget) Execute(ctx context.Context, data []byte) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sig signal.Signal
	defer func() { t.publish(sig) }()
	for i := 0; i < len(data); i += lruOpSize {
		var arg [lruOpSize]byte
		copy(arg[:], data[i:])
		op := lruOp(int(arg[0]) % int(lruOpCount))
		key := byte(int(arg[1]) % t.cfg.Keys)
		if err := t.apply(&sig, op, key, arg[2]); err != nil {
			return nil, executor.WithKind(executor.KindInvariant,
				fmt.Errorf("operation %v %v(%v): %w", i/lruOpSize, lruOpNames[op], key, err))
		}
		t.sizeCoverage(&sig)
	}
	return t.cache.Len(), nil
}

func (t *lruTarget) apply(sig *signal.Signal, op lruOp, key, val byte) error {
	sig.Add(signal.Point("lru:op:" + lruOpNames[op]))
	switch op {
	case lruAdd:
		evicted := t.cache.Add(key, val)
		modelEvicted := t.model.add(key, val)
		if evicted {
			sig.Add("lru:evict")
		}
		if evicted != modelEvicted {
			return fmt.Errorf("evicted %v, expected %v", evicted, modelEvicted)
		}
	case lruGet:
		v, ok := t.cache.Get(key)
		mv, mok := t.model.get(key, true)
		sig.Add(hitPoint("get", ok))
		if ok != mok || v != mv {
			return fmt.Errorf("got %v/%v, expected %v/%v", v, ok, mv, mok)
		}
	case lruPeek:
		v, ok := t.cache.Peek(key)
		mv, mok := t.model.get(key, false)
		sig.Add(hitPoint("peek", ok))
		if ok != mok || v != mv {
			return fmt.Errorf("peeked %v/%v, expected %v/%v", v, ok, mv, mok)
		}
	case lruRemove:
		present := t.cache.Remove(key)
		sig.Add(hitPoint("remove", present))
		if mpresent := t.model.remove(key); present != mpresent {
			return fmt.Errorf("removed %v, expected %v", present, mpresent)
		}
	case lruPurge:
		t.cache.Purge()
		t.model.purge()
	}
	return nil
}

func hitPoint(op string, hit bool) signal.Point {
	if hit {
		return signal.Point("lru:" + op + ":hit")
	}
	return signal.Point("lru:" + op + ":miss")
}

// sizeCoverage records the fill level relative to the configured capacity.
func (t *lruTarget) sizeCoverage(sig *signal.Signal) {
	n, capacity := t.cache.Len(), t.cfg.Capacity
	switch {
	case n == 0:
		sig.Add("lru:len:empty")
	case n == capacity:
		sig.Add("lru:len:full")
	case n*2 >= capacity:
		sig.Add("lru:len:half")
	default:
		sig.Add("lru:len:low")
	}
}

// Values reports the exact fill level, which the coverage points only bucket.
func (t *lruTarget) Values() map[signal.Point]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[signal.Point]int64{"lru:len": int64(t.cache.Len())}
}

func (t *lruTarget) CheckInvariants() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.cache.Len(); n > t.cfg.Capacity {
		return fmt.Errorf("cache holds %v entries, capacity is %v", n, t.cfg.Capacity)
	}
	if keys, want := t.cache.Keys(), t.model.keys; !slices.Equal(keys, want) {
		return fmt.Errorf("cache keys %v, expected %v (oldest first)", keys, want)
	}
	return nil
}

// lruModel is the reference implementation: keys are kept oldest first.
type lruModel struct {
	capacity int
	keys     []byte
	vals     map[byte]byte
}

func newLRUModel(capacity int) *lruModel {
	return &lruModel{
		capacity: capacity,
		vals:     make(map[byte]byte),
	}
}

func (m *lruModel) touch(key byte) {
	idx := slices.Index(m.keys, key)
	m.keys = append(slices.Delete(m.keys, idx, idx+1), key)
}

func (m *lruModel) add(key, val byte) bool {
	if _, ok := m.vals[key]; ok {
		m.vals[key] = val
		m.touch(key)
		return false
	}
	evicted := false
	if len(m.keys) == m.capacity {
		delete(m.vals, m.keys[0])
		m.keys = m.keys[1:]
		evicted = true
	}
	m.keys = append(m.keys, key)
	m.vals[key] = val
	return evicted
}

func (m *lruModel) get(key byte, touch bool) (byte, bool) {
	val, ok := m.vals[key]
	if ok && touch {
		m.touch(key)
	}
	return val, ok
}

func (m *lruModel) remove(key byte) bool {
	if _, ok := m.vals[key]; !ok {
		return false
	}
	delete(m.vals, key)
	idx := slices.Index(m.keys, key)
	m.keys = slices.Delete(m.keys, idx, idx+1)
	return true
}

func (m *lruModel) purge() {
	m.keys = nil
	clear(m.vals)
}
