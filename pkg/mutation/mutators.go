// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutation

import (
	"encoding/binary"
	"math"
	"math/rand"
)

type funcMutator struct {
	name string
	fn   func(data []byte, r *rand.Rand) []byte
}

func (m *funcMutator) Name() string {
	return m.name
}

func (m *funcMutator) Mutate(data []byte, r *rand.Rand) []byte {
	return m.fn(data, r)
}

// Func wraps a function into a Mutator.
func Func(name string, fn func(data []byte, r *rand.Rand) []byte) Mutator {
	return &funcMutator{name: name, fn: fn}
}

// Basic returns the generic byte-level mutators.
func Basic() []Mutator {
	return []Mutator{
		Func("bitflip", flipBit),
		Func("random-byte", randomByte),
		Func("insert-bytes", insertBytes),
		Func("delete-range", deleteRange),
		Func("duplicate-range", duplicateRange),
		Func("arith", addSubInt),
		Func("interesting-value", interestingValue),
		Func("endian-swap", swapEndian),
	}
}

const (
	maxChunk = 16
	maxInc   = 35
)

func flipBit(data []byte, r *rand.Rand) []byte {
	if len(data) == 0 {
		return append(data, byte(r.Intn(256)))
	}
	data[r.Intn(len(data))] ^= 1 << uint(r.Intn(8))
	return data
}

func randomByte(data []byte, r *rand.Rand) []byte {
	if len(data) == 0 {
		return append(data, byte(r.Intn(256)))
	}
	pos := r.Intn(len(data))
	old := data[pos]
	for data[pos] == old {
		data[pos] = byte(r.Intn(256))
	}
	return data
}

func insertBytes(data []byte, r *rand.Rand) []byte {
	n := r.Intn(maxChunk) + 1
	pos := r.Intn(len(data) + 1)
	chunk := make([]byte, n)
	r.Read(chunk)
	res := make([]byte, 0, len(data)+n)
	res = append(res, data[:pos]...)
	res = append(res, chunk...)
	return append(res, data[pos:]...)
}

func deleteRange(data []byte, r *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	n := min(r.Intn(maxChunk)+1, len(data))
	pos := r.Intn(len(data) - n + 1)
	copy(data[pos:], data[pos+n:])
	return data[:len(data)-n]
}

func duplicateRange(data []byte, r *rand.Rand) []byte {
	if len(data) == 0 {
		return data
	}
	n := min(r.Intn(maxChunk*4)+1, len(data))
	src := r.Intn(len(data) - n + 1)
	dst := r.Intn(len(data) + 1)
	res := make([]byte, 0, len(data)+n)
	res = append(res, data[:dst]...)
	res = append(res, data[src:src+n]...)
	return append(res, data[dst:]...)
}

func randWidth(data []byte, r *rand.Rand) (int, int, bool) {
	width := 1 << uint(r.Intn(4))
	if len(data) < width {
		return 0, 0, false
	}
	return r.Intn(len(data) - width + 1), width, true
}

func addSubInt(data []byte, r *rand.Rand) []byte {
	pos, width, ok := randWidth(data, r)
	if !ok {
		return flipBit(data, r)
	}
	delta := uint64(r.Intn(2*maxInc+1) - maxInc)
	if delta == 0 {
		delta = 1
	}
	bigEndian := r.Intn(10) == 0
	storeInt(data[pos:], loadInt(data[pos:], width, bigEndian)+delta, width, bigEndian)
	return data
}

var interestingValues = []uint64{
	0, 1, 0x7f, 0x80, 0xff,
	0x7fff, 0x8000, 0xffff,
	0x7fffffff, 0x80000000, 0xffffffff,
	math.MaxInt64, 1 << 63, math.MaxUint64,
	16, 32, 64, 100, 127, 128, 255, 256, 512, 1000, 1024, 4096, 65535, 65536,
}

func interestingValue(data []byte, r *rand.Rand) []byte {
	pos, width, ok := randWidth(data, r)
	if !ok {
		return append(data, byte(interestingValues[r.Intn(len(interestingValues))]))
	}
	v := interestingValues[r.Intn(len(interestingValues))]
	if r.Intn(2) == 0 {
		v = -v
	}
	storeInt(data[pos:], v, width, r.Intn(2) == 0)
	return data
}

func swapEndian(data []byte, r *rand.Rand) []byte {
	width := 2 << uint(r.Intn(3))
	if len(data) < width {
		return flipBit(data, r)
	}
	pos := r.Intn(len(data) - width + 1)
	chunk := data[pos : pos+width]
	for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
		chunk[i], chunk[j] = chunk[j], chunk[i]
	}
	return data
}

func loadInt(data []byte, width int, bigEndian bool) uint64 {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch width {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(order.Uint16(data))
	case 4:
		return uint64(order.Uint32(data))
	case 8:
		return order.Uint64(data)
	default:
		panic("bad width")
	}
}

func storeInt(data []byte, v uint64, width int, bigEndian bool) {
	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	switch width {
	case 1:
		data[0] = byte(v)
	case 2:
		order.PutUint16(data, uint16(v))
	case 4:
		order.PutUint32(data, uint32(v))
	case 8:
		order.PutUint64(data, v)
	default:
		panic("bad width")
	}
}
