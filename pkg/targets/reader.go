// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

func init() {
	Register("reader", "bounds-checked reads from a fixed memory region", newReader)
}

type readerConfig struct {
	// Size of the memory region.
	Size int `json:"size"`
	// Unchecked disables the bounds checks, out of range reads panic.
	Unchecked bool `json:"unchecked"`
}

// Every command takes 4 bytes: opcode, 16-bit little-endian offset, length.
// Offsets wrap at twice the region size, so about half of them are out of range.
const readerCmdSize = 4

var readerOps = [...]string{"bytes", "u32", "cstring"}

type readerTarget struct {
	coverage
	cfg readerConfig
	mem []byte
}

func newReader(opts Options) (Spec, error) {
	cfg := readerConfig{Size: 256}
	if err := parseConfig(opts, &cfg); err != nil {
		return Spec{}, err
	}
	if cfg.Size <= 0 || cfg.Size > 1<<16 {
		return Spec{}, fmt.Errorf("size must be in [1, 65536], got %v", cfg.Size)
	}
	mem := make([]byte, cfg.Size)
	for i := range mem {
		mem[i] = byte(i*7 + 3)
	}
	return Spec{
		Target:      &readerTarget{cfg: cfg, mem: mem},
		DefaultMode: fuzzer.ModeSingle,
		Modes:       []fuzzer.Mode{fuzzer.ModeSingle, fuzzer.ModePerformance},
	}, nil
}

// Execute returns the checksum of all data read.
func (t *readerTarget) Execute(ctx context.Context, data []byte) (any, error) {
	var sig signal.Signal
	defer func() { t.publish(sig) }()
	var sum uint64
	for i := 0; i+readerCmdSize <= len(data); i += readerCmdSize {
		op := int(data[i]) % len(readerOps)
		off := int(binary.LittleEndian.Uint16(data[i+1:])) % (2 * len(t.mem))
		n := int(data[i+3])
		name := readerOps[op]
		sig.Add(signal.Point("reader:op:" + name))
		if op == 1 {
			n = 4
		}
		end := off + n
		if op == 2 {
			end = off + 1
		}
		if end > len(t.mem) && !t.cfg.Unchecked {
			sig.Add(signal.Point("reader:oob:" + name))
			continue
		}
		if end == len(t.mem) {
			sig.Add(signal.Point("reader:edge:" + name))
		}
		switch op {
		case 0:
			for _, b := range t.mem[off:end] {
				sum += uint64(b)
			}
		case 1:
			sum += uint64(binary.LittleEndian.Uint32(t.mem[off:end]))
		case 2:
			str := t.mem[off:]
			if pos := bytes.IndexByte(str, 0); pos != -1 {
				str = str[:pos]
				sig.Add("reader:cstring:terminated")
			}
			sum += uint64(len(str))
		}
	}
	return sum, nil
}
