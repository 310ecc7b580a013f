// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/ulikunitz/xz"
)

func init() {
	Register("xz-roundtrip", "xz decoder on raw inputs and compress/decompress round trip", newXZ)
}

type xzConfig struct {
	// Dictionary capacity of the writer, at least 4096.
	DictCap int `json:"dict_cap"`
	// Decoding of raw inputs stops after this many bytes.
	MaxDecoded int64 `json:"max_decoded"`
}

type xzTarget struct {
	coverage
	cfg xzConfig
}

func newXZ(opts Options) (Spec, error) {
	cfg := xzConfig{
		DictCap:    64 << 10,
		MaxDecoded: 1 << 20,
	}
	if err := parseConfig(opts, &cfg); err != nil {
		return Spec{}, err
	}
	wcfg := xz.WriterConfig{DictCap: cfg.DictCap}
	if err := wcfg.Verify(); err != nil {
		return Spec{}, fmt.Errorf("bad dict_cap %v: %w", cfg.DictCap, err)
	}
	if cfg.MaxDecoded <= 0 {
		return Spec{}, fmt.Errorf("max_decoded must be positive")
	}
	return Spec{
		Target:      &xzTarget{cfg: cfg},
		DefaultMode: fuzzer.ModeSingle,
		Modes:       []fuzzer.Mode{fuzzer.ModeSingle, fuzzer.ModePerformance},
	}, nil
}

func (t *xzTarget) Execute(ctx context.Context, data []byte) (any, error) {
	var sig signal.Signal
	defer func() { t.publish(sig) }()
	sig.Add(sizeClass("xz:input", len(data)))
	t.decode(&sig, data)

	buf := new(bytes.Buffer)
	w, err := xz.WriterConfig{DictCap: t.cfg.DictCap}.NewWriter(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("xz compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz compression failed: %w", err)
	}
	compressed := buf.Len()
	r, err := xz.NewReader(buf)
	if err != nil {
		return nil, executor.WithKind("roundtrip", fmt.Errorf("compressed stream is rejected: %w", err))
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, executor.WithKind("roundtrip", fmt.Errorf("compressed stream is corrupted: %w", err))
	}
	if !bytes.Equal(out, data) {
		return nil, executor.WithKind("roundtrip",
			fmt.Errorf("round trip turned %v bytes into %v bytes", len(data), len(out)))
	}
	sig.Add(sizeClass("xz:ratio", compressed*16/(len(data)+1)))
	return compressed, nil
}

// decode feeds the input to the xz decoder, malformed streams are expected.
func (t *xzTarget) decode(sig *signal.Signal, data []byte) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		sig.Add(errPoint("xz:header", err))
		return
	}
	sig.Add("xz:header:ok")
	n, err := io.Copy(io.Discard, io.LimitReader(r, t.cfg.MaxDecoded))
	if err != nil {
		sig.Add(errPoint("xz:stream", err))
		return
	}
	sig.Add("xz:stream:ok")
	sig.Add(sizeClass("xz:decoded", int(n)))
}
