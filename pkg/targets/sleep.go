// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"context"
	"fmt"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
)

func init() {
	Register("sleep", "execution time depends on how much of a magic prefix the input matches", newSleep)
}

type sleepConfig struct {
	// Base execution time in microseconds.
	BaseUs int `json:"base_us"`
	// Inputs starting with the magic prefix run this many times longer.
	SlowFactor int    `json:"slow_factor"`
	Magic      string `json:"magic"`
}

type sleepTarget struct {
	coverage
	cfg sleepConfig
}

func newSleep(opts Options) (Spec, error) {
	cfg := sleepConfig{
		BaseUs:     100,
		SlowFactor: 20,
		Magic:      "SLOW",
	}
	if err := parseConfig(opts, &cfg); err != nil {
		return Spec{}, err
	}
	if cfg.BaseUs <= 0 || cfg.SlowFactor <= 0 || cfg.Magic == "" {
		return Spec{}, fmt.Errorf("base_us, slow_factor and magic must be set")
	}
	return Spec{
		Target:      &sleepTarget{cfg: cfg},
		DefaultMode: fuzzer.ModePerformance,
		Modes:       []fuzzer.Mode{fuzzer.ModePerformance, fuzzer.ModeSingle},
	}, nil
}

// Execute returns the length of the matched magic prefix.
func (t *sleepTarget) Execute(ctx context.Context, data []byte) (any, error) {
	var sig signal.Signal
	defer func() { t.publish(sig) }()
	matched := 0
	for matched < len(t.cfg.Magic) && matched < len(data) && data[matched] == t.cfg.Magic[matched] {
		matched++
		sig.Add(signal.Point(fmt.Sprintf("sleep:magic:%v", matched)))
	}
	d := time.Duration(t.cfg.BaseUs) * time.Microsecond
	if matched == len(t.cfg.Magic) {
		d *= time.Duration(t.cfg.SlowFactor)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return matched, nil
}
