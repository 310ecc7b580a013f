// Copyright 2020 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Init parses the command line and handles the profiling flags.
// The returned function must be called before the tool exits.
func Init() func() {
	cpuprof := pflag.String("cpuprofile", "", "write CPU profile to this file")
	memprof := pflag.String("memprofile", "", "write memory profile to this file")
	if err := ParseFlags(pflag.CommandLine, os.Args[1:]); err != nil {
		Fail(err)
	}
	return installProfiling(*cpuprof, *memprof)
}

func Failf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}
