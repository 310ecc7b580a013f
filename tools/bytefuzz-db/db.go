// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// bytefuzz-db packs a corpus directory into a single database file and back.
package main

import (
	"fmt"
	"os"

	"github.com/bytefuzz/bytefuzz/pkg/db"
	"github.com/bytefuzz/bytefuzz/pkg/tool"
	"github.com/spf13/pflag"
)

func main() {
	defer tool.Init()()
	args := pflag.Args()
	if len(args) != 3 {
		usage()
	}
	switch args[0] {
	case "pack":
		n, err := db.PackDir(args[1], args[2])
		if err != nil {
			tool.Failf("failed to pack %v: %v", args[1], err)
		}
		fmt.Printf("packed %v inputs into %v\n", n, args[2])
	case "unpack":
		n, err := db.UnpackDir(args[1], args[2])
		if err != nil {
			tool.Failf("failed to unpack %v: %v", args[1], err)
		}
		fmt.Printf("unpacked %v inputs into %v\n", n, args[2])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  bytefuzz-db pack dir corpus.db\n")
	fmt.Fprintf(os.Stderr, "  bytefuzz-db unpack corpus.db dir\n")
	os.Exit(1)
}
