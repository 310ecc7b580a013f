// Copyright 2016 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"bytes"
	golog "log"
	"testing"
)

func init() {
	EnableLogCaching(4, 20)
}

func TestCaching(t *testing.T) {
	tests := []struct{ str, want string }{
		{"", ""},
		{"a", "a\n"},
		{"bb", "a\nbb\n"},
		{"ccc", "a\nbb\nccc\n"},
		{"dddd", "a\nbb\nccc\ndddd\n"},
		{"eeeee", "bb\nccc\ndddd\neeeee\n"},
		{"ffffff", "ccc\ndddd\neeeee\nffffff\n"},
		{"ggggggg", "eeeee\nffffff\nggggggg\n"},
		{"hhhhhhhh", "ggggggg\nhhhhhhhh\n"},
		{"jjjjjjjjjjjjjjjjjjjjjjjjj", "jjjjjjjjjjjjjjjjjjjjjjjjj\n"},
	}
	prependTime = false
	for _, test := range tests {
		Logf(1, "%s", test.str)
		out := CachedLogOutput()
		if out != test.want {
			t.Fatalf("wrote: %v\nwant: %v\ngot: %v", test.str, test.want, out)
		}
	}
}

func TestVerbosity(t *testing.T) {
	buf := new(bytes.Buffer)
	old := golog.Writer()
	SetOutput(buf)
	defer SetOutput(old)
	flags := golog.Flags()
	golog.SetFlags(0)
	defer golog.SetFlags(flags)

	SetVerbosity(1)
	defer SetVerbosity(0)
	Logf(2, "hidden")
	Logf(1, "shown %v", 1)
	Errorf("bad %v", "thing")
	if got, want := buf.String(), "shown 1\nERROR: bad thing\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
