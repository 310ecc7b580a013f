// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntersectsWith(t *testing.T) {
	base := FromRaw("a", "b", "c", "d")
	assert.True(t, base.IntersectsWith(FromRaw("a", "x", "y")))
	assert.False(t, base.IntersectsWith(FromRaw("x", "y", "z")))
}

func TestDiffMerge(t *testing.T) {
	var s Signal
	assert.True(t, s.Empty())
	diff := s.Diff(FromRaw("a", "b"))
	assert.Equal(t, FromRaw("a", "b"), diff)
	s.Merge(diff)
	assert.Nil(t, s.Diff(FromRaw("a")))
	assert.Equal(t, FromRaw("c"), s.Diff(FromRaw("a", "c")))
	assert.Equal(t, FromRaw("a"), s.Intersection(FromRaw("a", "c")))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("c"))
	assert.Equal(t, 3, s.Len())
}

func TestFormatParse(t *testing.T) {
	s := FromRaw("func:b", "func:a", "edge:1->2")
	data := s.Format()
	assert.Equal(t, "edge:1->2\nfunc:a\nfunc:b\n", string(data))
	assert.Equal(t, s, Parse(data))
	assert.Nil(t, Signal(nil).Format())
	assert.True(t, Parse([]byte("\n\n")).Empty())
}
