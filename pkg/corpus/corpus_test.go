// Copyright 2024 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	"github.com/bytefuzz/bytefuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorpus(t *testing.T, dir string) *Corpus {
	if dir == "" {
		dir = t.TempDir()
	}
	corpus, err := New(Config{
		Dir:      filepath.Join(dir, "corpus"),
		CrashDir: filepath.Join(dir, "crashes"),
		Tracker:  cover.NewSet(),
		Session:  "session",
		Target:   "target",
		Mode:     "single",
	})
	require.NoError(t, err)
	return corpus
}

func success(data []byte, points ...string) *executor.Result {
	return &executor.Result{
		Input:   data,
		Size:    len(data),
		Outcome: executor.Success,
		Signal:  signal.FromRaw(points...),
	}
}

func TestAddIfInteresting(t *testing.T) {
	corpus := newTestCorpus(t, "")
	added, err := corpus.AddIfInteresting([]byte("a"), success([]byte("a"), "p1", "p2"))
	require.NoError(t, err)
	assert.True(t, added)

	// No new coverage.
	added, err = corpus.AddIfInteresting([]byte("b"), success([]byte("b"), "p1"))
	require.NoError(t, err)
	assert.False(t, added)

	added, err = corpus.AddIfInteresting([]byte("c"), success([]byte("c"), "p1", "p3"))
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, 2, corpus.Len())
	assert.Equal(t, 3, corpus.Tracker().Count())
	item := corpus.Item(hash.String([]byte("c")))
	require.NotNil(t, item)
	assert.Equal(t, []byte("c"), item.Data)
	assert.Equal(t, Stats{Items: 2, Bytes: 2, Signal: 3}, corpus.Stats())

	file := filepath.Join(corpus.Dir(), item.ID)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), data)
	cov, err := os.ReadFile(file + ".cover")
	require.NoError(t, err)
	assert.Equal(t, "p1\np3\n", string(cov))
}

func TestAddWriteFailure(t *testing.T) {
	corpus := newTestCorpus(t, "")
	require.NoError(t, os.RemoveAll(corpus.Dir()))
	data := []byte("a")
	added, err := corpus.AddIfInteresting(data, success(data, "p1"))
	assert.Error(t, err)
	assert.False(t, added)
	assert.Equal(t, 0, corpus.Len())
	assert.Equal(t, 0, corpus.Tracker().Count())

	// Once the directory is back, the same input is still novel.
	require.NoError(t, osutil.MkdirAll(corpus.Dir()))
	added, err = corpus.AddIfInteresting(data, success(data, "p1"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, corpus.Len())
	assert.Equal(t, 1, corpus.Tracker().Count())
	assert.True(t, osutil.IsExist(filepath.Join(corpus.Dir(), hash.String(data))))
}

func TestDedup(t *testing.T) {
	corpus := newTestCorpus(t, "")
	added, err := corpus.AddIfInteresting([]byte("same"), success([]byte("same"), "p1"))
	require.NoError(t, err)
	assert.True(t, added)
	// Same content with new coverage (e.g. a flaky target) is not duplicated.
	added, err = corpus.AddIfInteresting([]byte("same"), success([]byte("same"), "p2"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, corpus.Len())

	crash := &executor.Result{Size: 4, Outcome: executor.Exception, Err: "boom"}
	added, err = corpus.AddIfInteresting([]byte("same"), crash)
	require.NoError(t, err)
	assert.True(t, added, "crashes live in a separate namespace")
	added, err = corpus.AddIfInteresting([]byte("same"), crash)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, corpus.CrashLen())
}

func TestCrashRouting(t *testing.T) {
	corpus := newTestCorpus(t, "")
	for i, outcome := range []executor.Outcome{executor.Timeout, executor.Exception,
		executor.Differential, executor.PerformanceAnomaly} {
		data := []byte(fmt.Sprintf("crash%v", i))
		res := &executor.Result{
			Input:   data,
			Size:    len(data),
			Outcome: outcome,
			Err:     "failed",
			ErrKind: "kind",
			// Novel coverage must not matter.
			Signal:      signal.FromRaw(fmt.Sprintf("new%v", i)),
			Interesting: true,
		}
		added, err := corpus.AddIfInteresting(data, res)
		require.NoError(t, err)
		assert.True(t, added)
	}
	assert.Equal(t, 0, corpus.Len())
	assert.Equal(t, 4, corpus.CrashLen())
	assert.Equal(t, 0, corpus.Tracker().Count())

	crash := corpus.Crash(hash.String([]byte("crash3")))
	require.NotNil(t, crash)
	assert.Equal(t, "performance-anomaly", crash.Meta.Outcome)
	assert.True(t, crash.Meta.Informational)
	assert.Equal(t, "session", crash.Meta.Session)
	assert.Equal(t, "target", crash.Meta.Target)
	assert.Equal(t, 6, crash.Meta.Size)
}

func TestMinimize(t *testing.T) {
	corpus := newTestCorpus(t, "")
	add := func(data string, points ...string) {
		added, err := corpus.AddIfInteresting([]byte(data), success([]byte(data), points...))
		require.NoError(t, err)
		require.True(t, added)
	}
	add("long input", "a", "b")
	add("medium", "c")
	add("x", "a", "b", "c", "e")
	add("longest input", "d")
	before := corpus.Stats().Signal

	removed, err := corpus.Minimize()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, corpus.Len())
	assert.NotNil(t, corpus.Item(hash.String([]byte("x"))))
	assert.NotNil(t, corpus.Item(hash.String([]byte("longest input"))))
	// No coverage is lost.
	assert.Equal(t, before, corpus.Stats().Signal)
	assert.Equal(t, 5, corpus.Tracker().Count())

	files, err := osutil.ListDir(corpus.Dir())
	require.NoError(t, err)
	assert.Len(t, files, 4)
	for i := 0; i < 10; i++ {
		data := corpus.Sample(rand.New(rand.NewSource(int64(i))))
		assert.Contains(t, []string{"x", "longest input"}, string(data))
	}
}

func TestMinimizeSoundness(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	corpus := newTestCorpus(t, "")
	for i := 0; i < 100; i++ {
		data := testutil.RandBytes(r, 100)
		var points []string
		for j := r.Intn(5); j >= 0; j-- {
			points = append(points, fmt.Sprintf("p%v", r.Intn(200)))
		}
		_, err := corpus.AddIfInteresting(data, success(data, points...))
		require.NoError(t, err)
	}
	var before signal.Signal
	for _, item := range corpus.Items() {
		before.Merge(item.Signal)
	}
	_, err := corpus.Minimize()
	require.NoError(t, err)
	var after signal.Signal
	for _, item := range corpus.Items() {
		after.Merge(item.Signal)
	}
	assert.Equal(t, before, after)
	// Minimization is idempotent.
	removed, err := corpus.Minimize()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestSampleCopy(t *testing.T) {
	r := rand.New(testutil.RandSource(t))
	corpus := newTestCorpus(t, "")
	assert.Nil(t, corpus.Sample(r))
	_, err := corpus.AddIfInteresting([]byte("abc"), success([]byte("abc"), "p"))
	require.NoError(t, err)
	data := corpus.Sample(r)
	data[0] = 'x'
	assert.Equal(t, []byte("abc"), corpus.Sample(r))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	corpus := newTestCorpus(t, dir)
	for i := 0; i < 5; i++ {
		data := []byte(fmt.Sprintf("input%v", i))
		_, err := corpus.AddIfInteresting(data, success(data, fmt.Sprintf("p%v", i), "common"))
		require.NoError(t, err)
	}
	res := &executor.Result{
		Size:    5,
		Outcome: executor.Timeout,
		Err:     "execution timed out",
		ErrKind: executor.KindTimeout,
		Elapsed: 5 * time.Millisecond,
	}
	_, err := corpus.AddIfInteresting([]byte("crash"), res)
	require.NoError(t, err)

	// Corrupt entries: wrong content, bad name, broken metadata.
	corrupted := hash.String([]byte("input0"))
	require.NoError(t, os.WriteFile(filepath.Join(corpus.Dir(), corrupted), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(corpus.Dir(), "README"), []byte("hi"), 0644))
	badCrash := []byte("bad crash")
	badID := hash.String(badCrash)
	require.NoError(t, os.WriteFile(filepath.Join(corpus.CrashDir(), badID), badCrash, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(corpus.CrashDir(), badID+".meta"),
		[]byte("time: [not a time"), 0644))
	// A crash without metadata is fine.
	bare := []byte("bare crash")
	require.NoError(t, os.WriteFile(filepath.Join(corpus.CrashDir(), hash.String(bare)), bare, 0644))

	loaded := newTestCorpus(t, dir)
	require.NoError(t, loaded.Load())
	assert.Equal(t, 4, loaded.Len())
	assert.Nil(t, loaded.Item(corrupted))
	assert.Equal(t, 2, loaded.CrashLen())
	// Coverage of loaded inputs is fed into the tracker.
	assert.Equal(t, 5, loaded.Tracker().Count())
	assert.False(t, loaded.Tracker().Update(signal.FromRaw("p1", "common")))

	crash := loaded.Crash(hash.String([]byte("crash")))
	require.NotNil(t, crash)
	assert.Equal(t, "timeout", crash.Meta.Outcome)
	assert.Equal(t, 5*time.Millisecond, crash.Meta.Elapsed)
	assert.Equal(t, "session", crash.Meta.Session)
	bareCrash := loaded.Crash(hash.String(bare))
	require.NotNil(t, bareCrash)
	assert.Equal(t, len(bare), bareCrash.Meta.Size)
	assert.Len(t, loaded.Crashes(), 2)
}

func TestMetaFromResult(t *testing.T) {
	res := &executor.Result{
		Size:    3,
		Outcome: executor.Differential,
		Err:     "a and b disagree",
		ErrKind: "differential",
		Differential: &executor.DifferentialInfo{
			Results: []executor.ImplResult{
				{Name: "a", Outcome: executor.Success, Value: "x"},
				{Name: "b", Outcome: executor.Success, Value: "y"},
			},
			First:  0,
			Second: 1,
			Diff:   "diff",
		},
		Stateful: &executor.StatefulInfo{
			Steps: 2,
			Failure: &executor.FailureRecord{
				Operations: []string{"put", "get"},
				Reason:     "bad",
			},
		},
	}
	meta := MetaFromResult(res)
	assert.Equal(t, "differential", meta.Outcome)
	assert.False(t, meta.Informational)
	assert.Equal(t, "a vs b", meta.Details["mismatch"])
	assert.Equal(t, "diff", meta.Details["diff"])
	assert.Equal(t, "put\nget", meta.Details["operations"])
	assert.Equal(t, "a: \"x\"\nb: \"y\"", meta.Details["implementations"])
}

func TestNewErrors(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	assert.Error(t, err)
}
