// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytefuzz/bytefuzz/pkg/cover"
	"github.com/bytefuzz/bytefuzz/pkg/db"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/hash"
	"github.com/bytefuzz/bytefuzz/pkg/mgrconfig"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/osutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, target, targetConfig string) *mgrconfig.Config {
	cfg := mgrconfig.DefaultValues()
	cfg.Target = target
	if targetConfig != "" {
		cfg.TargetConfig = json.RawMessage(targetConfig)
	}
	cfg.Workdir = t.TempDir()
	cfg.Iterations = 300
	cfg.Seeds = 10
	cfg.RandomSeed = 1
	cfg.ReportInterval = 100
	cfg.MaxInputSize = 64
	require.NoError(t, mgrconfig.Complete(cfg))
	return cfg
}

func runSession(t *testing.T, cfg *mgrconfig.Config) (*Session, fuzzer.Statistics) {
	s, err := NewSession(cfg)
	require.NoError(t, err)
	st, err := s.Run(context.Background())
	require.NoError(t, err)
	return s, st
}

func TestSession(t *testing.T) {
	cfg := testConfig(t, "reader", `{"size": 16, "unchecked": true}`)
	cfg.JSONReport = filepath.Join(cfg.Workdir, "report.json")
	s, st := runSession(t, cfg)
	assert.Equal(t, fuzzer.ModeSingle, s.Mode)
	assert.Equal(t, 300, st.Iterations)
	assert.NotZero(t, st.CorpusSize)
	assert.NotZero(t, st.Crashes)
	assert.NotEmpty(t, st.Mutators)
	for _, crash := range s.Corpus.Crashes() {
		assert.Equal(t, s.ID, crash.Meta.Session)
		assert.Equal(t, "reader", crash.Meta.Target)
		assert.Equal(t, "single", crash.Meta.Mode)
	}
	report, err := os.ReadFile(cfg.JSONReport)
	require.NoError(t, err)
	assert.Contains(t, string(report), `"type":"statistics"`)

	// The second session starts from the persisted corpus and skips seeding.
	cfg.JSONReport = ""
	cfg.Iterations = 1
	cfg.Minimize = true
	s2, st2 := runSession(t, cfg)
	assert.Equal(t, 1, st2.Executions)
	assert.NotZero(t, s2.Corpus.Len())
	assert.LessOrEqual(t, s2.Corpus.Len(), st.CorpusSize+1)
}

func TestSessionModes(t *testing.T) {
	tests := []struct {
		target string
		mode   string
		want   fuzzer.Mode
	}{
		{"json-decoders", "", fuzzer.ModeDifferential},
		{"lru-cache", "", fuzzer.ModeStateful},
		{"lru-cache", "single", fuzzer.ModeSingle},
		{"xz-roundtrip", "", fuzzer.ModeSingle},
	}
	for _, test := range tests {
		test := test
		t.Run(test.target+"/"+test.mode, func(t *testing.T) {
			cfg := testConfig(t, test.target, "")
			cfg.Mode = test.mode
			cfg.Iterations = 50
			s, st := runSession(t, cfg)
			assert.Equal(t, test.want, s.Mode)
			assert.Equal(t, 50, st.Iterations)
			assert.Zero(t, st.LoopPanics)
		})
	}
}

func TestSessionPerformance(t *testing.T) {
	cfg := testConfig(t, "sleep", `{"base_us": 10}`)
	cfg.Iterations = 20
	cfg.BaselineIterations = 5
	s, _ := runSession(t, cfg)
	assert.Equal(t, fuzzer.ModePerformance, s.Mode)
	assert.Equal(t, 5, s.Fuzzer.Baseline().Count)
}

func TestSessionEnhancedCoverage(t *testing.T) {
	cfg := testConfig(t, "lru-cache", "")
	cfg.EnhancedCoverage = true
	s, st := runSession(t, cfg)
	tracker, ok := s.Corpus.Tracker().(*cover.Enhanced)
	require.True(t, ok)
	assert.NotZero(t, tracker.Paths())
	assert.NotZero(t, tracker.DistinctValues("lru:len"))
	assert.NotZero(t, st.CorpusSize)
}

func TestSessionErrors(t *testing.T) {
	cfg := testConfig(t, "foo", "")
	_, err := NewSession(cfg)
	assert.Error(t, err)

	cfg = testConfig(t, "json-decoders", "")
	cfg.Mode = mgrconfig.ModeStateful
	_, err = NewSession(cfg)
	assert.ErrorIs(t, err, fuzzer.ErrConfig)
}

func TestSessionSeedsAndPlainMutation(t *testing.T) {
	cfg := testConfig(t, "reader", "")
	seedDir := filepath.Join(cfg.Workdir, "seeds")
	require.NoError(t, osutil.MkdirAll(seedDir))
	require.NoError(t, osutil.WriteFile(filepath.Join(seedDir, "a"), []byte{0, 1, 0, 4}))
	require.NoError(t, osutil.WriteFile(filepath.Join(seedDir, "b"), []byte{1, 2, 0, 0}))
	cfg.Generator = mgrconfig.GeneratorSeeds
	cfg.SeedDir = seedDir
	cfg.Guided = false
	cfg.Seeds = 2
	cfg.Iterations = 10
	require.NoError(t, mgrconfig.Complete(cfg))
	s, st := runSession(t, cfg)
	_, guided := s.mutator().(*mutation.Guided)
	assert.False(t, guided)
	assert.Empty(t, st.Mutators)
	assert.NotNil(t, s.Corpus.Item(hash.String([]byte{0, 1, 0, 4})))
	assert.NotNil(t, s.Corpus.Item(hash.String([]byte{1, 2, 0, 0})))
}

func TestMutatorWiring(t *testing.T) {
	cfg := testConfig(t, "json-decoders", "")
	s, err := NewSession(cfg)
	require.NoError(t, err)
	defer s.Close()
	guided, ok := s.mutator().(*mutation.Guided)
	require.True(t, ok)
	var names []string
	for _, m := range guided.Mutators() {
		names = append(names, m.Name())
	}
	assert.Contains(t, names, "json-token")
	assert.Contains(t, names, "bitflip")
}

func TestHTTP(t *testing.T) {
	cfg := testConfig(t, "reader", `{"size": 16, "unchecked": true}`)
	s, _ := runSession(t, cfg)
	srv := httptest.NewServer((&HTTPServer{Session: s}).Handler())
	defer srv.Close()
	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "session "+s.ID)
	assert.Contains(t, body, "exec total")

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "bytefuzz_exec_total")
	assert.Contains(t, body, "bytefuzz_corpus_inputs")

	code, body = get("/corpus")
	assert.Equal(t, http.StatusOK, code)
	var entries []CorpusEntry
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	assert.Len(t, entries, s.Corpus.Len())

	code, body = get("/crashes")
	assert.Equal(t, http.StatusOK, code)
	var crashes []CrashEntry
	require.NoError(t, json.Unmarshal([]byte(body), &crashes))
	require.NotEmpty(t, crashes)
	assert.Equal(t, "exception", crashes[0].Meta.Outcome)

	code, body = get("/crash?id=" + crashes[0].ID)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "stack")
	code, body = get("/input?id=" + crashes[0].ID)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, s.Corpus.Crash(crashes[0].ID).Data, []byte(body))
	code, _ = get("/crash?id=foo")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get("/nonexistent")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = get("/config")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"target": "reader"`)

	code, body = get("/corpus.db")
	assert.Equal(t, http.StatusOK, code)
	file := filepath.Join(t.TempDir(), "corpus.db")
	require.NoError(t, osutil.WriteFile(file, []byte(body)))
	n, err := db.UnpackDir(file, filepath.Join(t.TempDir(), "unpacked"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, s.Corpus.Len())
}

func TestServe(t *testing.T) {
	cfg := testConfig(t, "reader", "")
	cfg.HTTP = "127.0.0.1:0"
	s, err := NewSession(cfg)
	require.NoError(t, err)
	defer s.Close()
	serv := &HTTPServer{Session: s, addr: make(chan string, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- serv.Serve(ctx)
	}()
	addr := <-serv.addr
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "bytefuzz_"))
	cancel()
	assert.NoError(t, <-errc)
}
