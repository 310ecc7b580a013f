// Copyright 2025 bytefuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package targets

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/bytefuzz/bytefuzz/pkg/executor"
	"github.com/bytefuzz/bytefuzz/pkg/fuzzer"
	"github.com/bytefuzz/bytefuzz/pkg/generator"
	"github.com/bytefuzz/bytefuzz/pkg/mutation"
	"github.com/bytefuzz/bytefuzz/pkg/signal"
	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"
)

func init() {
	Register("json-decoders", "encoding/json vs yaml.v3 vs sigs.k8s.io/yaml on the same document", newJSONDecoders)
}

const (
	kindSyntax          = "syntax"
	kindUnrepresentable = "unrepresentable"
)

type jsonConfig struct {
	// Names of the decoders to compare, all by default.
	Decoders []string `json:"decoders"`
	// Coverage is collected for values up to this nesting depth.
	MaxDepth int `json:"max_depth"`
}

var jsonDecoders = map[string]func(data []byte, v *any) error{
	"encoding-json": func(data []byte, v *any) error {
		return json.Unmarshal(data, v)
	},
	"yaml-v3": func(data []byte, v *any) error {
		return yamlv3.Unmarshal(data, v)
	},
	"k8s-yaml": func(data []byte, v *any) error {
		return yaml.Unmarshal(data, v)
	},
}

type decoderTarget struct {
	coverage
	name     string
	maxDepth int
	decode   func(data []byte, v *any) error
}

func newJSONDecoders(opts Options) (Spec, error) {
	cfg := jsonConfig{MaxDepth: 4}
	for name := range jsonDecoders {
		cfg.Decoders = append(cfg.Decoders, name)
	}
	sort.Strings(cfg.Decoders)
	if err := parseConfig(opts, &cfg); err != nil {
		return Spec{}, err
	}
	spec := Spec{
		DefaultMode: fuzzer.ModeDifferential,
		Modes:       []fuzzer.Mode{fuzzer.ModeDifferential},
		Generator:   generator.Func(generateJSON),
		Mutators:    []mutation.Mutator{mutation.Func("json-token", insertJSONToken)},
	}
	for _, name := range cfg.Decoders {
		decode := jsonDecoders[name]
		if decode == nil {
			return Spec{}, fmt.Errorf("unknown decoder %q", name)
		}
		spec.Impls = append(spec.Impls, executor.Named{
			Name: name,
			Target: &decoderTarget{
				name:     name,
				maxDepth: cfg.MaxDepth,
				decode:   decode,
			},
		})
	}
	return spec, nil
}

// Execute returns the document re-encoded as canonical JSON.
func (t *decoderTarget) Execute(ctx context.Context, data []byte) (any, error) {
	var sig signal.Signal
	defer func() { t.publish(sig) }()
	var v any
	if err := t.decode(data, &v); err != nil {
		sig.Add(signal.Point(t.name + ":reject"))
		return nil, executor.WithKind(kindSyntax, err)
	}
	t.walk(&sig, v, 0)
	out, err := json.Marshal(v)
	if err != nil {
		sig.Add(signal.Point(t.name + ":unrepresentable"))
		return nil, executor.WithKind(kindUnrepresentable, err)
	}
	return string(out), nil
}

func (t *decoderTarget) walk(sig *signal.Signal, v any, depth int) {
	if depth > t.maxDepth {
		return
	}
	sig.Add(signal.Point(fmt.Sprintf("%v:%v:%T", t.name, depth, v)))
	switch v := v.(type) {
	case map[string]any:
		sig.Add(signal.Point(fmt.Sprintf("%v:%v:keys:%v", t.name, depth, min(len(v), 4))))
		for _, elem := range v {
			t.walk(sig, elem, depth+1)
		}
	case map[any]any:
		for _, elem := range v {
			t.walk(sig, elem, depth+1)
		}
	case []any:
		sig.Add(signal.Point(fmt.Sprintf("%v:%v:elems:%v", t.name, depth, min(len(v), 4))))
		for _, elem := range v {
			t.walk(sig, elem, depth+1)
		}
	}
}

func generateJSON(r *rand.Rand, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("bad max size %v", maxSize)
	}
	buf := new(strings.Builder)
	genJSONValue(r, buf, 0)
	data := []byte(buf.String())
	if len(data) > maxSize {
		data = data[:maxSize]
	}
	return data, nil
}

var jsonWords = []string{"a", "key", "null", "true", "yes", "~", "0x10", "1e3", "-0", "on", "\\u00e9", "<<"}

func genJSONValue(r *rand.Rand, buf *strings.Builder, depth int) {
	kind := r.Intn(7)
	if depth >= 3 && kind >= 5 {
		kind = r.Intn(5)
	}
	switch kind {
	case 0:
		buf.WriteString([]string{"null", "true", "false"}[r.Intn(3)])
	case 1:
		buf.WriteString(strconv.FormatInt(r.Int63n(1<<20)-1<<19, 10))
	case 2:
		buf.WriteString(strconv.FormatFloat(r.NormFloat64()*1e3, 'g', -1, 64))
	case 3, 4:
		buf.WriteString(strconv.Quote(jsonWords[r.Intn(len(jsonWords))]))
	case 5:
		buf.WriteByte('[')
		for i, n := 0, r.Intn(4); i < n; i++ {
			if i != 0 {
				buf.WriteString(", ")
			}
			genJSONValue(r, buf, depth+1)
		}
		buf.WriteByte(']')
	case 6:
		buf.WriteByte('{')
		for i, n := 0, r.Intn(4); i < n; i++ {
			if i != 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(strconv.Quote(jsonWords[r.Intn(len(jsonWords))]))
			buf.WriteString(": ")
			genJSONValue(r, buf, depth+1)
		}
		buf.WriteByte('}')
	}
}

var jsonTokens = []string{"{", "}", "[", "]", ",", ":", `"`, "null", "0", "-", ".", "e", "\\", "\n", "\t", "# ", "&a", "*a", "!!str "}

func insertJSONToken(data []byte, r *rand.Rand) []byte {
	tok := jsonTokens[r.Intn(len(jsonTokens))]
	pos := r.Intn(len(data) + 1)
	res := make([]byte, 0, len(data)+len(tok))
	res = append(res, data[:pos]...)
	res = append(res, tok...)
	return append(res, data[pos:]...)
}
