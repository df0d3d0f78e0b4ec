// Copyright 2017 Fortio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// ScoringFunction and its registry (§4.7): Binary, Linear and Sigmoid are
// the three built-ins; a grol-scripted function is also registered so a
// session can supply its own curve without a Go build, mirroring
// grol.ScriptMode's use of the scripting engine for end-user logic
// (grol/grol.go).
package controller

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"grol.io/grol/eval"
	"grol.io/grol/repl"

	"github.com/envoyproxy/nighthawk-sub000/config"
)

// ScoringFunction maps a metric's raw value to a score, where >= 0 means
// "acceptable" and < 0 means "this metric is failing" (§4.7).
type ScoringFunction interface {
	Score(value float64) float64
}

// ScoringFunctionFactory builds a ScoringFunction from its opaque config.
type ScoringFunctionFactory func(cfg map[string]any) (ScoringFunction, error)

// ScoringFunctionRegistry is the name -> factory map for scoring functions.
type ScoringFunctionRegistry struct {
	factories map[string]ScoringFunctionFactory
}

// NewScoringFunctionRegistry creates a registry pre-populated with the
// binary, linear, sigmoid and grol built-ins.
func NewScoringFunctionRegistry() *ScoringFunctionRegistry {
	r := &ScoringFunctionRegistry{factories: map[string]ScoringFunctionFactory{}}
	r.Register("nighthawk.binary", newBinaryScoringFunction)
	r.Register("nighthawk.linear", newLinearScoringFunction)
	r.Register("nighthawk.sigmoid", newSigmoidScoringFunction)
	r.Register("nighthawk.grol", newGrolScoringFunction)
	return r
}

// Register adds a named scoring function factory.
func (r *ScoringFunctionRegistry) Register(name string, factory ScoringFunctionFactory) {
	r.factories[name] = factory
}

// Resolve builds the named scoring function.
func (r *ScoringFunctionRegistry) Resolve(name string, cfg map[string]any) (ScoringFunction, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown scoring function %q", name)
	}
	return factory(cfg)
}

func configFloat(cfg map[string]any, key string, def float64) float64 {
	if v, ok := cfg[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// binaryScoringFunction scores 1.0 when value falls within
// [lower_threshold, upper_threshold] inclusive, -1.0 otherwise (§4.7
// "pass/fail with no gradient"), mirroring
// BinaryScoringFunction::EvaluateMetric
// (_examples/original_source/source/adaptive_load/scoring_function_impl.cc):
// "value <= upper_threshold_ && value >= lower_threshold_ ? 1.0 : -1.0".
// A bound left unset in the config defaults to +-infinity, so a
// threshold that only specifies one side (e.g. a success-rate floor)
// is expressible.
type binaryScoringFunction struct {
	lower, upper float64
}

func newBinaryScoringFunction(cfg map[string]any) (ScoringFunction, error) {
	return &binaryScoringFunction{
		lower: configFloat(cfg, "lower_threshold", math.Inf(-1)),
		upper: configFloat(cfg, "upper_threshold", math.Inf(1)),
	}, nil
}

func (b *binaryScoringFunction) Score(value float64) float64 {
	if value >= b.lower && value <= b.upper {
		return 1.0
	}
	return -1.0
}

// linearScoringFunction scores scaling_constant * (threshold - value),
// mirroring LinearScoringFunction::EvaluateMetric
// (_examples/original_source/source/adaptive_load/scoring_function_impl.cc):
// "scaling_constant_ * (threshold_ - value)". scaling_constant of 0 is
// accepted rather than rejected - it's a degenerate but valid choice
// there too, scoring every value exactly 0.
type linearScoringFunction struct {
	threshold       float64
	scalingConstant float64
}

func newLinearScoringFunction(cfg map[string]any) (ScoringFunction, error) {
	return &linearScoringFunction{
		threshold:       configFloat(cfg, "threshold", 0),
		scalingConstant: configFloat(cfg, "scaling_constant", 1),
	}, nil
}

func (l *linearScoringFunction) Score(value float64) float64 {
	return l.scalingConstant * (l.threshold - value)
}

// sigmoidScoringFunction is a smooth pass/fail curve centered on threshold
// with slope controlled by k, avoiding the discontinuity of Binary while
// still saturating towards +-1 (§4.7).
type sigmoidScoringFunction struct {
	threshold float64
	k         float64
}

func newSigmoidScoringFunction(cfg map[string]any) (ScoringFunction, error) {
	k := configFloat(cfg, "k", 1)
	if k == 0 {
		k = 1
	}
	return &sigmoidScoringFunction{threshold: configFloat(cfg, "threshold", 0), k: k}, nil
}

func (s *sigmoidScoringFunction) Score(value float64) float64 {
	x := (s.threshold - value) / s.k
	return 2/(1+math.Exp(-x)) - 1
}

// grolScoringFunction evaluates a user-supplied grol script against the
// metric value, the same eval.NewState/repl.EvalAll pairing grol.ScriptMode
// uses to run a script file (grol/grol.go). The metric value is bound as
// a "value" assignment prepended to the script; the script's last printed
// value is parsed back out as the score.
type grolScoringFunction struct {
	script string
}

func newGrolScoringFunction(cfg map[string]any) (ScoringFunction, error) {
	script, _ := cfg["script"].(string)
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("nighthawk.grol: config.script must be a non-empty grol expression")
	}
	return &grolScoringFunction{script: script}, nil
}

func (g *grolScoringFunction) Score(value float64) float64 {
	program := fmt.Sprintf("value = %s\n%s\n", strconv.FormatFloat(value, 'g', -1, 64), g.script)

	state := eval.NewState()
	var out bytes.Buffer
	options := repl.Options{ShowEval: true}
	if errs := repl.EvalAll(state, strings.NewReader(program), &out, options); len(errs) > 0 {
		return -1.0
	}
	return parseTrailingFloat(out.String())
}

// parseTrailingFloat reads the last whitespace-separated token off grol's
// printed output and parses it as the score; a script that prints nothing
// parseable scores -1 (doomed, fail closed).
func parseTrailingFloat(s string) float64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return -1.0
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return -1.0
	}
	return v
}

// resolveScoringFunction is a convenience used by the controller to
// resolve a config.MetricSpecWithThreshold's named scoring function.
func resolveScoringFunction(r *ScoringFunctionRegistry, m config.MetricSpecWithThreshold) (ScoringFunction, error) {
	return r.Resolve(m.ScoringFunctionName, m.ScoringFunctionConfig)
}
