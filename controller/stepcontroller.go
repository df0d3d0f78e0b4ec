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

// StepController drives the adjusting stage of an adaptive session (§4.7):
// each measuring-period benchmark's scored result feeds UpdateAndRecompute,
// which decides the next iteration's traffic template.
package controller

import (
	"github.com/envoyproxy/nighthawk-sub000/config"
)

// BenchmarkResult is one measuring-period benchmark's scored outcome, fed
// to a StepController after every adjusting-stage iteration (§4.7).
type BenchmarkResult struct {
	Metrics map[string]float64 // resolved metric values, keyed by metric name
	Scores  map[string]float64 // scoring function output, keyed by metric name
}

// AggregateScore is the minimum score across every scored metric: one
// failing metric fails the whole iteration, the way a termination chain's
// predicates are evaluated independently but any one firing stops the run.
func (r BenchmarkResult) AggregateScore() float64 {
	min := 1.0
	first := true
	for _, s := range r.Scores {
		if first || s < min {
			min = s
			first = false
		}
	}
	if first {
		return 0
	}
	return min
}

// StepController is the pluggable adjusting-stage strategy (§4.7, §9
// DESIGN NOTES' plugin-registry pattern).
type StepController interface {
	// IsConverged reports whether the session has found a traffic
	// template it's satisfied with and should move to the testing stage.
	IsConverged() bool
	// IsDoomed reports whether the session can never converge and should
	// abort, plus a human-readable reason.
	IsDoomed() (bool, string)
	// GetCurrentCommandLineOptions returns the LoadSpec to run for the
	// next (or first) adjusting-stage iteration.
	GetCurrentCommandLineOptions() config.LoadSpec
	// UpdateAndRecompute folds one iteration's scored result into the
	// controller's internal state, possibly changing what
	// GetCurrentCommandLineOptions and IsConverged/IsDoomed return next.
	UpdateAndRecompute(result BenchmarkResult)
}

// StepControllerFactory builds a StepController from its template and
// opaque config.
type StepControllerFactory func(template config.LoadSpec, cfg map[string]any) (StepController, error)

// StepControllerRegistry is the name -> factory map for step controllers.
type StepControllerRegistry struct {
	factories map[string]StepControllerFactory
}

// NewStepControllerRegistry creates a registry pre-populated with the
// binary-search built-in.
func NewStepControllerRegistry() *StepControllerRegistry {
	r := &StepControllerRegistry{factories: map[string]StepControllerFactory{}}
	r.Register("nighthawk.binary_search", newBinarySearchStepController)
	return r
}

// Register adds a named step controller factory.
func (r *StepControllerRegistry) Register(name string, factory StepControllerFactory) {
	r.factories[name] = factory
}

// Resolve builds the named step controller.
func (r *StepControllerRegistry) Resolve(name string, template config.LoadSpec, cfg map[string]any) (StepController, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, errUnknownStepController(name)
	}
	return factory(template, cfg)
}

type errUnknownStepController string

func (e errUnknownStepController) Error() string {
	return "unknown step controller " + string(e)
}

// binarySearchStepController narrows requests_per_second between a known
// passing and known failing bound, converging once the bracket is within
// tolerance of the lower bound (§4.7 exponential-then-binary search).
type binarySearchStepController struct {
	template config.LoadSpec

	low      float64 // highest known-good rps
	high     float64 // lowest known-bad rps, 0 means "not yet found"
	current  float64
	maxIters int
	iters    int

	converged bool
	doomed    bool
	doomedMsg string
}

const binarySearchConvergenceTolerance = 0.05 // fraction of low

func newBinarySearchStepController(template config.LoadSpec, cfg map[string]any) (StepController, error) {
	start := float64(template.RequestsPerSecond)
	if start <= 0 {
		start = float64(config.DefaultRequestsPerSecond)
	}
	maxIters := 16
	if v, ok := cfg["max_iterations"]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			maxIters = int(f)
		}
	}
	return &binarySearchStepController{
		template: template,
		low:      0,
		high:     0,
		current:  start,
		maxIters: maxIters,
	}, nil
}

func (c *binarySearchStepController) IsConverged() bool { return c.converged }

func (c *binarySearchStepController) IsDoomed() (bool, string) { return c.doomed, c.doomedMsg }

func (c *binarySearchStepController) GetCurrentCommandLineOptions() config.LoadSpec {
	spec := c.template
	spec.RequestsPerSecond = uint(c.current)
	return spec
}

func (c *binarySearchStepController) UpdateAndRecompute(result BenchmarkResult) {
	c.iters++
	passed := result.AggregateScore() >= 0

	if passed {
		c.low = c.current
	} else {
		c.high = c.current
	}

	switch {
	case passed && c.high == 0:
		// No failing upper bound yet: keep doubling (exponential search).
		c.current = c.low * 2
		if c.current <= 0 {
			c.current = float64(config.DefaultRequestsPerSecond)
		}
	case c.high > 0 && c.low > 0:
		c.current = (c.low + c.high) / 2
		if c.high-c.low <= c.low*binarySearchConvergenceTolerance {
			c.converged = true
		}
	case !passed && c.low == 0:
		// First iteration already failed: nothing to converge towards.
		c.doomed = true
		c.doomedMsg = "initial requests_per_second already fails every scored metric"
	}

	if !c.converged && !c.doomed && c.iters >= c.maxIters {
		c.doomed = true
		c.doomedMsg = "exceeded max_iterations without converging"
	}
}

// NeverConvergingStepController is a test double (§7 scenario: "a
// StepController that never converges") that always reports the same
// template and never converges or declares itself doomed, so the
// controller's own convergence_deadline is what ends the session.
type NeverConvergingStepController struct {
	Template config.LoadSpec
}

func (n *NeverConvergingStepController) IsConverged() bool       { return false }
func (n *NeverConvergingStepController) IsDoomed() (bool, string) { return false, "" }
func (n *NeverConvergingStepController) GetCurrentCommandLineOptions() config.LoadSpec {
	return n.Template
}
func (n *NeverConvergingStepController) UpdateAndRecompute(BenchmarkResult) {}
