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

// Package controller implements AdaptiveLoadController (§4.7): a two-stage
// session that repeatedly runs short measuring-period benchmarks through a
// StepController until it converges, is doomed, or the controller's own
// wall-clock convergence_deadline expires, then (if converged) runs one
// longer testing-stage benchmark at the converged traffic template.
package controller

import (
	"context"
	"time"

	"fortio.org/log"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/errkind"
	"github.com/envoyproxy/nighthawk-sub000/output"
)

// SessionStatus mirrors the closed set of outcomes an adaptive session can
// report (§4.7, §7).
type SessionStatus int

const (
	StatusUnspecified SessionStatus = iota
	StatusConverged
	StatusDoomed
	StatusDeadlineExceeded
	StatusFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusConverged:
		return "CONVERGED"
	case StatusDoomed:
		return "DOOMED"
	case StatusDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNSPECIFIED"
	}
}

// SessionResult is everything an AdaptiveLoadController.Run returns (§4.7).
type SessionResult struct {
	Status             SessionStatus
	Reason             string
	Iterations         int
	AdjustingResults   []BenchmarkResult
	TestingStageResult *output.Output // unset unless Status == StatusConverged
	ConvergedSpec      config.LoadSpec
}

// AdaptiveLoadController owns the adjusting-stage loop's wall-clock
// convergence_deadline itself (§9 DESIGN NOTES: "the controller, not the
// StepController, tracks the deadline"), since a StepController that never
// converges must not be trusted to end the session on its own.
type AdaptiveLoadController struct {
	Runner          BenchmarkRunner
	StepController  StepController
	MetricsPlugins  *MetricsPluginRegistry
	ScoringFuncs    *ScoringFunctionRegistry
	Spec            config.AdaptiveLoadSessionSpec
	Clock           func() time.Time
}

func (c *AdaptiveLoadController) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Run executes the adjusting stage until converged/doomed/deadline, then
// (only if converged) the testing stage, per §4.7.
func (c *AdaptiveLoadController) Run(ctx context.Context) (SessionResult, error) {
	deadline := c.now().Add(c.Spec.ConvergenceDeadline)
	result := SessionResult{}

	for {
		if doomed, reason := c.StepController.IsDoomed(); doomed {
			result.Status = StatusDoomed
			result.Reason = reason
			return result, nil
		}
		if c.StepController.IsConverged() {
			break
		}
		if !c.now().Before(deadline) {
			result.Status = StatusDeadlineExceeded
			result.Reason = "convergence_deadline exceeded before the step controller converged"
			return result, nil
		}

		spec := c.StepController.GetCurrentCommandLineOptions()
		spec.Duration = c.Spec.MeasuringPeriod
		spec.NoDuration = false

		out, err := c.Runner.Run(ctx, spec)
		if err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return result, errkind.New(errkind.PoolFailure, "adjusting-stage benchmark failed: %v", err)
		}

		scored, err := c.score(out)
		if err != nil {
			result.Status = StatusFailed
			result.Reason = err.Error()
			return result, err
		}

		result.Iterations++
		result.AdjustingResults = append(result.AdjustingResults, scored)
		log.LogVf("adaptive controller iteration %d: aggregate score %.3f", result.Iterations, scored.AggregateScore())

		c.StepController.UpdateAndRecompute(scored)

		select {
		case <-ctx.Done():
			result.Status = StatusFailed
			result.Reason = "cancelled"
			return result, ctx.Err()
		default:
		}
	}

	if doomed, reason := c.StepController.IsDoomed(); doomed {
		result.Status = StatusDoomed
		result.Reason = reason
		return result, nil
	}

	result.Status = StatusConverged
	result.ConvergedSpec = c.StepController.GetCurrentCommandLineOptions()

	testingSpec := result.ConvergedSpec
	testingSpec.Duration = c.Spec.TestingStageDuration
	testingSpec.NoDuration = false

	testingOut, err := c.Runner.Run(ctx, testingSpec)
	if err != nil {
		result.Status = StatusFailed
		result.Reason = err.Error()
		return result, errkind.New(errkind.PoolFailure, "testing-stage benchmark failed: %v", err)
	}
	result.TestingStageResult = &testingOut
	return result, nil
}

// score resolves every configured metric (thresholds and informational)
// against out, running each threshold metric's scoring function (§4.7).
func (c *AdaptiveLoadController) score(out output.Output) (BenchmarkResult, error) {
	result := BenchmarkResult{Metrics: map[string]float64{}, Scores: map[string]float64{}}

	resolve := func(spec config.MetricSpec) (float64, error) {
		plugin, err := c.MetricsPlugins.Resolve(spec.MetricsPluginName, config.PluginConfig{})
		if err != nil {
			return 0, err
		}
		value, ok := plugin.Metric(spec.MetricName, out)
		if !ok {
			return 0, errkind.New(errkind.InvalidConfiguration, "metrics plugin %q does not advertise metric %q", spec.MetricsPluginName, spec.MetricName)
		}
		return value, nil
	}

	for _, m := range c.Spec.InformationalMetrics {
		value, err := resolve(m)
		if err != nil {
			return BenchmarkResult{}, err
		}
		result.Metrics[m.MetricName] = value
	}

	for _, m := range c.Spec.MetricThresholds {
		value, err := resolve(m.MetricSpec)
		if err != nil {
			return BenchmarkResult{}, err
		}
		result.Metrics[m.MetricName] = value

		scorer, err := resolveScoringFunction(c.ScoringFuncs, m)
		if err != nil {
			return BenchmarkResult{}, err
		}
		score := scorer.Score(value)
		if m.Weight != 0 {
			score *= m.Weight
		}
		result.Scores[m.MetricName] = score
	}

	return result, nil
}
