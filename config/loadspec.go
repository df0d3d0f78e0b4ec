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

// LoadSpec and AdaptiveLoadSessionSpec (§3, §6) and their normalization
// and validation, grounded on periodic.RunnerOptions.Normalize -
// generalized from "fill in zero-value defaults" to also aggregating
// every validation problem via errors.Join (§7 InvalidConfiguration: "a
// message enumerating all problems"), the way fhttp.HTTPOptions.Init and
// bincommon's flag validation fail closed rather than on the first error.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Protocol mirrors client.Protocol without importing the client package,
// keeping config a leaf dependency the way the teacher keeps
// periodic.RunnerOptions free of fhttp-specific types.
type Protocol string

const (
	ProtocolH1 Protocol = "H1"
	ProtocolH2 Protocol = "H2"
	ProtocolH3 Protocol = "H3"
)

// IdleStrategy mirrors sequencer.IdleStrategy as a config-layer string enum.
type IdleStrategy string

const (
	IdleSpin  IdleStrategy = "SPIN"
	IdlePoll  IdleStrategy = "POLL"
	IdleSleep IdleStrategy = "SLEEP"
)

// Default values, named the way periodic.DefaultRunnerOptions documents
// its own (periodic.go).
const (
	DefaultRequestsPerSecond = 5
	DefaultConnections       = 1
	DefaultDuration          = 5 * time.Second
	DefaultTimeout           = 5 * time.Second
	DefaultConcurrency       = 1
	DefaultMeasuringPeriod   = 10 * time.Second
	DefaultTestingDuration   = 30 * time.Second
	DefaultConvergenceDeadline = 300 * time.Second
)

// LoadSpec is the structured load specification the core consumes (§6).
type LoadSpec struct {
	RequestsPerSecond   uint
	Connections         uint
	Duration            time.Duration
	NoDuration          bool
	Timeout             time.Duration
	Protocol            Protocol
	Concurrency         string // numeric string, or "auto"
	BurstSize           uint
	PrefetchConnections bool
	OpenLoop            bool

	MaxPendingRequests      uint
	MaxActiveRequests       uint
	MaxRequestsPerConn      uint
	MaxConcurrentStreams    uint

	RequestMethod   string
	RequestHeaders  map[string][]string
	RequestBodySize uint

	SequencerIdleStrategy IdleStrategy
	JitterUniform         time.Duration

	TerminationPredicates map[string]uint64
	FailurePredicates     map[string]uint64
}

// Normalize fills in zero-value defaults, mirroring
// periodic.RunnerOptions.Normalize's shape (periodic.go).
func (s *LoadSpec) Normalize() {
	if s.RequestsPerSecond == 0 {
		s.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if s.Connections == 0 {
		s.Connections = DefaultConnections
	}
	if s.Duration == 0 && !s.NoDuration {
		s.Duration = DefaultDuration
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Protocol == "" {
		s.Protocol = ProtocolH1
	}
	if s.Concurrency == "" {
		s.Concurrency = fmt.Sprintf("%d", DefaultConcurrency)
	}
	if s.SequencerIdleStrategy == "" {
		s.SequencerIdleStrategy = IdleSpin
	}
	if !s.OpenLoop {
		s.OpenLoop = true
	}
}

// BurstingEnabled implements the preserved open question #2: both
// burst_size 0 and 1 disable the Bursting rate-limiter wrapper.
func (s *LoadSpec) BurstingEnabled() bool {
	return s.BurstSize > 1
}

// Validate aggregates every problem with errors.Join rather than
// returning on the first one (§7).
func (s *LoadSpec) Validate() error {
	var errs []error
	if s.RequestsPerSecond < 1 {
		errs = append(errs, fmt.Errorf("requests_per_second must be >= 1, got %d", s.RequestsPerSecond))
	}
	if s.Connections < 1 {
		errs = append(errs, fmt.Errorf("connections must be >= 1, got %d", s.Connections))
	}
	if !s.NoDuration && s.Duration < time.Second {
		errs = append(errs, fmt.Errorf("duration must be >= 1s, got %v", s.Duration))
	}
	if s.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("timeout must be >= 1s, got %v", s.Timeout))
	}
	switch s.Protocol {
	case ProtocolH1, ProtocolH2, ProtocolH3:
	default:
		errs = append(errs, fmt.Errorf("protocol must be one of H1, H2, H3, got %q", s.Protocol))
	}
	if s.Concurrency != "auto" {
		var n int
		if _, err := fmt.Sscanf(s.Concurrency, "%d", &n); err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("concurrency must be a positive integer or \"auto\", got %q", s.Concurrency))
		}
	}
	switch s.SequencerIdleStrategy {
	case IdleSpin, IdlePoll, IdleSleep:
	default:
		errs = append(errs, fmt.Errorf("sequencer_idle_strategy must be one of SPIN, POLL, SLEEP, got %q", s.SequencerIdleStrategy))
	}
	if s.JitterUniform < 0 {
		errs = append(errs, fmt.Errorf("jitter_uniform must be >= 0, got %v", s.JitterUniform))
	}
	return errors.Join(errs...)
}

// AdaptiveLoadSessionSpec wraps a base LoadSpec with the adaptive-session
// fields (§3, §6). Referential checks that require the controller's
// plugin/scoring-function/step-controller registries live in the
// controller package; ValidateShape here only checks what's knowable
// without those registries.
type AdaptiveLoadSessionSpec struct {
	BaseTrafficTemplate LoadSpec // duration and open_loop must be zero/absent

	MeasuringPeriod     time.Duration
	TestingStageDuration time.Duration
	ConvergenceDeadline time.Duration

	StepControllerConfig PluginConfig
	MetricThresholds     []MetricSpecWithThreshold
	InformationalMetrics []MetricSpec
	MetricsPluginConfigs []PluginConfig
}

// PluginConfig is the opaque, name-keyed configuration blob for a
// registered plugin factory (ScoringFunction, MetricsPlugin,
// StepController, RequestSource), per §9 DESIGN NOTES' plugin-registry
// pattern. Config is deliberately a map[string]any escape hatch rather
// than a generated proto type (documented non-goal).
type PluginConfig struct {
	FactoryName string
	Config      map[string]any
}

// MetricSpec names one metric a MetricsPlugin advertises.
type MetricSpec struct {
	MetricsPluginName string
	MetricName        string
}

// MetricSpecWithThreshold adds a ScoringFunction and its weight to a
// MetricSpec (§4.7).
type MetricSpecWithThreshold struct {
	MetricSpec
	ScoringFunctionName string
	ScoringFunctionConfig map[string]any
	Weight                float64 // defaults to 1.0; Normalize turns 0.0 into 1.0
}

// Normalize fills in adaptive-session defaults.
func (a *AdaptiveLoadSessionSpec) Normalize() {
	tmpl := &a.BaseTrafficTemplate
	duration, noDuration, openLoop := tmpl.Duration, tmpl.NoDuration, tmpl.OpenLoop
	tmpl.Normalize()
	// duration and open_loop stay as given: the controller owns them.
	tmpl.Duration, tmpl.NoDuration, tmpl.OpenLoop = duration, noDuration, openLoop
	if a.MeasuringPeriod == 0 {
		a.MeasuringPeriod = DefaultMeasuringPeriod
	}
	if a.TestingStageDuration == 0 {
		a.TestingStageDuration = DefaultTestingDuration
	}
	if a.ConvergenceDeadline == 0 {
		a.ConvergenceDeadline = DefaultConvergenceDeadline
	}
	for i := range a.MetricThresholds {
		if a.MetricThresholds[i].Weight == 0 {
			a.MetricThresholds[i].Weight = 1.0
		}
	}
}

// ValidateShape checks everything an AdaptiveLoadSessionSpec must
// satisfy without consulting the controller's plugin registries (§6):
// the base template must not carry duration/open_loop, and
// MetricsPlugin configs must not repeat a name (open question #3:
// reject duplicates rather than letting the last one win).
func (a *AdaptiveLoadSessionSpec) ValidateShape() error {
	var errs []error
	if a.BaseTrafficTemplate.Duration != 0 {
		errs = append(errs, errors.New("base traffic template must not set duration; the controller owns it"))
	}
	if a.BaseTrafficTemplate.NoDuration {
		errs = append(errs, errors.New("base traffic template must not set no_duration; the controller owns it"))
	}
	if a.BaseTrafficTemplate.OpenLoop {
		errs = append(errs, errors.New("base traffic template must not set open_loop; the controller owns it"))
	}
	// Validate everything else about the template with a placeholder
	// duration, since the controller (not the user) supplies the real one
	// per iteration.
	probe := a.BaseTrafficTemplate
	probe.Duration = time.Second
	if err := probe.Validate(); err != nil {
		errs = append(errs, err)
	}
	if a.MeasuringPeriod < 0 {
		errs = append(errs, fmt.Errorf("measuring_period must be >= 0, got %v", a.MeasuringPeriod))
	}
	if a.TestingStageDuration < 0 {
		errs = append(errs, fmt.Errorf("testing_stage_duration must be >= 0, got %v", a.TestingStageDuration))
	}
	if a.ConvergenceDeadline <= 0 {
		errs = append(errs, fmt.Errorf("convergence_deadline must be > 0, got %v", a.ConvergenceDeadline))
	}

	seen := map[string]int{}
	for _, p := range a.MetricsPluginConfigs {
		seen[p.FactoryName]++
	}
	var dups []string
	for name, count := range seen {
		if count > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		errs = append(errs, fmt.Errorf("duplicate metrics_plugin_config names: %v", dups))
	}
	return errors.Join(errs...)
}
