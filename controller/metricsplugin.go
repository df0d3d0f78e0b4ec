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

// MetricsPlugin and its registry (§4.7, §9 DESIGN NOTES: "small trait
// plus a registry keyed by string name" replacing the source's
// inheritance-heavy plugin registration). The built-in plugin is named
// "nighthawk.builtin" and derives its metrics from a benchmark's own
// Output, the way the real nighthawk.builtin plugin derives everything
// from counters/statistics already present in the result, no extra
// instrumentation required.
package controller

import (
	"fmt"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/output"
	"github.com/envoyproxy/nighthawk-sub000/stats"
)

// BuiltinMetricsPluginName is the always-registered plugin name (§4.7).
const BuiltinMetricsPluginName = "nighthawk.builtin"

// MetricsPlugin resolves named metrics out of a benchmark's Output (§4.7).
type MetricsPlugin interface {
	Name() string
	// Metric returns the named metric's value, or ok=false if this
	// plugin doesn't advertise that name.
	Metric(metricName string, result output.Output) (value float64, ok bool)
	// AdvertisedMetrics lists every metric name this plugin can resolve.
	AdvertisedMetrics() []string
}

// MetricsPluginFactory builds a MetricsPlugin from its opaque config.
type MetricsPluginFactory func(cfg config.PluginConfig) (MetricsPlugin, error)

// MetricsPluginRegistry is the name -> factory map (§9 plugin contract).
type MetricsPluginRegistry struct {
	factories map[string]MetricsPluginFactory
	builtin   MetricsPlugin
}

// NewMetricsPluginRegistry creates a registry pre-populated with the
// built-in plugin.
func NewMetricsPluginRegistry() *MetricsPluginRegistry {
	return &MetricsPluginRegistry{
		factories: map[string]MetricsPluginFactory{},
		builtin:   &builtinMetricsPlugin{},
	}
}

// Register adds a named external plugin factory.
func (r *MetricsPluginRegistry) Register(name string, factory MetricsPluginFactory) {
	r.factories[name] = factory
}

// Resolve looks up the built-in plugin or builds one from its factory and
// config (§6: "every referenced metrics_plugin_name resolves to either
// nighthawk.builtin or a declared plugin config").
func (r *MetricsPluginRegistry) Resolve(name string, cfg config.PluginConfig) (MetricsPlugin, error) {
	if name == BuiltinMetricsPluginName {
		return r.builtin, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown metrics plugin %q", name)
	}
	return factory(cfg)
}

// builtinMetricsPlugin derives metrics from the global record of an
// Output: mean/p50/p90/p99 latency (sequencer.callback), success_rate,
// and send_rate.
type builtinMetricsPlugin struct{}

func (b *builtinMetricsPlugin) Name() string { return BuiltinMetricsPluginName }

func (b *builtinMetricsPlugin) AdvertisedMetrics() []string {
	return []string{
		"mean_latency_ns", "latency_p50_ns", "latency_p90_ns", "latency_p99_ns",
		"success_rate", "send_rate",
	}
}

func (b *builtinMetricsPlugin) Metric(name string, result output.Output) (float64, bool) {
	global := globalRecord(result)
	if global == nil {
		return 0, false
	}
	switch name {
	case "mean_latency_ns":
		ns := namedStatisticByName(global, "sequencer.callback")
		if ns == nil {
			return 0, false
		}
		return durationNanos(ns.Wire.MeanDuration), true
	case "latency_p50_ns":
		return percentile(global, 0.5)
	case "latency_p90_ns":
		return percentile(global, 0.9)
	case "latency_p99_ns":
		return percentile(global, 0.99)
	case "success_rate":
		return successRate(global), true
	case "send_rate":
		return sendRate(global), true
	default:
		return 0, false
	}
}

func globalRecord(result output.Output) *output.Record {
	for i := range result.Results {
		if result.Results[i].Name == "global" {
			return &result.Results[i]
		}
	}
	return nil
}

func namedStatisticByName(rec *output.Record, name string) *output.NamedStatistic {
	for i := range rec.Statistics {
		if rec.Statistics[i].Name == name {
			return &rec.Statistics[i]
		}
	}
	return nil
}

func durationNanos(d stats.DurationValue) float64 {
	return float64(d.Seconds)*1e9 + float64(d.Nanos)
}

func percentile(rec *output.Record, want float64) (float64, bool) {
	ns := namedStatisticByName(rec, "sequencer.callback")
	if ns == nil {
		return 0, false
	}
	for _, p := range ns.Wire.Percentiles {
		if p.Percentile == want {
			return p.Raw, true
		}
	}
	return 0, false
}

func successRate(rec *output.Record) float64 {
	total := rec.Counters["benchmark.total_req_sent"]
	if total == 0 {
		return 0
	}
	failures := rec.Counters["benchmark.http_4xx"] + rec.Counters["benchmark.http_5xx"] +
		rec.Counters["benchmark.stream_resets"] + rec.Counters["benchmark.pool_overflow"] +
		rec.Counters["benchmark.pool_connection_failure"]
	if failures > total {
		failures = total
	}
	return float64(total-failures) / float64(total)
}

func sendRate(rec *output.Record) float64 {
	if rec.ExecutionDuration <= 0 {
		return 0
	}
	return float64(rec.Counters["benchmark.total_req_sent"]) / rec.ExecutionDuration.Seconds()
}
