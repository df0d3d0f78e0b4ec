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

package controller

import (
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/envoyproxy/nighthawk-sub000/config"
	"github.com/envoyproxy/nighthawk-sub000/output"
	"github.com/envoyproxy/nighthawk-sub000/stats"
)

func sampleOutput(n int) output.Output {
	stat := stats.NewHDR("sequencer.callback", 0)
	for i := 0; i < n; i++ {
		stat.AddValue(uint64(1_000_000 + i*10_000))
	}
	return output.Output{
		Results: []output.Record{
			{
				Name: "global",
				Statistics: []output.NamedStatistic{
					{Name: "sequencer.callback", Wire: stat.ToWire(stats.DomainDuration)},
				},
				Counters: map[string]uint64{
					"benchmark.total_req_sent": uint64(n),
					"benchmark.http_2xx":       uint64(n),
				},
				ExecutionDuration: time.Second,
			},
		},
	}
}

func TestBuiltinMetricsPluginResolvesLatencyAndRates(t *testing.T) {
	plugin := &builtinMetricsPlugin{}
	out := sampleOutput(100)

	mean, ok := plugin.Metric("mean_latency_ns", out)
	assert.True(t, ok)
	assert.True(t, mean > 0)

	p50, ok := plugin.Metric("latency_p50_ns", out)
	assert.True(t, ok)
	assert.True(t, p50 > 0)

	success, ok := plugin.Metric("success_rate", out)
	assert.True(t, ok)
	assert.Equal(t, 1.0, success)

	rate, ok := plugin.Metric("send_rate", out)
	assert.True(t, ok)
	assert.Equal(t, 100.0, rate)
}

func TestBuiltinMetricsPluginUnknownMetric(t *testing.T) {
	plugin := &builtinMetricsPlugin{}
	_, ok := plugin.Metric("not_a_real_metric", sampleOutput(1))
	assert.False(t, ok)
}

func TestMetricsPluginRegistryResolvesBuiltin(t *testing.T) {
	reg := NewMetricsPluginRegistry()
	plugin, err := reg.Resolve(BuiltinMetricsPluginName, config.PluginConfig{})
	assert.NoError(t, err)
	assert.Equal(t, BuiltinMetricsPluginName, plugin.Name())
}
