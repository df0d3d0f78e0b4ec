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

package config

import (
	"testing"
	"time"

	"fortio.org/assert"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	var s LoadSpec
	s.Normalize()
	assert.Equal(t, uint(DefaultRequestsPerSecond), s.RequestsPerSecond)
	assert.Equal(t, uint(DefaultConnections), s.Connections)
	assert.Equal(t, DefaultDuration, s.Duration)
	assert.Equal(t, ProtocolH1, s.Protocol)
	assert.Equal(t, IdleSpin, s.SequencerIdleStrategy)
	assert.True(t, s.OpenLoop)
}

func TestValidateAggregatesAllProblems(t *testing.T) {
	s := LoadSpec{
		RequestsPerSecond: 0,
		Connections:       0,
		Duration:          time.Millisecond,
		Timeout:           time.Millisecond,
		Protocol:          "H4",
		Concurrency:       "nope",
	}
	err := s.Validate()
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	msg := err.Error()
	for _, want := range []string{"requests_per_second", "connections", "duration", "timeout", "protocol", "concurrency"} {
		assert.True(t, containsSubstr(msg, want), "expected error message to mention %q, got: %s", want, msg)
	}
}

func containsSubstr(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestBurstingEnabledRequiresMoreThanOne(t *testing.T) {
	var s LoadSpec
	s.BurstSize = 0
	assert.False(t, s.BurstingEnabled())
	s.BurstSize = 1
	assert.False(t, s.BurstingEnabled())
	s.BurstSize = 2
	assert.True(t, s.BurstingEnabled())
}

func TestValidateShapeRejectsDurationInTemplate(t *testing.T) {
	a := AdaptiveLoadSessionSpec{
		BaseTrafficTemplate: LoadSpec{Duration: time.Second},
		ConvergenceDeadline: time.Minute,
	}
	err := a.ValidateShape()
	if err == nil {
		t.Fatal("expected error for duration set on base template")
	}
}

func TestValidateShapeRejectsDuplicatePluginNames(t *testing.T) {
	a := AdaptiveLoadSessionSpec{
		ConvergenceDeadline: time.Minute,
		MetricsPluginConfigs: []PluginConfig{
			{FactoryName: "custom"},
			{FactoryName: "custom"},
		},
	}
	err := a.ValidateShape()
	if err == nil {
		t.Fatal("expected error for duplicate metrics plugin names")
	}
	assert.True(t, containsSubstr(err.Error(), "duplicate metrics_plugin_config names"))
}
