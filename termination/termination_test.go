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

package termination

import (
	"testing"
	"time"

	"fortio.org/assert"
)

func TestDurationTerminates(t *testing.T) {
	c := NewChain().Link(NewDuration(100 * time.Millisecond))
	base := time.Now()
	assert.Equal(t, Proceed, c.EvaluateChain(base, nil))
	assert.Equal(t, Proceed, c.EvaluateChain(base.Add(50*time.Millisecond), nil))
	assert.Equal(t, Terminate, c.EvaluateChain(base.Add(150*time.Millisecond), nil))
}

func TestLatching(t *testing.T) {
	c := NewChain().Link(NewDuration(10 * time.Millisecond))
	base := time.Now()
	// The first evaluation starts the Duration's clock.
	assert.Equal(t, Proceed, c.EvaluateChain(base, nil))
	assert.Equal(t, Terminate, c.EvaluateChain(base.Add(20*time.Millisecond), nil))
	assert.True(t, c.IsLatched())
	// Once latched, further calls -- even with counters/time that would
	// otherwise evaluate differently -- return the same status (invariant 6).
	assert.Equal(t, Terminate, c.EvaluateChain(base, nil))
}

func TestCounterThresholdFail(t *testing.T) {
	c := NewChain().Link(NewCounterThreshold("sequencer.failed_terminations", 0, Fail))
	now := time.Now()
	assert.Equal(t, Proceed, c.EvaluateChain(now, MapCounters{"sequencer.failed_terminations": 0}))
	assert.Equal(t, Fail, c.EvaluateChain(now, MapCounters{"sequencer.failed_terminations": 1}))
}

func TestChildFirstShortCircuit(t *testing.T) {
	// Duration set to trigger immediately; CounterThreshold never breached.
	c := NewChain().
		Link(NewDuration(0)).
		Link(NewCounterThreshold("errors", 1000, Fail))
	now := time.Now()
	got := c.EvaluateChain(now.Add(time.Millisecond), MapCounters{"errors": 0})
	assert.Equal(t, Terminate, got)
	assert.Equal(t, "Duration", c.LatchedReason())
}

func TestCancellation(t *testing.T) {
	var cancel Cancellation
	c := NewChain().Link(&cancel)
	now := time.Now()
	assert.Equal(t, Proceed, c.EvaluateChain(now, nil))
	cancel.Request()
	// The PROCEED above did not latch (only non-PROCEED results are kept),
	// so re-evaluation now observes FAIL.
	assert.Equal(t, Fail, c.EvaluateChain(now, nil))
}
